package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ataxco/contentforge/internal/domain"
)

func SeedChannel(tb testing.TB, ctx context.Context, tx *gorm.DB, slug string) *domain.Channel {
	tb.Helper()
	ch := &domain.Channel{ID: uuid.New(), Slug: slug}
	if err := tx.WithContext(ctx).Create(ch).Error; err != nil {
		tb.Fatalf("seed channel: %v", err)
	}
	return ch
}

func SeedEpisode(tb testing.TB, ctx context.Context, tx *gorm.DB, channelID uuid.UUID, status domain.EpisodeStatus) *domain.Episode {
	tb.Helper()
	ep := &domain.Episode{
		ID:        uuid.New(),
		ChannelID: channelID,
		Status:    status,
	}
	if err := tx.WithContext(ctx).Create(ep).Error; err != nil {
		tb.Fatalf("seed episode: %v", err)
	}
	return ep
}

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, episodeID uuid.UUID, stage string, status domain.JobStatus) *domain.Job {
	tb.Helper()
	job := &domain.Job{
		ID:         uuid.New(),
		EpisodeID:  episodeID,
		Stage:      stage,
		Status:     status,
		MaxRetries: 3,
	}
	if err := tx.WithContext(ctx).Create(job).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return job
}
