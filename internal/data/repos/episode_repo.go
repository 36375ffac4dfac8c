package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
)

type EpisodeRepo interface {
	Create(dc dbctx.Context, ep *domain.Episode) error
	GetByID(dc dbctx.Context, id uuid.UUID) (*domain.Episode, error)
	UpdateFields(dc dbctx.Context, id uuid.UUID, updates map[string]any) error
	// CompareAndSwapStatus updates Status only if the row's current status
	// still equals expected, guarding the lifecycle invariant under
	// concurrent writers without taking an explicit lock.
	CompareAndSwapStatus(dc dbctx.Context, id uuid.UUID, expected, next domain.EpisodeStatus) (bool, error)
	ListStalledSinceWithNoActiveJob(dc dbctx.Context, since time.Duration, jobs JobRepo) ([]*domain.Episode, error)
}

type episodeRepo struct {
	db *gorm.DB
}

func NewEpisodeRepo(db *gorm.DB) EpisodeRepo {
	return &episodeRepo{db: db}
}

func (r *episodeRepo) resolve(dc dbctx.Context) *gorm.DB {
	return dc.Resolve(r.db)
}

func (r *episodeRepo) Create(dc dbctx.Context, ep *domain.Episode) error {
	return r.resolve(dc).Create(ep).Error
}

func (r *episodeRepo) GetByID(dc dbctx.Context, id uuid.UUID) (*domain.Episode, error) {
	var ep domain.Episode
	if err := r.resolve(dc).Where("id = ?", id).First(&ep).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ep, nil
}

func (r *episodeRepo) UpdateFields(dc dbctx.Context, id uuid.UUID, updates map[string]any) error {
	if updates == nil {
		updates = map[string]any{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.resolve(dc).Model(&domain.Episode{}).Where("id = ?", id).Updates(updates).Error
}

func (r *episodeRepo) CompareAndSwapStatus(dc dbctx.Context, id uuid.UUID, expected, next domain.EpisodeStatus) (bool, error) {
	res := r.resolve(dc).Model(&domain.Episode{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]any{"status": next, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListStalledSinceWithNoActiveJob finds episodes in a non-terminal,
// non-script_review status whose pipeline_state has not been touched in
// `since` and which have no queued/running job — the orchestrator tracker
// itself died, a condition distinct from a single orphaned Job.
func (r *episodeRepo) ListStalledSinceWithNoActiveJob(dc dbctx.Context, since time.Duration, jobs JobRepo) ([]*domain.Episode, error) {
	cutoff := time.Now().Add(-since)
	terminal := []domain.EpisodeStatus{
		domain.EpisodeFailed, domain.EpisodeCancelled, domain.EpisodePublished, domain.EpisodeScriptReview,
	}
	var candidates []*domain.Episode
	if err := r.resolve(dc).
		Where("status NOT IN ? AND updated_at < ?", terminal, cutoff).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	var stalled []*domain.Episode
	for _, ep := range candidates {
		count, err := jobs.ActiveCountForEpisode(dc, ep.ID)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			stalled = append(stalled, ep)
		}
	}
	return stalled, nil
}
