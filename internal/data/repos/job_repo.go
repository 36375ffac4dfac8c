// Package repos holds the relational-store access layer. JobRepo's claim
// discipline: a SELECT ... FOR UPDATE SKIP LOCKED claim over a three-way
// runnable predicate (queued / retry-eligible failed / stale running),
// and UpdateFieldsUnlessStatus to guarantee a cancelled job's row is
// never clobbered by a worker that hasn't noticed yet.
package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/platform/logger"
)

type JobRepo interface {
	Create(dc dbctx.Context, job *domain.Job) error
	GetByID(dc dbctx.Context, id uuid.UUID) (*domain.Job, error)
	ClaimNextRunnable(dc dbctx.Context, retryDelay, staleRunning time.Duration) (*domain.Job, error)
	UpdateFields(dc dbctx.Context, id uuid.UUID, updates map[string]any) error
	UpdateFieldsUnlessStatus(dc dbctx.Context, id uuid.UUID, disallowed []domain.JobStatus, updates map[string]any) (bool, error)
	ActiveCountForEpisode(dc dbctx.Context, episodeID uuid.UUID) (int64, error)
	ListActiveForEpisode(dc dbctx.Context, episodeID uuid.UUID) ([]*domain.Job, error)
	ListRunnableOlderThan(dc dbctx.Context, age time.Duration) ([]*domain.Job, error)
	ListActive(dc dbctx.Context) ([]*domain.Job, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, log *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: log.With("repo", "JobRepo")}
}

func (r *jobRepo) resolve(dc dbctx.Context) *gorm.DB {
	return dc.Resolve(r.db)
}

func (r *jobRepo) Create(dc dbctx.Context, job *domain.Job) error {
	return r.resolve(dc).Create(job).Error
}

func (r *jobRepo) GetByID(dc dbctx.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	if err := r.resolve(dc).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// ClaimNextRunnable claims one queued/retry-eligible/stale-running job
// atomically under FOR UPDATE SKIP LOCKED, ordered oldest first.
func (r *jobRepo) ClaimNextRunnable(dc dbctx.Context, retryDelay, staleRunning time.Duration) (*domain.Job, error) {
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)

	var claimed *domain.Job
	err := r.resolve(dc).Transaction(func(tx *gorm.DB) error {
		var job domain.Job
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
				  status = ?
				  OR (
				    status = ?
				    AND retry_count < max_retries
				    AND updated_at < ?
				  )
				  OR (
				    status = ?
				    AND started_at IS NOT NULL
				    AND started_at < ?
				  )
				)
			`, domain.JobQueued, domain.JobFailed, retryCutoff, domain.JobRunning, staleCutoff).
			Order("created_at ASC")
		if err := q.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		updates := map[string]any{
			"status":     domain.JobRunning,
			"started_at": now,
			"updated_at": now,
		}
		if err := tx.Model(&domain.Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
			return err
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) UpdateFields(dc dbctx.Context, id uuid.UUID, updates map[string]any) error {
	if updates == nil {
		updates = map[string]any{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.resolve(dc).Model(&domain.Job{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateFieldsUnlessStatus applies updates unless the row is already in
// one of disallowed; returns whether a row was actually updated, so a
// caller can detect "already cancelled, my write was a no-op".
func (r *jobRepo) UpdateFieldsUnlessStatus(dc dbctx.Context, id uuid.UUID, disallowed []domain.JobStatus, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := r.resolve(dc).Model(&domain.Job{}).Where("id = ?", id)
	if len(disallowed) > 0 {
		q = q.Where("status NOT IN ?", disallowed)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) ActiveCountForEpisode(dc dbctx.Context, episodeID uuid.UUID) (int64, error) {
	var count int64
	err := r.resolve(dc).Model(&domain.Job{}).
		Where("episode_id = ? AND status IN ?", episodeID, []domain.JobStatus{domain.JobQueued, domain.JobRunning}).
		Count(&count).Error
	return count, err
}

func (r *jobRepo) ListActiveForEpisode(dc dbctx.Context, episodeID uuid.UUID) ([]*domain.Job, error) {
	var jobs []*domain.Job
	err := r.resolve(dc).
		Where("episode_id = ? AND status IN ?", episodeID, []domain.JobStatus{domain.JobQueued, domain.JobRunning}).
		Find(&jobs).Error
	return jobs, err
}

func (r *jobRepo) ListRunnableOlderThan(dc dbctx.Context, age time.Duration) ([]*domain.Job, error) {
	cutoff := time.Now().Add(-age)
	var jobs []*domain.Job
	err := r.resolve(dc).
		Where("status IN ? AND created_at < ?", []domain.JobStatus{domain.JobQueued, domain.JobRunning}, cutoff).
		Find(&jobs).Error
	return jobs, err
}

func (r *jobRepo) ListActive(dc dbctx.Context) ([]*domain.Job, error) {
	var jobs []*domain.Job
	err := r.resolve(dc).
		Where("status IN ?", []domain.JobStatus{domain.JobQueued, domain.JobRunning}).
		Find(&jobs).Error
	return jobs, err
}
