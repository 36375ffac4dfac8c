package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ataxco/contentforge/internal/data/repos"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/platform/logger"
)

type fakeJobRepo struct {
	jobs map[uuid.UUID]*domain.Job
}

var _ repos.JobRepo = (*fakeJobRepo)(nil)

func (f *fakeJobRepo) Create(_ dbctx.Context, job *domain.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	f.jobs[job.ID] = job
	return nil
}
func (f *fakeJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.Job, error) {
	return f.jobs[id], nil
}
func (f *fakeJobRepo) ClaimNextRunnable(dbctx.Context, time.Duration, time.Duration) (*domain.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]any) error {
	job, ok := f.jobs[id]
	if !ok {
		return nil
	}
	applyUpdates(job, updates)
	return nil
}
func (f *fakeJobRepo) UpdateFieldsUnlessStatus(_ dbctx.Context, id uuid.UUID, disallowed []domain.JobStatus, updates map[string]any) (bool, error) {
	job, ok := f.jobs[id]
	if !ok {
		return false, nil
	}
	for _, d := range disallowed {
		if job.Status == d {
			return false, nil
		}
	}
	applyUpdates(job, updates)
	return true, nil
}
func applyUpdates(job *domain.Job, updates map[string]any) {
	if status, ok := updates["status"].(domain.JobStatus); ok {
		job.Status = status
	}
	if msg, ok := updates["error_message"].(string); ok {
		job.ErrorMessage = msg
	}
}
func (f *fakeJobRepo) ActiveCountForEpisode(dbctx.Context, uuid.UUID) (int64, error) { return 0, nil }
func (f *fakeJobRepo) ListActiveForEpisode(dbctx.Context, uuid.UUID) ([]*domain.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) ListRunnableOlderThan(dbctx.Context, time.Duration) ([]*domain.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) ListActive(dbctx.Context) ([]*domain.Job, error) { return nil, nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func TestNew_DecodesInputParamsEagerly(t *testing.T) {
	job := &domain.Job{ID: uuid.New(), InputParams: []byte(`{"force":true}`)}
	c := New(context.Background(), job, &fakeJobRepo{jobs: map[uuid.UUID]*domain.Job{}}, testLogger(t))
	require.Equal(t, true, c.Params()["force"])
}

func TestNew_EmptyInputParamsYieldsEmptyMap(t *testing.T) {
	job := &domain.Job{ID: uuid.New()}
	c := New(context.Background(), job, &fakeJobRepo{jobs: map[uuid.UUID]*domain.Job{}}, testLogger(t))
	require.Empty(t, c.Params())
}

func TestSucceed_SetsCompletedStatusAndResult(t *testing.T) {
	jobs := &fakeJobRepo{jobs: map[uuid.UUID]*domain.Job{}}
	job := &domain.Job{ID: uuid.New()}
	jobs.jobs[job.ID] = job
	c := New(context.Background(), job, jobs, testLogger(t))

	err := c.Succeed(map[string]any{"ok": true}, 0.02, 40)
	require.NoError(t, err)
	require.Equal(t, domain.JobCompleted, job.Status)
	require.Equal(t, 0.02, job.CostUSD)
	require.Equal(t, 40, job.TokensUsed)
	require.NotNil(t, job.CompletedAt)
}

func TestFail_TagsKindInErrorMessage(t *testing.T) {
	jobs := &fakeJobRepo{jobs: map[uuid.UUID]*domain.Job{}}
	job := &domain.Job{ID: uuid.New()}
	jobs.jobs[job.ID] = job
	c := New(context.Background(), job, jobs, testLogger(t))

	err := c.Fail("pipeline", "stage blew up")
	require.NoError(t, err)
	require.Equal(t, domain.JobFailed, job.Status)
	require.Equal(t, "pipeline: stage blew up", job.ErrorMessage)
}

func TestCancelled_ReportsTrueWhenRowMarkedCancelled(t *testing.T) {
	jobs := &fakeJobRepo{jobs: map[uuid.UUID]*domain.Job{}}
	job := &domain.Job{ID: uuid.New(), Status: domain.JobCancelled}
	jobs.jobs[job.ID] = job
	c := New(context.Background(), job, jobs, testLogger(t))

	cancelled, err := c.Cancelled()
	require.NoError(t, err)
	require.True(t, cancelled)
}

func TestCancelled_FalseWhileRunning(t *testing.T) {
	jobs := &fakeJobRepo{jobs: map[uuid.UUID]*domain.Job{}}
	job := &domain.Job{ID: uuid.New(), Status: domain.JobRunning}
	jobs.jobs[job.ID] = job
	c := New(context.Background(), job, jobs, testLogger(t))

	cancelled, err := c.Cancelled()
	require.NoError(t, err)
	require.False(t, cancelled)
}

func TestUpdate_NoopOnZeroJob(t *testing.T) {
	c := &Context{Ctx: context.Background(), Job: &domain.Job{}, Jobs: &fakeJobRepo{jobs: map[uuid.UUID]*domain.Job{}}}
	ok, err := c.Update(map[string]any{"status": domain.JobRunning})
	require.NoError(t, err)
	require.False(t, ok)
}
