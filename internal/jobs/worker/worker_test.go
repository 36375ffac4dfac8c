package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ataxco/contentforge/internal/data/repos"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/platform/logger"
)

type fakeJobRepo struct {
	jobs map[uuid.UUID]*domain.Job
}

var _ repos.JobRepo = (*fakeJobRepo)(nil)

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{jobs: map[uuid.UUID]*domain.Job{}} }

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

type fakeHandler struct {
	jobType string
	run     func(jc *runtime.Context) error
}

func (h fakeHandler) Type() string { return h.jobType }
func (h fakeHandler) Run(jc *runtime.Context) error { return h.run(jc) }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func newJC(t *testing.T, jobs repos.JobRepo) *runtime.Context {
	t.Helper()
	job := &domain.Job{ID: uuid.New(), Stage: "planning", Status: domain.JobRunning}
	jobs.Create(dbctx.Context{Ctx: context.Background()}, job)
	return runtime.New(context.Background(), job, jobs, testLogger(t))
}

func TestRunOne_HandlerReturningErrorFailsJobWithInternalKind(t *testing.T) {
	jobs := newFakeJobRepo()
	jc := newJC(t, jobs)
	w := &Worker{log: testLogger(t)}

	h := fakeHandler{jobType: "planning", run: func(*runtime.Context) error {
		return errors.New("boom")
	}}
	w.runOne(jc, h, 1)

	require.Equal(t, domain.JobFailed, jc.Job.Status)
	require.Equal(t, "internal: boom", jc.Job.ErrorMessage)
}

func TestRunOne_HandlerPanicIsRecoveredAndFailsJob(t *testing.T) {
	jobs := newFakeJobRepo()
	jc := newJC(t, jobs)
	w := &Worker{log: testLogger(t)}

	h := fakeHandler{jobType: "planning", run: func(*runtime.Context) error {
		panic("unexpected")
	}}
	require.NotPanics(t, func() { w.runOne(jc, h, 1) })

	require.Equal(t, domain.JobFailed, jc.Job.Status)
	require.Equal(t, "internal: panic during stage execution", jc.Job.ErrorMessage)
}

func TestRunOne_HandlerSuccessLeavesJobUntouchedByWorker(t *testing.T) {
	jobs := newFakeJobRepo()
	jc := newJC(t, jobs)
	w := &Worker{log: testLogger(t)}

	h := fakeHandler{jobType: "planning", run: func(jc *runtime.Context) error {
		return jc.Succeed(nil, 0, 0)
	}}
	w.runOne(jc, h, 1)

	require.Equal(t, domain.JobCompleted, jc.Job.Status)
}

func TestGetEnvInt_FallsBackToDefaultWhenUnset(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY_TEST_UNSET", "")
	require.Equal(t, 7, getEnvInt("WORKER_CONCURRENCY_TEST_UNSET", 7))
}

func TestGetEnvInt_ParsesValidValue(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY_TEST_SET", "12")
	require.Equal(t, 12, getEnvInt("WORKER_CONCURRENCY_TEST_SET", 4))
}

func TestGetEnvInt_FallsBackOnGarbageValue(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY_TEST_GARBAGE", "not-a-number")
	require.Equal(t, 4, getEnvInt("WORKER_CONCURRENCY_TEST_GARBAGE", 4))
}
