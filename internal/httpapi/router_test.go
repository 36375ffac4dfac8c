package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ataxco/contentforge/internal/command"
	"github.com/ataxco/contentforge/internal/data/repos"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/platform/logger"
)

// fakeEpisodeRepo/fakeJobRepo mirror the map-backed fakes used by
// internal/command's own tests: these repo interfaces carry no raw SQL,
// so a hand-written stand-in exercises the HTTP binding end to end
// without a database.

type fakeEpisodeRepo struct {
	episodes map[uuid.UUID]*domain.Episode
}

var _ repos.EpisodeRepo = (*fakeEpisodeRepo)(nil)

func (f *fakeEpisodeRepo) Create(dbctx.Context, *domain.Episode) error { return nil }
func (f *fakeEpisodeRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.Episode, error) {
	return f.episodes[id], nil
}
func (f *fakeEpisodeRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]any) error {
	ep, ok := f.episodes[id]
	if !ok {
		return nil
	}
	if status, ok := updates["status"].(domain.EpisodeStatus); ok {
		ep.Status = status
	}
	return nil
}
func (f *fakeEpisodeRepo) CompareAndSwapStatus(_ dbctx.Context, id uuid.UUID, expected, next domain.EpisodeStatus) (bool, error) {
	ep, ok := f.episodes[id]
	if !ok || ep.Status != expected {
		return false, nil
	}
	ep.Status = next
	return true, nil
}
func (f *fakeEpisodeRepo) ListStalledSinceWithNoActiveJob(dbctx.Context, time.Duration, repos.JobRepo) ([]*domain.Episode, error) {
	return nil, nil
}

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
}
func (f *fakeJobRepo) ActiveCountForEpisode(_ dbctx.Context, episodeID uuid.UUID) (int64, error) {
	var n int64
	for _, j := range f.jobs {
		if j.EpisodeID == episodeID && !j.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}
func (f *fakeJobRepo) ListActiveForEpisode(_ dbctx.Context, episodeID uuid.UUID) ([]*domain.Job, error) {
	var out []*domain.Job
	for _, j := range f.jobs {
		if j.EpisodeID == episodeID && !j.Status.IsTerminal() {
			out = append(out, j)
		}
	}
	return out, nil
}
func (f *fakeJobRepo) ListRunnableOlderThan(dbctx.Context, time.Duration) ([]*domain.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) ListActive(dbctx.Context) ([]*domain.Job, error) { return nil, nil }

func testRouter(t *testing.T, ep *domain.Episode) (http.Handler, *fakeJobRepo) {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	episodes := &fakeEpisodeRepo{episodes: map[uuid.UUID]*domain.Episode{}}
	if ep != nil {
		episodes.episodes[ep.ID] = ep
	}
	jobs := newFakeJobRepo()
	svc := command.New(episodes, jobs, log)
	return NewRouter(svc, log), jobs
}

func TestHealthz_ReturnsOK(t *testing.T) {
	mux, _ := testRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTrigger_HappyPathReturnsQueuedJob(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodeIdea}
	mux, _ := testRouter(t, ep)

	body := strings.NewReader(`{"stage":"planning"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/episodes/"+ep.ID.String()+"/trigger", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "queued", resp["status"])
}

func TestTrigger_InvalidEpisodeIDIsBadRequest(t *testing.T) {
	mux, _ := testRouter(t, nil)
	body := strings.NewReader(`{"stage":"planning"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/episodes/not-a-uuid/trigger", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrigger_UnknownEpisodeIsNotFound(t *testing.T) {
	mux, _ := testRouter(t, nil)
	body := strings.NewReader(`{"stage":"planning"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/episodes/"+uuid.NewString()+"/trigger", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrigger_WrongPreconditionIsUnprocessable(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodeIdea}
	mux, _ := testRouter(t, ep)

	body := strings.NewReader(`{"stage":"audio"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/episodes/"+ep.ID.String()+"/trigger", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTrigger_MalformedBodyIsBadRequest(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodeIdea}
	mux, _ := testRouter(t, ep)

	req := httptest.NewRequest(http.MethodPost, "/v1/episodes/"+ep.ID.String()+"/trigger", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelEpisode_AlreadyTerminalIsConflict(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodePublished}
	mux, _ := testRouter(t, ep)

	req := httptest.NewRequest(http.MethodPost, "/v1/episodes/"+ep.ID.String()+"/cancel", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelEpisode_ReportsCancelledJobCount(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodeAudio}
	mux, jobs := testRouter(t, ep)
	require.NoError(t, jobs.Create(dbctx.Context{}, &domain.Job{EpisodeID: ep.ID, Status: domain.JobRunning}))

	req := httptest.NewRequest(http.MethodPost, "/v1/episodes/"+ep.ID.String()+"/cancel", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "cancelled", resp["status"])
	require.EqualValues(t, 1, resp["cancelled_job_count"])
}

func TestPipelineStatus_UnknownEpisodeIsNotFound(t *testing.T) {
	mux, _ := testRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/episodes/"+uuid.NewString()+"/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobRetry_UnknownJobIsNotFound(t *testing.T) {
	mux, _ := testRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+uuid.NewString()+"/retry", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunFull_ReturnsTrackerJob(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodeIdea}
	mux, _ := testRouter(t, ep)

	req := httptest.NewRequest(http.MethodPost, "/v1/episodes/"+ep.ID.String()+"/run-full", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
