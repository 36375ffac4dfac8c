package stages

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/ataxco/contentforge/internal/data/repos"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/platform/logger"
	"github.com/ataxco/contentforge/internal/providers"
	"github.com/ataxco/contentforge/internal/storage"
)

// fakeEpisodeRepo is a map-backed stand-in, following the convention
// established in internal/command's test fakes.
type fakeEpisodeRepo struct {
	episodes map[uuid.UUID]*domain.Episode
}

var _ repos.EpisodeRepo = (*fakeEpisodeRepo)(nil)

func newFakeEpisodeRepo(ep *domain.Episode) *fakeEpisodeRepo {
	return &fakeEpisodeRepo{episodes: map[uuid.UUID]*domain.Episode{ep.ID: ep}}
}

func (f *fakeEpisodeRepo) Create(dbctx.Context, *domain.Episode) error { return nil }

func (f *fakeEpisodeRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.Episode, error) {
	return f.episodes[id], nil
}

func (f *fakeEpisodeRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]any) error {
	ep, ok := f.episodes[id]
	if !ok {
		return nil
	}
	if v, ok := updates["pipeline_state"].(datatypes.JSON); ok {
		ep.PipelineState = v
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

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func newJC(t *testing.T, ep *domain.Episode, stage domain.StageName) *runtime.Context {
	t.Helper()
	job := &domain.Job{ID: uuid.New(), EpisodeID: ep.ID, Stage: string(stage), Status: domain.JobRunning}
	return runtime.New(context.Background(), job, nil, testLogger(t))
}

func TestRequirePrecondition_SatisfiedIsNotReplay(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodeIdea}
	replay, err := requirePrecondition(ep, domain.StagePlanning)
	require.NoError(t, err)
	require.False(t, replay)
}

func TestRequirePrecondition_AlreadyAtResultStatusIsReplay(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodePlanning}
	replay, err := requirePrecondition(ep, domain.StagePlanning)
	require.NoError(t, err)
	require.True(t, replay, "episode already past planning means this is a forced re-run")
}

func TestRequirePrecondition_WrongStatusIsPipelineError(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodeAudio}
	_, err := requirePrecondition(ep, domain.StagePlanning)
	require.Error(t, err)
}

func TestKey_ContentAddressedLayout(t *testing.T) {
	key := storage.Key("ep-1", string(domain.AssetScript), 2, "md")
	require.Equal(t, "episodes/ep-1/script_v2.md", key)
}

func TestCompleteStage_AdvancesStatusAndRecordsAttempt(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodeIdea}
	episodes := newFakeEpisodeRepo(ep)
	d := &Deps{Episodes: episodes}
	jc := newJC(t, ep, domain.StagePlanning)

	err := d.completeStage(jc, ep, domain.StagePlanning, false, nil, providers.Usage{}, nil)
	require.NoError(t, err)
	require.Equal(t, domain.EpisodePlanning, ep.Status)

	state, err := domain.DecodePipelineState(ep.PipelineState)
	require.NoError(t, err)
	require.Equal(t, domain.StageCompleted, state[domain.StagePlanning].Status)
	require.Equal(t, 1, state[domain.StagePlanning].Attempts)
}

func TestCompleteStage_ReplayLeavesStatusUnchanged(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodeScriptReview}
	episodes := newFakeEpisodeRepo(ep)
	d := &Deps{Episodes: episodes}
	jc := newJC(t, ep, domain.StagePlanning)

	err := d.completeStage(jc, ep, domain.StagePlanning, true, nil, providers.Usage{}, nil)
	require.NoError(t, err)
	require.Equal(t, domain.EpisodeScriptReview, ep.Status, "a forced replay must not re-advance episode status")
}

func TestCompleteStage_MetadataNeverAdvancesStatus(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodeScriptReview}
	episodes := newFakeEpisodeRepo(ep)
	d := &Deps{Episodes: episodes}
	jc := newJC(t, ep, domain.StageMetadata)

	err := d.completeStage(jc, ep, domain.StageMetadata, false, nil, providers.Usage{}, nil)
	require.NoError(t, err)
	require.Equal(t, domain.EpisodeScriptReview, ep.Status, "metadata is the deliberate exception: it never advances episode.status")

	state, err := domain.DecodePipelineState(ep.PipelineState)
	require.NoError(t, err)
	require.Equal(t, domain.StageCompleted, state[domain.StageMetadata].Status)
}

func TestCompleteStage_AttemptsIncrementAcrossRuns(t *testing.T) {
	ep := &domain.Episode{ID: uuid.New(), Status: domain.EpisodeIdea}
	episodes := newFakeEpisodeRepo(ep)
	d := &Deps{Episodes: episodes}

	jc1 := newJC(t, ep, domain.StagePlanning)
	require.NoError(t, d.completeStage(jc1, ep, domain.StagePlanning, false, nil, providers.Usage{}, nil))

	jc2 := newJC(t, ep, domain.StagePlanning)
	require.NoError(t, d.completeStage(jc2, ep, domain.StagePlanning, true, nil, providers.Usage{}, nil))

	state, err := domain.DecodePipelineState(ep.PipelineState)
	require.NoError(t, err)
	require.Equal(t, 2, state[domain.StagePlanning].Attempts)
}
