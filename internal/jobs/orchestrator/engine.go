package orchestrator

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/data/repos"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/platform/httpx"
)

// Stage is one link of a chain this engine walks. Force marks a replay
// of an already-completed stage (trigger(stage, force=true)).
type Stage struct {
	Name  domain.StageName
	Force bool
}

// Engine walks a fixed stage chain for one tracking job, dispatching
// each stage as a child Job the worker pool claims independently.
type Engine struct {
	Jobs         repos.JobRepo
	Episodes     repos.EpisodeRepo
	PollInterval time.Duration
}

func NewEngine(jobs repos.JobRepo, episodes repos.EpisodeRepo) *Engine {
	return &Engine{Jobs: jobs, Episodes: episodes, PollInterval: 2 * time.Second}
}

// errChainCancelled distinguishes "the tracking job itself was cancelled"
// from stage failures: the chain stops quietly instead of failing the
// episode.
var errChainCancelled = errors.New("tracking job cancelled")

// Run walks stages in order against jc's tracking job, blocking this
// worker goroutine until the chain completes, fails, or the tracking job
// is itself cancelled. A crash mid-chain is recovered by the next worker
// that claims the stale tracking job: DecodeState rediscovers already-
// dispatched child job IDs from Job.Result rather than re-dispatching.
func (e *Engine) Run(jc *runtime.Context, stages []Stage) error {
	st, err := DecodeState(jc.Job.Result)
	if err != nil {
		return jc.Fail(string(corerr.KindInternal), "decode orchestrator state: "+err.Error())
	}

	// Stages the episode already completed in an earlier run are not
	// re-dispatched unless the chain explicitly forces a replay.
	completed := domain.PipelineStateMap{}
	if e.Episodes != nil {
		ep, err := e.Episodes.GetByID(dbctx.Context{Ctx: jc.Ctx}, jc.Job.EpisodeID)
		if err != nil {
			return jc.Fail(string(corerr.KindStorageError), "load episode: "+err.Error())
		}
		if ep == nil {
			return jc.Fail(string(corerr.KindNotFound), "episode not found")
		}
		if completed, err = domain.DecodePipelineState(ep.PipelineState); err != nil {
			return jc.Fail(string(corerr.KindInternal), "decode pipeline_state: "+err.Error())
		}
	}

	for _, stage := range stages {
		name := string(stage.Name)
		ss := st.EnsureStage(name)
		if ss.Status == StageSucceeded {
			continue
		}
		if !stage.Force && ss.ChildJobID == "" && completed.HasCompleted(stage.Name) {
			ss.Status = StageSucceeded
			continue
		}

		if ss.ChildJobID == "" {
			if err := e.dispatch(jc, st, stage, ss); err != nil {
				return e.fail(jc, st, ss, err)
			}
		}

		child, err := e.waitForChild(jc, ss)
		if errors.Is(err, errChainCancelled) {
			// episode.cancel owns the tracking job and episode rows now.
			return nil
		}
		if err != nil {
			return e.fail(jc, st, ss, err)
		}
		switch child.Status {
		case domain.JobCompleted:
			now := time.Now()
			ss.Status = StageSucceeded
			ss.FinishedAt = &now
			if err := e.persist(jc, st); err != nil {
				return jc.Fail(string(corerr.KindStorageError), err.Error())
			}
		case domain.JobCancelled:
			return jc.Fail(string(corerr.KindPipeline), "chain cancelled at stage "+name)
		default:
			return e.fail(jc, st, ss, corerr.New(corerr.KindPipeline, "stage "+name+" failed: "+child.ErrorMessage))
		}
	}

	return jc.Succeed(map[string]any{"stages": st.Stages}, 0, 0)
}

func (e *Engine) dispatch(jc *runtime.Context, st *OrchestratorState, stage Stage, ss *StageState) error {
	child := &domain.Job{
		EpisodeID:  jc.Job.EpisodeID,
		Stage:      string(stage.Name),
		Status:     domain.JobQueued,
		MaxRetries: 3,
	}
	if stage.Force {
		child.InputParams = []byte(`{"force":true}`)
	}
	dc := dbctx.Context{Ctx: jc.Ctx}
	if err := e.Jobs.Create(dc, child); err != nil {
		return corerr.Wrap(corerr.KindStorageError, "dispatch child job", err)
	}
	now := time.Now()
	ss.ChildJobID = child.ID.String()
	ss.Status = StageWaitingChild
	ss.StartedAt = &now
	return e.persist(jc, st)
}

// waitForChild polls the dispatched child job until it reaches a
// terminal status, checking this tracking job's own cancellation between
// iterations (the same cooperative checkpoint the provider clients use).
func (e *Engine) waitForChild(jc *runtime.Context, ss *StageState) (*domain.Job, error) {
	dc := dbctx.Context{Ctx: jc.Ctx}
	childID, err := uuid.Parse(ss.ChildJobID)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "parse child job id", err)
	}
	for {
		child, err := e.Jobs.GetByID(dc, childID)
		if err != nil {
			return nil, corerr.Wrap(corerr.KindStorageError, "load child job", err)
		}
		if child == nil {
			return nil, corerr.New(corerr.KindNotFound, "child job disappeared")
		}
		if child.Status.IsTerminal() {
			return child, nil
		}
		cancelled, err := jc.Cancelled()
		if err != nil {
			return nil, corerr.Wrap(corerr.KindStorageError, "check tracking job cancellation", err)
		}
		if cancelled {
			return nil, errChainCancelled
		}
		if err := httpx.Sleep(jc.Ctx, e.interval()); err != nil {
			return nil, corerr.Wrap(corerr.KindPipeline, "cancelled during chain wait", err)
		}
	}
}

func (e *Engine) interval() time.Duration {
	if e.PollInterval <= 0 {
		return 2 * time.Second
	}
	return e.PollInterval
}

func (e *Engine) persist(jc *runtime.Context, st *OrchestratorState) error {
	encoded, err := st.Encode()
	if err != nil {
		return err
	}
	_, err = jc.Update(map[string]any{"result": encoded})
	if err == nil {
		jc.Job.Result = encoded
	}
	return err
}

// fail abandons the chain: the tracking job goes terminal and the
// episode's lifecycle status moves to failed, per the propagation policy
// (a single stage failure only fails the episode once its chain gives up).
func (e *Engine) fail(jc *runtime.Context, st *OrchestratorState, ss *StageState, cause error) error {
	ss.Attempts++
	ss.Status = StageFailed
	ss.LastError = cause.Error()
	_ = e.persist(jc, st)
	// Worker shutdown is not an episode failure: the stale tracking job
	// will be reclaimed and resumed.
	if e.Episodes != nil && jc.Ctx.Err() == nil {
		if err := e.Episodes.UpdateFields(dbctx.Context{Ctx: jc.Ctx}, jc.Job.EpisodeID, map[string]any{
			"status": domain.EpisodeFailed, "last_error": cause.Error(),
		}); err != nil {
			jc.Log.Warn("mark episode failed", "episode_id", jc.Job.EpisodeID, "error", err)
		}
	}
	return jc.Fail(string(corerr.KindOf(cause)), cause.Error())
}
