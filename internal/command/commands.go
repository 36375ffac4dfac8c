// Package command is the core's external interface surface:
// episode.trigger, episode.advance, episode.run_stage_1, episode.run_full,
// episode.run_from_stage, episode.cancel, episode.pipeline_status,
// job.cancel, job.retry. It is the one place both the HTTP layer and the
// CLI call into, so the two surfaces can never drift in behavior.
package command

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/data/repos"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/jobs/orchestrator"
	"github.com/ataxco/contentforge/internal/jobs/taskqueue"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/platform/logger"
)

type Service struct {
	Episodes repos.EpisodeRepo
	Jobs     repos.JobRepo
	// Queue, when set, receives best-effort revoke marks for the
	// external_task_id of every job episode.cancel tears down.
	Queue taskqueue.Observer
	Log   *logger.Logger
}

func New(episodes repos.EpisodeRepo, jobs repos.JobRepo, log *logger.Logger) *Service {
	return &Service{Episodes: episodes, Jobs: jobs, Log: log.With("component", "command.Service")}
}

// Trigger dispatches a single stage as a standalone job, bypassing the
// orchestrator chain. Force allows re-running a stage the episode has
// already completed.
func (s *Service) Trigger(dc dbctx.Context, episodeID uuid.UUID, stage domain.StageName, force bool) (*domain.Job, error) {
	ep, err := s.mustEpisode(dc, episodeID)
	if err != nil {
		return nil, err
	}
	pre := stage.Precondition()
	result, advances := stage.ResultStatus()
	if ep.Status != pre && !(force && advances && ep.Status == result) {
		return nil, corerr.New(corerr.KindPipeline, "episode status "+string(ep.Status)+" does not satisfy "+string(stage)+"'s precondition "+string(pre))
	}
	if err := s.ensureNoActiveJobs(dc, episodeID); err != nil {
		return nil, err
	}
	job := &domain.Job{EpisodeID: episodeID, Stage: string(stage), Status: domain.JobQueued, MaxRetries: 3}
	if force {
		job.InputParams = []byte(`{"force":true}`)
	}
	if err := s.Jobs.Create(dc, job); err != nil {
		return nil, corerr.Wrap(corerr.KindStorageError, "create job", err)
	}
	return job, nil
}

// Advance dispatches whatever stage is next for the episode's current
// status, per the canonical chain's precondition table. It is the
// operator-facing continuation button used when auto_advance is false
// and an episode is parked at script_review.
func (s *Service) Advance(dc dbctx.Context, episodeID uuid.UUID) (*domain.Job, error) {
	ep, err := s.mustEpisode(dc, episodeID)
	if err != nil {
		return nil, err
	}
	state, err := domain.DecodePipelineState(ep.PipelineState)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "decode pipeline_state", err)
	}
	// metadata and audio share the script_review precondition; skipping
	// completed stages makes advance() pick whichever is still pending.
	var next domain.StageName
	found := false
	for _, st := range domain.CanonicalChain {
		if st.Precondition() == ep.Status && !state.HasCompleted(st) {
			next = st
			found = true
			break
		}
	}
	if !found {
		return nil, corerr.New(corerr.KindPipeline, "no stage is runnable from status "+string(ep.Status))
	}
	return s.Trigger(dc, episodeID, next, false)
}

// RunStage1 creates the stage_1_pipeline tracking job: planning,
// scripting, metadata, stopping at script_review for review.
func (s *Service) RunStage1(dc dbctx.Context, episodeID uuid.UUID) (*domain.Job, error) {
	if _, err := s.entryPointEpisode(dc, episodeID); err != nil {
		return nil, err
	}
	return s.createTracker(dc, episodeID, orchestrator.TrackerStage1Pipeline, nil)
}

// RunFull creates the full_pipeline tracking job: every canonical stage.
func (s *Service) RunFull(dc dbctx.Context, episodeID uuid.UUID) (*domain.Job, error) {
	if _, err := s.entryPointEpisode(dc, episodeID); err != nil {
		return nil, err
	}
	return s.createTracker(dc, episodeID, orchestrator.TrackerFullPipeline, nil)
}

// RunFromStage creates a pipeline_from_<start> tracking job, optionally
// skipping some of the remaining stages. Every stage strictly before
// start must already be completed unless named in skip.
func (s *Service) RunFromStage(dc dbctx.Context, episodeID uuid.UUID, start domain.StageName, skip []domain.StageName) (*domain.Job, error) {
	ep, err := s.entryPointEpisode(dc, episodeID)
	if err != nil {
		return nil, err
	}
	skipSet := toSkipSet(skip)
	if _, err := orchestrator.FromStageChain(start, skipSet); err != nil {
		return nil, err
	}
	state, err := domain.DecodePipelineState(ep.PipelineState)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "decode pipeline_state", err)
	}
	for _, st := range domain.CanonicalChain {
		if st == start {
			break
		}
		if !skipSet[st] && !state.HasCompleted(st) {
			return nil, corerr.New(corerr.KindValidation, "stage "+string(st)+" has not completed; cannot start from "+string(start))
		}
	}
	var params []byte
	if len(skip) > 0 {
		strs := make([]string, len(skip))
		for i, s := range skip {
			strs[i] = string(s)
		}
		b, err := json.Marshal(map[string]any{"skip": strs})
		if err != nil {
			return nil, corerr.Wrap(corerr.KindInternal, "encode skip list", err)
		}
		params = b
	}
	return s.createTracker(dc, episodeID, orchestrator.JobStageFromStageName(start), params)
}

func (s *Service) createTracker(dc dbctx.Context, episodeID uuid.UUID, jobType string, inputParams []byte) (*domain.Job, error) {
	job := &domain.Job{EpisodeID: episodeID, Stage: jobType, Status: domain.JobQueued, MaxRetries: 3, InputParams: inputParams}
	if err := s.Jobs.Create(dc, job); err != nil {
		return nil, corerr.Wrap(corerr.KindStorageError, "create tracking job", err)
	}
	return job, nil
}

// Cancel marks the episode cancelled and cancels every active job
// belonging to it, returning how many jobs it actually tore down.
// Cancelling an already-cancelled episode is a no-op success with a zero
// count, so callers can cancel without first checking state.
func (s *Service) Cancel(dc dbctx.Context, episodeID uuid.UUID) (int, error) {
	ep, err := s.mustEpisode(dc, episodeID)
	if err != nil {
		return 0, err
	}
	if ep.Status == domain.EpisodeCancelled {
		return 0, nil
	}
	if ep.Status.IsTerminal() {
		return 0, corerr.New(corerr.KindConflict, "episode is already in a terminal state")
	}
	active, err := s.Jobs.ListActiveForEpisode(dc, episodeID)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindStorageError, "list active jobs", err)
	}
	now := time.Now()
	cancelled := 0
	for _, j := range active {
		ok, err := s.Jobs.UpdateFieldsUnlessStatus(dc, j.ID,
			[]domain.JobStatus{domain.JobCompleted, domain.JobFailed, domain.JobCancelled},
			map[string]any{"status": domain.JobCancelled, "completed_at": now})
		if err != nil {
			return cancelled, corerr.Wrap(corerr.KindStorageError, "cancel job", err)
		}
		if !ok {
			continue
		}
		cancelled++
		if s.Queue != nil && j.ExternalTaskID != "" {
			// Best effort: a dead queue must not block the cancel.
			if err := s.Queue.Set(dc.Ctx, j.ExternalTaskID, taskqueue.TaskState{State: "revoked", UpdatedAt: now}, 24*time.Hour); err != nil {
				s.Log.Warn("revoke mark failed", "job_id", j.ID, "external_task_id", j.ExternalTaskID, "error", err)
			}
		}
	}
	if err := s.Episodes.UpdateFields(dc, episodeID, map[string]any{"status": domain.EpisodeCancelled}); err != nil {
		return cancelled, corerr.Wrap(corerr.KindStorageError, "cancel episode", err)
	}
	return cancelled, nil
}

// JobCancel cancels a single job, refusing if it has already reached a
// terminal status.
func (s *Service) JobCancel(dc dbctx.Context, jobID uuid.UUID) error {
	ok, err := s.Jobs.UpdateFieldsUnlessStatus(dc, jobID,
		[]domain.JobStatus{domain.JobCompleted, domain.JobFailed, domain.JobCancelled},
		map[string]any{"status": domain.JobCancelled, "completed_at": time.Now()})
	if err != nil {
		return corerr.Wrap(corerr.KindStorageError, "cancel job", err)
	}
	if !ok {
		return corerr.New(corerr.KindConflict, "job already reached a terminal status")
	}
	return nil
}

// JobRetry resets a failed job back to queued, an operator override
// distinct from ClaimNextRunnable's own automatic failed-and-due retry:
// it ignores the retry backoff delay and fails outright once
// max_retries is exhausted, since at that point only a human decision to
// keep trying is meaningful.
func (s *Service) JobRetry(dc dbctx.Context, jobID uuid.UUID) error {
	job, err := s.Jobs.GetByID(dc, jobID)
	if err != nil {
		return corerr.Wrap(corerr.KindStorageError, "load job", err)
	}
	if job == nil {
		return corerr.New(corerr.KindNotFound, "job not found")
	}
	if job.Status != domain.JobFailed {
		return corerr.New(corerr.KindConflict, "only a failed job can be retried")
	}
	if job.RetryCount >= job.MaxRetries {
		return corerr.New(corerr.KindValidation, "job has exhausted its retry budget")
	}
	return s.Jobs.UpdateFields(dc, jobID, map[string]any{
		"status": domain.JobQueued, "retry_count": job.RetryCount + 1, "error_message": "", "started_at": nil, "completed_at": nil,
	})
}

// Progress summarizes how far the canonical chain has advanced.
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// PipelineStatus is the response shape for episode.pipeline_status.
type PipelineStatus struct {
	Episode       *domain.Episode        `json:"episode"`
	Progress      Progress                `json:"progress"`
	PipelineState domain.PipelineStateMap `json:"pipeline_state"`
	ActiveJobs    []*domain.Job           `json:"active_jobs"`
}

func (s *Service) PipelineStatus(dc dbctx.Context, episodeID uuid.UUID) (*PipelineStatus, error) {
	ep, err := s.mustEpisode(dc, episodeID)
	if err != nil {
		return nil, err
	}
	state, err := domain.DecodePipelineState(ep.PipelineState)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "decode pipeline_state", err)
	}
	active, err := s.Jobs.ListActiveForEpisode(dc, episodeID)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindStorageError, "list active jobs", err)
	}
	progress := Progress{Total: len(domain.CanonicalChain)}
	for _, st := range domain.CanonicalChain {
		if state.HasCompleted(st) {
			progress.Completed++
		}
	}
	if progress.Total > 0 {
		progress.Percent = 100 * float64(progress.Completed) / float64(progress.Total)
	}
	return &PipelineStatus{Episode: ep, Progress: progress, PipelineState: state, ActiveJobs: active}, nil
}

func (s *Service) mustEpisode(dc dbctx.Context, episodeID uuid.UUID) (*domain.Episode, error) {
	ep, err := s.Episodes.GetByID(dc, episodeID)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindStorageError, "load episode", err)
	}
	if ep == nil {
		return nil, corerr.New(corerr.KindNotFound, "episode not found")
	}
	return ep, nil
}

// entryPointEpisode guards the three pipeline entry points: the episode
// must be at idea or parked in failed/cancelled, with no job already
// queued or running.
func (s *Service) entryPointEpisode(dc dbctx.Context, episodeID uuid.UUID) (*domain.Episode, error) {
	ep, err := s.mustEpisode(dc, episodeID)
	if err != nil {
		return nil, err
	}
	switch ep.Status {
	case domain.EpisodeIdea, domain.EpisodeFailed, domain.EpisodeCancelled:
	default:
		return nil, corerr.New(corerr.KindValidation, "episode status "+string(ep.Status)+" cannot start a pipeline run")
	}
	if err := s.ensureNoActiveJobs(dc, episodeID); err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *Service) ensureNoActiveJobs(dc dbctx.Context, episodeID uuid.UUID) error {
	count, err := s.Jobs.ActiveCountForEpisode(dc, episodeID)
	if err != nil {
		return corerr.Wrap(corerr.KindStorageError, "count active jobs", err)
	}
	if count > 0 {
		return corerr.New(corerr.KindConflict, "active job in progress")
	}
	return nil
}

func toSkipSet(skip []domain.StageName) map[domain.StageName]bool {
	out := map[domain.StageName]bool{}
	for _, s := range skip {
		out[s] = true
	}
	return out
}
