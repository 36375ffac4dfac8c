// Package supervisor is the job supervisor: a robfig/cron-scheduled
// background process, separate from the worker pool, that reconciles the
// relational job queue against the async task queue's own view and
// recovers episodes whose orchestrator tracker died outright.
package supervisor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ataxco/contentforge/internal/data/repos"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/jobs/orchestrator"
	"github.com/ataxco/contentforge/internal/jobs/taskqueue"
	"github.com/ataxco/contentforge/internal/platform/config"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/platform/logger"
)

type Supervisor struct {
	Episodes repos.EpisodeRepo
	Jobs     repos.JobRepo
	Observer taskqueue.Observer
	Log      *logger.Logger
	Cfg      config.SupervisorConfig

	cron *cron.Cron
}

func New(episodes repos.EpisodeRepo, jobs repos.JobRepo, observer taskqueue.Observer, log *logger.Logger, cfg config.SupervisorConfig) *Supervisor {
	return &Supervisor{
		Episodes: episodes,
		Jobs:     jobs,
		Observer: observer,
		Log:      log.With("component", "Supervisor"),
		Cfg:      cfg,
	}
}

// Start schedules the reaper and state synchroniser on their configured
// cron expressions and begins running them in the background.
func (s *Supervisor) Start(ctx context.Context) error {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(s.Cfg.ReaperCron, func() {
		s.ReapOrphans(ctx)
		s.ReapStalledEpisodes(ctx)
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc(s.Cfg.SyncCron, func() {
		s.SyncState(ctx)
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.Log.Info("supervisor started", "reaper_cron", s.Cfg.ReaperCron, "sync_cron", s.Cfg.SyncCron)
	return nil
}

func (s *Supervisor) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Supervisor) isActiveState(state string) bool {
	for _, st := range s.Cfg.ActiveTaskStates {
		if st == state {
			return true
		}
	}
	return false
}

// ReapOrphans finds queued/running jobs older than OrphanThreshold whose
// external_task_id the queue no longer reports as active — the record is
// gone entirely, or parked in a non-active state — and cancels them with
// an "orphaned" marker. A job with no external_task_id yet is backlog,
// not an orphan: it is still claimable from the database queue.
func (s *Supervisor) ReapOrphans(ctx context.Context) {
	dc := dbctx.Context{Ctx: ctx}
	jobs, err := s.Jobs.ListRunnableOlderThan(dc, s.Cfg.OrphanThreshold)
	if err != nil {
		s.Log.Warn("reap orphans: list stale jobs", "error", err)
		return
	}
	now := time.Now()
	for _, job := range jobs {
		if job.ExternalTaskID == "" {
			continue
		}
		state, ok, err := s.Observer.Get(ctx, job.ExternalTaskID)
		if err != nil {
			s.Log.Warn("reap orphans: observer get", "job_id", job.ID, "error", err)
			continue
		}
		if ok && s.isActiveState(state.State) {
			continue
		}
		s.Log.Warn("reaping orphaned job", "job_id", job.ID, "stage", job.Stage, "external_task_id", job.ExternalTaskID, "queue_state", state.State)
		if _, err := s.Jobs.UpdateFieldsUnlessStatus(dc, job.ID,
			[]domain.JobStatus{domain.JobCompleted, domain.JobCancelled},
			map[string]any{"status": domain.JobCancelled, "error_message": "orphaned", "completed_at": now}); err != nil {
			s.Log.Warn("reap orphans: update job", "job_id", job.ID, "error", err)
		}
	}
}

// SyncState reconciles a running job's status against the queue's view
// when the two have diverged (the queue already reports failure/success
// the database hasn't recorded yet), without waiting for OrphanThreshold.
func (s *Supervisor) SyncState(ctx context.Context) {
	dc := dbctx.Context{Ctx: ctx}
	jobs, err := s.Jobs.ListActive(dc)
	if err != nil {
		s.Log.Warn("sync state: list active jobs", "error", err)
		return
	}
	for _, job := range jobs {
		if job.ExternalTaskID == "" || job.Status != domain.JobRunning {
			continue
		}
		state, ok, err := s.Observer.Get(ctx, job.ExternalTaskID)
		if err != nil || !ok {
			continue
		}
		switch state.State {
		case "success":
			// The queue finished but the executor's commit never landed.
			// No automatic healing: an operator has to decide whether the
			// stage's artifacts actually exist.
			s.Log.Warn("queue reports success for a job still running in the database",
				"job_id", job.ID, "stage", job.Stage, "external_task_id", job.ExternalTaskID)
		case "failed":
			if _, err := s.Jobs.UpdateFieldsUnlessStatus(dc, job.ID,
				[]domain.JobStatus{domain.JobCompleted, domain.JobCancelled},
				map[string]any{"status": domain.JobFailed, "error_message": "external_service: queue reported failure"}); err != nil {
				s.Log.Warn("sync state: update job", "job_id", job.ID, "error", err)
			}
		case "revoked":
			if _, err := s.Jobs.UpdateFieldsUnlessStatus(dc, job.ID,
				[]domain.JobStatus{domain.JobCompleted, domain.JobCancelled},
				map[string]any{"status": domain.JobCancelled, "error_message": "revoked", "completed_at": time.Now()}); err != nil {
				s.Log.Warn("sync state: update job", "job_id", job.ID, "error", err)
			}
		}
	}
}

// ReapStalledEpisodes re-dispatches a fresh tracking job for any episode
// whose orchestrator tracker died with no trace (no active Job row at
// all).
func (s *Supervisor) ReapStalledEpisodes(ctx context.Context) {
	dc := dbctx.Context{Ctx: ctx}
	stalled, err := s.Episodes.ListStalledSinceWithNoActiveJob(dc, s.Cfg.OrphanThreshold, s.Jobs)
	if err != nil {
		s.Log.Warn("reap stalled episodes: list", "error", err)
		return
	}
	for _, ep := range stalled {
		stage, ok := nextStageForStatus(ep.Status)
		if !ok {
			continue
		}
		job := &domain.Job{
			EpisodeID:  ep.ID,
			Stage:      orchestrator.JobStageFromStageName(stage),
			Status:     domain.JobQueued,
			MaxRetries: 3,
		}
		if err := s.Jobs.Create(dc, job); err != nil {
			s.Log.Warn("reap stalled episodes: create tracker", "episode_id", ep.ID, "error", err)
			continue
		}
		s.Log.Info("resumed stalled episode", "episode_id", ep.ID, "from_stage", stage, "tracker_job_id", job.ID)
	}
}

// nextStageForStatus maps an episode's current status to the stage that
// would run next in the canonical chain, by finding the stage whose
// declared Precondition equals that status.
func nextStageForStatus(status domain.EpisodeStatus) (domain.StageName, bool) {
	for _, s := range domain.CanonicalChain {
		if s.Precondition() == status {
			return s, true
		}
	}
	return "", false
}
