// Package worker is the execution engine for the SQL-backed job queue: it
// polls JobRepo.ClaimNextRunnable, dispatches claimed jobs to the handler
// registered for their stage, and wraps execution with panic recovery and
// a safety-net failure path. All business logic lives in stage executors
// (runtime.Handler implementations); the worker itself is infrastructure.
package worker

import (
	"context"
	"os"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/ataxco/contentforge/internal/data/repos"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/platform/logger"
)

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	jobs     repos.JobRepo
	registry *runtime.Registry
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, jobs repos.JobRepo, registry *runtime.Registry) *Worker {
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "Worker"),
		jobs:     jobs,
		registry: registry,
	}
}

// Start launches WORKER_CONCURRENCY (default 4) claim loops. A job is
// only ever run by one worker at a time, enforced by the repo's
// FOR UPDATE SKIP LOCKED claim.
func (w *Worker) Start(ctx context.Context) {
	concurrency := getEnvInt("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("starting job worker pool", "concurrency", concurrency)
	for i := 0; i < concurrency; i++ {
		go w.runLoop(ctx, i+1)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	retryDelay := 30 * time.Second
	staleRunning := 30 * time.Minute

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			dc := dbctx.Context{Ctx: ctx, Tx: w.db}
			job, err := w.jobs.ClaimNextRunnable(dc, retryDelay, staleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}

			jc := runtime.New(ctx, job, w.jobs, w.log)
			h, ok := w.registry.Get(job.Stage)
			if !ok {
				w.log.Warn("no handler registered for stage", "worker_id", workerID, "stage", job.Stage, "job_id", job.ID)
				_ = jc.Fail("internal", "no handler registered for stage "+job.Stage)
				continue
			}

			w.runOne(jc, h, workerID)
		}
	}
}

func (w *Worker) runOne(jc *runtime.Context, h runtime.Handler, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("stage handler panic", "worker_id", workerID, "job_id", jc.Job.ID, "stage", jc.Job.Stage, "panic", r)
			_ = jc.Fail("internal", "panic during stage execution")
		}
	}()

	if err := h.Run(jc); err != nil {
		// Handlers normally call jc.Fail themselves with a precise kind;
		// this is the safety net for anything that bubbles up unhandled.
		_ = jc.Fail("internal", err.Error())
	}
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
