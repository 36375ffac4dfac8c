// Package runtime is the execution contract between the job system and
// stage executors. runtime.Context is a capability-scoped handle for a
// single job run: it wraps the job row, repo access, and decoded input
// params, and is the only sanctioned way a stage executor reports
// progress or terminates execution. Stage executors never touch the Job
// row directly.
package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/ataxco/contentforge/internal/data/repos"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/platform/logger"
)

type Context struct {
	Ctx  context.Context
	Job  *domain.Job
	Jobs repos.JobRepo
	Log  *logger.Logger

	params map[string]any
}

// New constructs a runtime.Context for a claimed job, eagerly decoding
// InputParams so stage executors can read Params() without re-parsing.
func New(ctx context.Context, job *domain.Job, jobs repos.JobRepo, log *logger.Logger) *Context {
	c := &Context{Ctx: ctx, Job: job, Jobs: jobs, Log: log.With("job_id", job.ID, "stage", job.Stage)}
	_ = c.decodeParams()
	return c
}

func (c *Context) decodeParams() error {
	if len(c.Job.InputParams) == 0 {
		c.params = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.InputParams, &m); err != nil {
		c.params = map[string]any{}
		return err
	}
	c.params = m
	return nil
}

func (c *Context) Params() map[string]any {
	if c.params == nil {
		c.params = map[string]any{}
	}
	return c.params
}

func (c *Context) dc() dbctx.Context { return dbctx.New(c.Ctx) }

// Update applies arbitrary field updates to the underlying job row,
// guarded so a cancelled job is never overwritten by a worker that
// hasn't yet noticed.
func (c *Context) Update(updates map[string]any) (bool, error) {
	if c.Job == nil || c.Job.ID == uuid.Nil {
		return false, nil
	}
	return c.Jobs.UpdateFieldsUnlessStatus(c.dc(), c.Job.ID, []domain.JobStatus{domain.JobCancelled}, updates)
}

// Fail marks this job terminally failed, tagging the corerr.Kind in the
// stored message per the error propagation policy.
func (c *Context) Fail(kind, message string) error {
	now := time.Now()
	_, err := c.Update(map[string]any{
		"status":        domain.JobFailed,
		"error_message": kind + ": " + message,
		"completed_at":  now,
	})
	if c.Job != nil {
		c.Job.Status = domain.JobFailed
		c.Job.ErrorMessage = kind + ": " + message
		c.Job.CompletedAt = &now
	}
	return err
}

// Succeed marks this job terminally completed and persists its result.
func (c *Context) Succeed(result any, costUSD float64, tokensUsed int) error {
	var res datatypes.JSON
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		res = datatypes.JSON(raw)
	}
	now := time.Now()
	_, err := c.Update(map[string]any{
		"status":       domain.JobCompleted,
		"result":       res,
		"cost_usd":     costUSD,
		"tokens_used":  tokensUsed,
		"completed_at": now,
	})
	if c.Job != nil {
		c.Job.Status = domain.JobCompleted
		c.Job.Result = res
		c.Job.CostUSD = costUSD
		c.Job.TokensUsed = tokensUsed
		c.Job.CompletedAt = &now
	}
	return err
}

// Cancelled reports whether this job's row has since been marked
// cancelled, the cooperative checkpoint stage executors poll between
// provider round-trips and before their commit transaction.
func (c *Context) Cancelled() (bool, error) {
	fresh, err := c.Jobs.GetByID(c.dc(), c.Job.ID)
	if err != nil {
		return false, err
	}
	if fresh == nil {
		return true, nil
	}
	return fresh.Status == domain.JobCancelled, nil
}
