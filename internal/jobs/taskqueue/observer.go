// Package taskqueue is the Job Supervisor's view into the async task
// queue a job's external_task_id was dispatched to: a small key-value
// observation of {state, updated_at}, independent of the relational
// Job row it tracks. The supervisor compares the two to catch jobs
// whose queue-side record went quiet (orphans) or diverged from the
// database's view (state sync).
package taskqueue

import (
	"context"
	"time"
)

// TaskState is one external_task_id's last known queue-side state.
type TaskState struct {
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Observer is read/write access to the queue's state side-channel.
// Get's second return reports whether any record exists at all yet, since
// a job may have been dispatched so recently that the queue hasn't
// reported back.
type Observer interface {
	Get(ctx context.Context, externalTaskID string) (TaskState, bool, error)
	Set(ctx context.Context, externalTaskID string, state TaskState, ttl time.Duration) error
}
