package taskqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ataxco/contentforge/internal/corerr"
)

const keyPrefix = "contentforge:task:"

// RedisObserver backs Observer with a Redis string-per-task record:
// one key per external_task_id, TTLed so abandoned tasks age out rather
// than accumulating forever.
type RedisObserver struct {
	client *redis.Client
}

func NewRedisObserver(client *redis.Client) *RedisObserver {
	return &RedisObserver{client: client}
}

func (o *RedisObserver) Get(ctx context.Context, externalTaskID string) (TaskState, bool, error) {
	raw, err := o.client.Get(ctx, keyPrefix+externalTaskID).Bytes()
	if err == redis.Nil {
		return TaskState{}, false, nil
	}
	if err != nil {
		return TaskState{}, false, corerr.Wrap(corerr.KindExternalService, "redis get task state", err)
	}
	var st TaskState
	if err := json.Unmarshal(raw, &st); err != nil {
		return TaskState{}, false, corerr.Wrap(corerr.KindInternal, "decode task state", err)
	}
	return st, true, nil
}

func (o *RedisObserver) Set(ctx context.Context, externalTaskID string, state TaskState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return corerr.Wrap(corerr.KindInternal, "encode task state", err)
	}
	if err := o.client.Set(ctx, keyPrefix+externalTaskID, raw, ttl).Err(); err != nil {
		return corerr.Wrap(corerr.KindExternalService, "redis set task state", err)
	}
	return nil
}
