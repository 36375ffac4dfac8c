package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVideoGenClient_Submit_ReturnsTaskID(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResp{{status: 200, body: `{"task_id":"task-1"}`}}}
	c := NewVideoGenClient(doer, "https://api.example.com", "key", DefaultPollerConfig())

	id, err := c.Submit(context.Background(), "a dog running", "", 5)
	require.NoError(t, err)
	require.Equal(t, "task-1", id)
}

func TestVideoGenClient_WaitAndDownload_SucceedsAndAccumulatesSecondsCost(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResp{
		{status: 200, body: `{"status":"succeeded","progress":1,"output_url":"https://cdn.example.com/c.mp4","duration_seconds":5.5}`},
		{status: 200, body: "clip-bytes"},
	}}
	c := NewVideoGenClient(doer, "https://api.example.com", "key", PollerConfig{PollInterval: time.Millisecond, MaxPollTime: time.Second})

	res, err := c.WaitAndDownload(context.Background(), "task-1", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("clip-bytes"), res.Data)
	require.Equal(t, 5.5, res.Usage.UnitsUsed)
}

func TestVideoGenClient_WaitAndDownload_PollsUntilCompletion(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResp{
		{status: 200, body: `{"status":"processing","progress":0.2}`},
		{status: 200, body: `{"status":"succeeded","output_url":"https://cdn.example.com/c.mp4"}`},
		{status: 200, body: "clip-bytes"},
	}}
	c := NewVideoGenClient(doer, "https://api.example.com", "key", PollerConfig{PollInterval: time.Millisecond, MaxPollTime: time.Second})

	res, err := c.WaitAndDownload(context.Background(), "task-1", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("clip-bytes"), res.Data)
	require.Equal(t, 3, doer.calls)
}

func TestVideoGenClient_WaitAndDownload_CancelledDuringPollIsPipelineError(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResp{
		{status: 200, body: `{"status":"processing","progress":0.2}`},
	}}
	c := NewVideoGenClient(doer, "https://api.example.com", "key", PollerConfig{PollInterval: time.Millisecond, MaxPollTime: time.Second})

	checkCancel := func(context.Context) (bool, error) { return true, nil }
	_, err := c.WaitAndDownload(context.Background(), "task-1", checkCancel)
	require.Error(t, err)
}
