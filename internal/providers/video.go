package providers

import (
	"context"
	"net/http"
)

const costPerSecondUSD = 0.05

// VideoGenClient serves the broll stage: text-to-video / image-to-video
// submit/poll/download, cost by seconds of rendered output.
type VideoGenClient struct {
	http   *HTTPClient
	ledger *Ledger
	poller PollerConfig
	doer   Doer
}

func NewVideoGenClient(doer Doer, baseURL, apiKey string, poller PollerConfig) *VideoGenClient {
	ledger := NewLedger("video_gen", UnitSeconds)
	headers := http.Header{"Authorization": []string{"Bearer " + apiKey}}
	return &VideoGenClient{
		http:   NewHTTPClient(doer, baseURL, headers, DefaultRetryPolicy(), ledger),
		ledger: ledger,
		poller: poller,
		doer:   doer,
	}
}

type videoSubmitRequest struct {
	Prompt       string `json:"prompt"`
	ImageURL     string `json:"image_url,omitempty"`
	DurationSecs int    `json:"duration_seconds"`
}

type videoSubmitResponse struct {
	TaskID string `json:"task_id"`
}

type videoStatusResponse struct {
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	OutputURL   string  `json:"output_url"`
	Error       string  `json:"failure_reason"`
	DurationSecs float64 `json:"duration_seconds"`
}

// Submit requests one clip; prompt-only is text-to-video, imageURL
// non-empty is image-to-video.
func (c *VideoGenClient) Submit(ctx context.Context, prompt, imageURL string, durationSecs int) (string, error) {
	var out videoSubmitResponse
	_, _, err := c.http.Call(ctx, http.MethodPost, "/v1/generate", videoSubmitRequest{
		Prompt: prompt, ImageURL: imageURL, DurationSecs: durationSecs,
	}, nil, &out)
	if err != nil {
		return "", err
	}
	return out.TaskID, nil
}

func (c *VideoGenClient) poll(ctx context.Context, externalID string) (PollStatus, error) {
	var out videoStatusResponse
	_, _, err := c.http.Call(ctx, http.MethodGet, "/v1/tasks/"+externalID, nil, nil, &out)
	if err != nil {
		return PollStatus{}, err
	}
	if out.DurationSecs > 0 {
		c.ledger.AddUnits(out.DurationSecs, costPerSecondUSD)
	}
	return PollStatus{
		Status:    mapProviderStatus(out.Status),
		Progress:  out.Progress,
		OutputURL: out.OutputURL,
		Error:     out.Error,
	}, nil
}

func (c *VideoGenClient) WaitAndDownload(ctx context.Context, externalID string, checkCancel cancelCheck) (Result, error) {
	status, err := waitForCompletion(ctx, c.poller, externalID, c.poll, checkCancel)
	if err != nil {
		return Result{}, err
	}
	data, contentType, dlErr := download(ctx, c.doer, status.OutputURL)
	if dlErr != nil {
		return Result{}, dlErr
	}
	return Result{
		Data:          data,
		ContentType:   contentType,
		FileSizeBytes: int64(len(data)),
		ProviderJobID: externalID,
		Usage:         c.ledger.Snapshot(),
	}, nil
}
