package providers

import (
	"context"
	"net/http"

	"github.com/ataxco/contentforge/internal/domain"
)

// costPerCreditUSD approximates a credit as one minute of rendered video.
const costPerCreditUSD = 1.0

// AvatarVideoClient serves the avatar stage: submit/poll/download,
// cost by credits (≈ minutes of video).
type AvatarVideoClient struct {
	http   *HTTPClient
	ledger *Ledger
	poller PollerConfig
	doer   Doer
}

func NewAvatarVideoClient(doer Doer, baseURL, apiKey string, poller PollerConfig) *AvatarVideoClient {
	ledger := NewLedger("avatar_video", UnitCredits)
	headers := http.Header{"Authorization": []string{"Bearer " + apiKey}}
	return &AvatarVideoClient{
		http:   NewHTTPClient(doer, baseURL, headers, DefaultRetryPolicy(), ledger),
		ledger: ledger,
		poller: poller,
		doer:   doer,
	}
}

type avatarSubmitRequest struct {
	AvatarID string `json:"avatar_id"`
	VoiceID  string `json:"voice_id"`
	Text     string `json:"text"`
	Background string `json:"background,omitempty"`
}

type avatarSubmitResponse struct {
	VideoID string `json:"video_id"`
}

type avatarStatusResponse struct {
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	OutputURL  string  `json:"video_url"`
	Error      string  `json:"error"`
	DurationS  float64 `json:"duration_s"`
	CreditsUsed float64 `json:"credits_used"`
}

// Submit dispatches a video generation job; returns the provider's
// external id. On non-2xx it errors without ever entering the poll loop.
func (c *AvatarVideoClient) Submit(ctx context.Context, avatarID, voiceID, text, background string) (string, error) {
	var out avatarSubmitResponse
	_, _, err := c.http.Call(ctx, http.MethodPost, "/v1/video/generate", avatarSubmitRequest{
		AvatarID: avatarID, VoiceID: voiceID, Text: text, Background: background,
	}, nil, &out)
	if err != nil {
		return "", err
	}
	return out.VideoID, nil
}

func (c *AvatarVideoClient) poll(ctx context.Context, externalID string) (PollStatus, error) {
	var out avatarStatusResponse
	_, _, err := c.http.Call(ctx, http.MethodGet, "/v1/video/status?video_id="+externalID, nil, nil, &out)
	if err != nil {
		return PollStatus{}, err
	}
	if out.CreditsUsed > 0 {
		c.ledger.AddUnits(out.CreditsUsed, costPerCreditUSD)
	}
	return PollStatus{
		Status:    mapProviderStatus(out.Status),
		Progress:  out.Progress,
		OutputURL: out.OutputURL,
		Error:     out.Error,
	}, nil
}

// WaitAndDownload runs the caller loop and, on success, downloads the
// rendered video bytes with a plain GET outside the API client's retry
// wrapper.
func (c *AvatarVideoClient) WaitAndDownload(ctx context.Context, externalID string, checkCancel cancelCheck) (Result, error) {
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

func mapProviderStatus(s string) domain.ProviderTaskStatus {
	switch s {
	case "completed", "succeeded", "success":
		return domain.TaskSucceeded
	case "failed", "error":
		return domain.TaskFailed
	case "cancelled", "canceled":
		return domain.TaskCancelled
	case "processing", "rendering":
		return domain.TaskProcessing
	case "queued", "waiting":
		return domain.TaskQueued
	default:
		return domain.TaskPending
	}
}
