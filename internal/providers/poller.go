package providers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/platform/httpx"
)

// PollerConfig carries the submit/poll/download caller-loop parameters.
// Defaults: poll every 10s, give up after 600s.
type PollerConfig struct {
	PollInterval time.Duration
	MaxPollTime  time.Duration
}

func DefaultPollerConfig() PollerConfig {
	return PollerConfig{PollInterval: 10 * time.Second, MaxPollTime: 600 * time.Second}
}

// PollStatus is one poll response, shared by avatar and video clients.
type PollStatus struct {
	Status    domain.ProviderTaskStatus
	Progress  float64
	OutputURL string
	Error     string
}

// pollFunc asks the provider for current status of externalID.
type pollFunc func(ctx context.Context, externalID string) (PollStatus, error)

// cancelCheck lets the caller detect an episode cancellation between poll
// iterations, the executor's cooperative checkpoint.
type cancelCheck func(ctx context.Context) (cancelled bool, err error)

// waitForCompletion implements the submit/poll caller loop: poll every
// PollInterval; on succeeded return the output URL; on failed/cancelled
// raise external_service; on elapsed > MaxPollTime raise external_service
// with a timeout reason; between iterations, check for cancellation.
func waitForCompletion(ctx context.Context, cfg PollerConfig, externalID string, poll pollFunc, checkCancel cancelCheck) (PollStatus, error) {
	deadline := time.Now().Add(cfg.MaxPollTime)
	for {
		status, err := poll(ctx, externalID)
		if err != nil {
			return PollStatus{}, err
		}
		switch status.Status {
		case domain.TaskSucceeded:
			return status, nil
		case domain.TaskFailed, domain.TaskCancelled:
			return status, corerr.New(corerr.KindExternalService, "provider task "+string(status.Status)+": "+status.Error)
		}

		if checkCancel != nil {
			cancelled, cErr := checkCancel(ctx)
			if cErr != nil {
				return PollStatus{}, cErr
			}
			if cancelled {
				return PollStatus{}, corerr.New(corerr.KindPipeline, "episode cancelled during poll")
			}
		}

		if time.Now().After(deadline) {
			return PollStatus{}, corerr.New(corerr.KindExternalService, "submit/poll timeout after "+cfg.MaxPollTime.String())
		}
		if sleepErr := httpx.Sleep(ctx, cfg.PollInterval); sleepErr != nil {
			return PollStatus{}, corerr.Wrap(corerr.KindPipeline, "cancelled during poll wait", sleepErr)
		}
	}
}

// download fetches a provider's output URL with one plain GET through the
// given Doer, outside the HTTPClient wrapper (no base URL, auth headers or
// retries), since a signed output URL typically points at a CDN rather
// than the API host.
func download(ctx context.Context, doer Doer, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", corerr.Wrap(corerr.KindInternal, "build download request", err)
	}
	resp, err := doer.Do(req)
	if err != nil {
		return nil, "", corerr.Wrap(corerr.KindExternalService, "download output", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", corerr.New(corerr.KindExternalService, "download output: unexpected status")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", corerr.Wrap(corerr.KindExternalService, "read downloaded body", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
