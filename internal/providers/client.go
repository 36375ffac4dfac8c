package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/platform/httpx"
)

// Doer is the single interface every provider client is built on, in place
// of a sync/async client inheritance hierarchy: one request-response call
// a caller can retry. The runtime that invokes it (a goroutine-per-job
// worker, here) decides the concurrency model; the client never does.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryPolicy configures the shared backoff loop.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: httpx.BackoffDefaults.MaxRetries,
		Base:       httpx.BackoffDefaults.Base,
		MaxDelay:   httpx.BackoffDefaults.MaxDelay,
	}
}

// HTTPClient is the shared retry wrapper every concrete provider client
// embeds. It owns nothing provider-specific: headers, base URL, and body
// codec are supplied by the caller on each call.
type HTTPClient struct {
	doer    Doer
	baseURL string
	headers http.Header
	retry   RetryPolicy
	ledger  *Ledger
}

func NewHTTPClient(doer Doer, baseURL string, headers http.Header, retry RetryPolicy, ledger *Ledger) *HTTPClient {
	if headers == nil {
		headers = http.Header{}
	}
	return &HTTPClient{doer: doer, baseURL: baseURL, headers: headers, retry: retry, ledger: ledger}
}

// Call implements the full per-request discipline: merge headers,
// send, classify, retry with backoff or Retry-After, and record usage.
// out, if non-nil, receives the JSON-decoded 2xx body.
func (c *HTTPClient) Call(ctx context.Context, method, path string, body any, extraHeaders http.Header, out any) (*http.Response, []byte, error) {
	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, nil, corerr.Wrap(corerr.KindValidation, "encode request body", err)
		}
		bodyBytes = b
	}

	var lastResp *http.Response
	var lastRespBody []byte
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytesReader(bodyBytes))
		if err != nil {
			return nil, nil, corerr.Wrap(corerr.KindInternal, "build request", err)
		}
		mergeHeaders(req.Header, c.headers)
		mergeHeaders(req.Header, extraHeaders)
		if bodyBytes != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, doErr := c.doer.Do(req)
		latency := time.Since(start)
		if c.ledger != nil {
			c.ledger.RecordRequest(latency.Milliseconds())
		}

		class := httpx.Classify(resp, doErr)
		if class == httpx.ClassifyRetryableTransport && doErr != nil {
			if attempt == c.retry.MaxRetries {
				return nil, nil, corerr.Wrap(corerr.KindExternalService, "transport error after retries", doErr)
			}
			if sleepErr := httpx.Sleep(ctx, httpx.Backoff(attempt, c.retry.Base, c.retry.MaxDelay)); sleepErr != nil {
				return nil, nil, corerr.Wrap(corerr.KindPipeline, "cancelled during retry backoff", sleepErr)
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, nil, corerr.Wrap(corerr.KindExternalService, "read response body", readErr)
		}
		lastResp, lastRespBody = resp, respBody

		switch class {
		case httpx.ClassifyOK:
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return resp, respBody, corerr.Wrap(corerr.KindExternalService, "decode response body", err)
				}
			}
			return resp, respBody, nil

		case httpx.ClassifyRateLimited:
			if attempt == c.retry.MaxRetries {
				return resp, respBody, corerr.New(corerr.KindRateLimited, "rate limited after retry exhaustion")
			}
			wait := httpx.RetryAfter(resp, httpx.Backoff(attempt, c.retry.Base, c.retry.MaxDelay), c.retry.MaxDelay)
			if sleepErr := httpx.Sleep(ctx, wait); sleepErr != nil {
				return resp, respBody, corerr.Wrap(corerr.KindPipeline, "cancelled during rate-limit backoff", sleepErr)
			}

		case httpx.ClassifyRetryableServerError:
			if attempt == c.retry.MaxRetries {
				return resp, respBody, corerr.New(corerr.KindExternalService, fmt.Sprintf("server error %d after retries", resp.StatusCode))
			}
			if sleepErr := httpx.Sleep(ctx, httpx.Backoff(attempt, c.retry.Base, c.retry.MaxDelay)); sleepErr != nil {
				return resp, respBody, corerr.Wrap(corerr.KindPipeline, "cancelled during retry backoff", sleepErr)
			}

		case httpx.ClassifyPermanentClientError:
			snippet := respBody
			if len(snippet) > 500 {
				snippet = snippet[:500]
			}
			return resp, respBody, corerr.New(corerr.KindExternalService, fmt.Sprintf("client error %d: %s", resp.StatusCode, snippet))
		}
	}
	return lastResp, lastRespBody, corerr.New(corerr.KindExternalService, "retries exhausted")
}

func bytesReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}

func mergeHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Set(k, v)
		}
	}
}
