package llm

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// retryWithBackoff executes fn with transient-failure retry:
//
//   - 429          → up to 5 retries with exponential backoff + jitter
//   - 5xx          → up to 3 retries
//   - network err  → up to 3 retries
//   - anything else (including 401/403) → returned immediately
//
// Auth and protocol failures are the caller's problem; only plainly
// transient conditions are retried here.
func retryWithBackoff(ctx context.Context, fn func() (*http.Response, error)) (*http.Response, error) {
	const rateLimitRetries = 5
	const transientRetries = 3

	var lastErr error
	for attempt := 0; attempt <= rateLimitRetries; attempt++ {
		resp, err := fn()

		if err != nil {
			lastErr = err
			if attempt >= transientRetries {
				return nil, lastErr
			}
			if err := backoffSleep(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			drainAndClose(resp)
			lastErr = fmt.Errorf("rate limited (429)")
			if attempt >= rateLimitRetries {
				return fn()
			}
		case resp.StatusCode >= 500:
			drainAndClose(resp)
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			if attempt >= transientRetries {
				return fn()
			}
		default:
			return resp, nil
		}

		if err := backoffSleep(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func backoffSleep(ctx context.Context, attempt int) error {
	base := time.Duration(1<<uint(attempt)) * 500 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	select {
	case <-time.After(base + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func drainAndClose(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
