package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kiku-jw/kikuai-gateway/internal/circuitbreaker"
	"github.com/kiku-jw/kikuai-gateway/internal/httputil"
)

const (
	providerTimeout    = 30 * time.Second
	providerMaxAttempt = 3
)

// retryingClient wraps provider API calls in exponential backoff and a
// circuit breaker: 2^attempt seconds between attempts, Retry-After
// honored on 429, 5xx retried, other 4xx not.
type retryingClient struct {
	http    *http.Client
	breaker *circuitbreaker.Manager
}

func newRetryingClient(breaker *circuitbreaker.Manager) *retryingClient {
	return &retryingClient{
		http:    httputil.NewClient(providerTimeout),
		breaker: breaker,
	}
}

// do executes req, retrying on 429/5xx per the backoff policy above, and
// returns the first response whose status is not retryable, or a nil
// response and the last error once the attempts are exhausted. The caller
// owns reading/closing resp.Body.
func (c *retryingClient) do(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < providerMaxAttempt; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		result, err := c.breaker.Execute(circuitbreaker.ServiceProvider, func() (interface{}, error) {
			return c.http.Do(req)
		})
		if err != nil {
			lastErr = err
			if !c.waitBeforeRetry(ctx, attempt, 0) {
				return nil, lastErr
			}
			continue
		}

		resp := result.(*http.Response)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("payment: provider returned %d", resp.StatusCode)

		if attempt == providerMaxAttempt-1 {
			return nil, lastErr
		}
		if !c.waitBeforeRetry(ctx, attempt, retryAfter) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (c *retryingClient) waitBeforeRetry(ctx context.Context, attempt int, retryAfter time.Duration) bool {
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if retryAfter > delay {
		delay = retryAfter
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
