// Package noaa talks to the NCEI Storm Events file server: it lists the
// catalog index page and downloads individual CSV files.
package noaa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/couchcryptid/storm-events-archive/internal/domain"
	"github.com/couchcryptid/storm-events-archive/internal/observability"
)

const initialBackoff = 200 * time.Millisecond

// Client performs GET requests with a per-attempt timeout and bounded
// exponential backoff.
type Client struct {
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a Client. attempts is the total number of tries per
// request, including the first.
func NewClient(timeout time.Duration, attempts int, maxBackoff time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(tr),
		},
		attempts:   attempts,
		backoff:    initialBackoff,
		maxBackoff: maxBackoff,
		logger:     logger,
		metrics:    metrics,
	}
}

// Get fetches url and returns the full body and the response headers.
// Network failures and non-2xx responses are wrapped in domain.ErrTransport.
func (c *Client) Get(ctx context.Context, url string) ([]byte, http.Header, error) {
	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			c.metrics.FetchRetries.Inc()
			c.logger.Warn("retrying request", "url", url, "attempt", attempt, "backoff", backoff, "error", lastErr)
			if !sleepWithContext(ctx, backoff) {
				return nil, nil, fmt.Errorf("%w: %w", domain.ErrTransport, ctx.Err())
			}
			backoff = nextBackoff(backoff, c.maxBackoff)
		}

		body, header, err := c.do(ctx, url)
		if err == nil {
			return body, header, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}
	return nil, nil, fmt.Errorf("%w: %w", domain.ErrTransport, lastErr)
}

func (c *Client) do(ctx context.Context, url string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, nil, &domain.HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body %s: %w", url, err)
	}
	return body, resp.Header, nil
}

// retryable reports whether another attempt could succeed. Status errors are
// retried only for 429 and 5xx; anything else (timeouts, resets, truncated
// bodies) is retried unless the caller gave up.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *domain.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
