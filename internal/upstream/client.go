// Package upstream performs the network call to the completion provider,
// with bounded exponential-backoff retry on transient failure and defensive
// normalization of the provider's response envelope.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kkkrraamm/api-aldlma-ai/internal/config"
	"github.com/kkkrraamm/api-aldlma-ai/internal/logger"
	"github.com/kkkrraamm/api-aldlma-ai/internal/observability"
	"github.com/kkkrraamm/api-aldlma-ai/internal/prompt"
	"github.com/kkkrraamm/api-aldlma-ai/internal/reliability"
)

// Provider is one concrete upstream wire format.
type Provider interface {
	Complete(ctx context.Context, req prompt.Request) (string, error)
}

// Client wraps a Provider with the retry policy: attempt 1 fires
// immediately; each transient failure sleeps 2^attempt * base before the
// next attempt; client errors (4xx) and shape errors fail immediately.
type Client struct {
	provider    Provider
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	metrics     *observability.Metrics
}

// NewClient builds a retrying client around provider. Zero or negative
// retry settings fall back to 3 attempts on a one-second base.
func NewClient(provider Provider, cfg config.RetryConfig, metrics *observability.Metrics) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Client{
		provider:    provider,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		metrics:     metrics,
	}
}

// Send runs the bounded retry loop and returns the reply text.
func (c *Client) Send(ctx context.Context, req prompt.Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		reply, err := c.provider.Complete(ctx, req)
		if err == nil {
			c.metrics.IncUpstreamAttempt("success")
			return reply, nil
		}
		lastErr = err

		if !retryable(err) {
			c.metrics.IncUpstreamAttempt("fatal")
			logger.L.Error("upstream call failed terminally", "attempt", attempt, "error", err)
			return "", err
		}
		c.metrics.IncUpstreamAttempt("retryable")
		if attempt == c.maxAttempts {
			break
		}

		delay := reliability.ExponentialBackoff(attempt, c.baseDelay, c.maxDelay)
		logger.L.Warn("upstream call failed; backing off", "attempt", attempt, "delay", delay, "error", err)
		c.metrics.IncUpstreamRetry()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrExhausted, c.maxAttempts, lastErr)
}

// retryable classifies one failed attempt. A normalization failure means the
// transport already succeeded, so it is never retried.
func retryable(err error) bool {
	if errors.Is(err, ErrUnrecognizedShape) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return reliability.IsRetryableHTTPStatus(statusErr.Code)
	}
	return reliability.IsRetryableNetworkError(err)
}
