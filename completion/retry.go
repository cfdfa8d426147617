package completion

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxAttempts is the default attempt bound (1 initial + retries).
const DefaultMaxAttempts = 4

// DefaultBaseBackoff is the initial backoff; doubles per retry.
const DefaultBaseBackoff = 500 * time.Millisecond

// RetryConfig tunes the retrying client.
type RetryConfig struct {
	// MaxAttempts bounds total attempts (>= 1).
	MaxAttempts int
	// BaseBackoff is the initial backoff, doubled per retry.
	// A rate-limit RetryAfter hint overrides the computed backoff
	// when longer.
	BaseBackoff time.Duration
	// OnRetry is an optional hook invoked before each retry sleep.
	OnRetry func(attempt int, err error)
}

// RetryingClient wraps a Client with bounded exponential-backoff retries
// for the retryable taxonomy (rate limited, unavailable, timeout).
// Invalid requests fail immediately. Context cancellation is observed
// both mid-call and during backoff.
type RetryingClient struct {
	inner  Client
	config RetryConfig
}

// NewRetrying wraps inner with retry behavior.
func NewRetrying(inner Client, config RetryConfig) *RetryingClient {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = DefaultBaseBackoff
	}
	return &RetryingClient{inner: inner, config: config}
}

// Complete calls the inner client, retrying retryable failures.
func (c *RetryingClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	var lastErr error

	for i := 0; i < c.config.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", NewError(ErrTimeout, err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * c.config.BaseBackoff
			var ce *Error
			if errors.As(lastErr, &ce) && ce.RetryAfter > backoff {
				backoff = ce.RetryAfter
			}
			if c.config.OnRetry != nil {
				c.config.OnRetry(i, lastErr)
			}
			select {
			case <-ctx.Done():
				return "", NewError(ErrTimeout, ctx.Err())
			case <-time.After(backoff):
			}
		}

		out, err := c.inner.Complete(ctx, prompt, opts)
		if err == nil {
			return out, nil
		}
		if !IsRetryable(err) {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("completion failed after %d attempts: %w", c.config.MaxAttempts, lastErr)
}

// Verify RetryingClient implements Client.
var _ Client = (*RetryingClient)(nil)
