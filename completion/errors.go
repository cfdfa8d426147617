package completion

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for completion-service failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrRateLimited indicates the service throttled the call. Retryable.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates the call exceeded its deadline or was
	// cancelled mid-flight. Retryable unless the caller's context is done.
	ErrTimeout = errors.New("completion timed out")

	// ErrInvalidRequest indicates the prompt was rejected. Not retryable.
	ErrInvalidRequest = errors.New("invalid completion request")

	// ErrServiceUnavailable indicates a transient service failure. Retryable.
	ErrServiceUnavailable = errors.New("completion service unavailable")
)

// Error wraps an underlying failure with taxonomy classification.
// It preserves the original error in the chain for errors.As inspection.
type Error struct {
	// Kind is the sentinel for classification.
	Kind error
	// RetryAfter is the service-suggested wait, when rate limited.
	RetryAfter time.Duration
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("completion: %v (retry after %s): %v", e.Kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("completion: %v: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error for chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewError creates a classified completion error.
func NewError(kind error, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewRateLimited creates a rate-limit error with the suggested wait.
func NewRateLimited(retryAfter time.Duration, err error) *Error {
	return &Error{Kind: ErrRateLimited, RetryAfter: retryAfter, Err: err}
}

// IsRetryable reports whether the error taxonomy permits a retry.
// InvalidRequest fails the worker invocation immediately.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
