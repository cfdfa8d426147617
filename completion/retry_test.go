package completion

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrying_SucceedsAfterTransientFailures(t *testing.T) {
	inner := NewScripted(
		ScriptEntry{Err: NewError(ErrServiceUnavailable, errors.New("down"))},
		ScriptEntry{Err: NewRateLimited(time.Millisecond, errors.New("slow down"))},
		ScriptEntry{Response: "ok"},
	)
	client := NewRetrying(inner, RetryConfig{MaxAttempts: 4, BaseBackoff: time.Millisecond})

	out, err := client.Complete(context.Background(), "p", Options{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "ok" {
		t.Errorf("out = %q, want ok", out)
	}
	if inner.Calls() != 3 {
		t.Errorf("calls = %d, want 3", inner.Calls())
	}
}

func TestRetrying_InvalidRequestFailsImmediately(t *testing.T) {
	inner := NewScripted(
		ScriptEntry{Err: NewError(ErrInvalidRequest, errors.New("bad prompt"))},
		ScriptEntry{Response: "never reached"},
	)
	client := NewRetrying(inner, RetryConfig{MaxAttempts: 4, BaseBackoff: time.Millisecond})

	_, err := client.Complete(context.Background(), "p", Options{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if inner.Calls() != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", inner.Calls())
	}
}

func TestRetrying_ExhaustsAttempts(t *testing.T) {
	inner := NewScripted(
		ScriptEntry{Err: NewError(ErrServiceUnavailable, errors.New("down"))},
		ScriptEntry{Err: NewError(ErrServiceUnavailable, errors.New("down"))},
		ScriptEntry{Err: NewError(ErrServiceUnavailable, errors.New("down"))},
	)
	client := NewRetrying(inner, RetryConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond})

	_, err := client.Complete(context.Background(), "p", Options{})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
	if inner.Calls() != 3 {
		t.Errorf("calls = %d, want 3", inner.Calls())
	}
}

func TestRetrying_CanceledDuringBackoff(t *testing.T) {
	inner := NewScripted(
		ScriptEntry{Err: NewError(ErrServiceUnavailable, errors.New("down"))},
	)
	client := NewRetrying(inner, RetryConfig{MaxAttempts: 4, BaseBackoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Complete(ctx, "p", Options{})
		done <- err
	}()

	// Let the first attempt fail, then cancel during the long backoff.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("err = %v, want ErrTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetrying_RateLimitHintExtendsBackoff(t *testing.T) {
	inner := NewScripted(
		ScriptEntry{Err: NewRateLimited(60*time.Millisecond, errors.New("slow down"))},
		ScriptEntry{Response: "ok"},
	)
	client := NewRetrying(inner, RetryConfig{MaxAttempts: 2, BaseBackoff: time.Millisecond})

	start := time.Now()
	if _, err := client.Complete(context.Background(), "p", Options{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("retry slept %v, want >= retry-after hint of 60ms", elapsed)
	}
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("underlying")
	err := NewRateLimited(time.Second, cause)

	if !errors.Is(err, ErrRateLimited) {
		t.Error("errors.Is should match ErrRateLimited")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should traverse to cause")
	}
	if !IsRetryable(err) {
		t.Error("rate limited should be retryable")
	}
	if IsRetryable(NewError(ErrInvalidRequest, cause)) {
		t.Error("invalid request must not be retryable")
	}
}
