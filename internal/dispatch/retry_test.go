package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastBackoff() BackoffConfig {
	return BackoffConfig{Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxAttempts: 3}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastBackoff(), func() error {
		attempts++
		if attempts < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastBackoff(), func() error {
		attempts++
		return Permanentf("rejected")
	})
	if !IsPermanent(err) {
		t.Errorf("error = %v, want permanent", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on permanent)", attempts)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastBackoff(), func() error {
		attempts++
		return Transient(errors.New("still down"))
	})
	if !IsTransient(err) {
		t.Errorf("error = %v, want the last transient error", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_HonorsRetryAfter(t *testing.T) {
	start := time.Now()
	attempts := 0
	retryAfter := 30 * time.Millisecond
	err := Retry(context.Background(), fastBackoff(), func() error {
		attempts++
		if attempts == 1 {
			return RateLimited(errors.New("429"), retryAfter)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < retryAfter {
		t.Errorf("retried after %v, want at least %v (Retry-After)", elapsed, retryAfter)
	}
}

func TestRetry_ContextCancelAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := BackoffConfig{Base: time.Hour, MaxAttempts: 2}

	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, func() error {
			return Transient(errors.New("down"))
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retry did not abort on context cancel")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	base := errors.New("boom")
	if !IsTransient(Transient(base)) || IsPermanent(Transient(base)) {
		t.Error("Transient wrapper misclassified")
	}
	if !IsPermanent(Permanent(base)) || IsTransient(Permanent(base)) {
		t.Error("Permanent wrapper misclassified")
	}
	if !errors.Is(Transient(base), base) || !errors.Is(Permanent(base), base) {
		t.Error("wrappers should unwrap to the base error")
	}
	if Transient(nil) != nil || Permanent(nil) != nil {
		t.Error("nil in, nil out")
	}
}
