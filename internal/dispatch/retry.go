package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// BackoffConfig tunes outbound send retries.
type BackoffConfig struct {
	Base        time.Duration
	Cap         time.Duration
	Jitter      float64 // fraction of the delay randomized, e.g. 0.1
	MaxAttempts int
}

// DefaultBackoff is the outbound send policy: 3 attempts, 500ms base
// doubling to a 30s cap, 10% jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Base:        500 * time.Millisecond,
		Cap:         30 * time.Second,
		Jitter:      0.1,
		MaxAttempts: 3,
	}
}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// attempt budget is spent. Transient errors back off exponentially with
// jitter; a provider-supplied RetryAfter overrides the computed delay.
func Retry(ctx context.Context, cfg BackoffConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
	}
	return err
}

func backoffDelay(cfg BackoffConfig, attempt int, lastErr error) time.Duration {
	var te *TransientError
	if errors.As(lastErr, &te) && te.RetryAfter > 0 {
		return te.RetryAfter
	}

	delay := cfg.Base << (attempt - 1)
	if cfg.Cap > 0 && delay > cfg.Cap {
		delay = cfg.Cap
	}
	if cfg.Jitter > 0 {
		spread := float64(delay) * cfg.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if delay < 0 {
		delay = cfg.Base
	}
	return delay
}
