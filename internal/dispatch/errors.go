package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// TransientError marks a send failure worth retrying: timeouts, transport
// hiccups, 5xx responses, rate limits. RetryAfter, when non-zero, overrides
// the backoff schedule (HTTP 429 Retry-After).
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// RateLimited wraps err as retryable with a provider-mandated delay.
func RateLimited(err error, retryAfter time.Duration) error {
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

// PermanentError marks a send failure that must not be retried: rejected
// payloads, permission errors, gated capabilities. It is surfaced to the
// operator via diagnostics rather than swallowed.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Permanentf is Permanent with formatting.
func Permanentf(format string, args ...interface{}) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is terminal for the attempt.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
