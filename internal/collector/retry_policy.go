package collector

import (
	"math"
	"time"
)

// Default backoff bounds.
const (
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffMax  = 30 * time.Second
)

// ExponentialBackoff computes base * 2^attempt capped at Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponentialBackoff builds a backoff, falling back to defaults for
// non-positive values.
func NewExponentialBackoff(base, maxDelay time.Duration) ExponentialBackoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffMax
	}
	if maxDelay < base {
		maxDelay = base
	}
	return ExponentialBackoff{Base: base, Max: maxDelay}
}

// Delay returns the wait before re-enqueueing after the given attempt number.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt))
	if delay > float64(b.Max) || math.IsInf(delay, 0) {
		return b.Max
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether a job that failed with kind on attempt may be
// retried given maxAttempts.
func ShouldRetry(kind ErrorKind, attempt, maxAttempts int) bool {
	return kind.Retryable() && attempt < maxAttempts
}
