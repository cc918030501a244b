package kueri

import (
	"context"
	"errors"
	"time"

	internalbackoff "github.com/kueri-go/kueri/internal/backoff"
)

// RetryPolicy decides, after a failed attempt, whether to retry and how long
// to wait. Implementations must be pure: no sleeping, no side effects, so
// the decision is testable independently of timing.
type RetryPolicy interface {
	// ShouldRetry inspects the error and the 0-based attempt index and
	// returns the delay before the next attempt and whether to retry.
	ShouldRetry(err error, attempt int) (time.Duration, bool)
}

// DefaultRetryPolicy retries transient failures (network, timeout, 5xx) up
// to a fixed attempt count with exponentially growing, capped delays.
// Client errors (4xx) surface immediately.
type DefaultRetryPolicy struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
}

// NewDefaultRetryPolicy creates the standard policy. With jitter 0 the
// delays are deterministic: initial, initial*m, initial*m^2, ... capped at
// maxBackoff.
func NewDefaultRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		maxRetries:        maxRetries,
		initialBackoff:    initialBackoff,
		maxBackoff:        maxBackoff,
		backoffMultiplier: multiplier,
		jitter:            jitter,
	}
}

// ShouldRetry implements the RetryPolicy interface.
func (p *DefaultRetryPolicy) ShouldRetry(err error, attempt int) (time.Duration, bool) {
	if err == nil || attempt >= p.maxRetries {
		return 0, false
	}

	// Cancellation is the caller going away, not a transient failure.
	if errors.Is(err, context.Canceled) {
		return 0, false
	}

	if !IsTransient(err) {
		return 0, false
	}

	return internalbackoff.Exponential(attempt, p.initialBackoff, p.maxBackoff, p.backoffMultiplier, p.jitter), true
}
