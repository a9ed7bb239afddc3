// Package queue implements the durable job queue (component E,
// SPEC_FULL.md §4.5): enqueue/lease/complete/fail/sleep/reap over the
// domain.Store port.
package queue

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy mirrors the teacher's RetryPolicy (internal/application/
// executor/retry.go): exponential backoff with a multiplier, a ceiling,
// and jitter to avoid thundering-herd redelivery after a broad outage.
type RetryPolicy struct {
	MaxAttempts int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFrac   float64
}

// DefaultRetryPolicy matches spec.md §4.5's defaults: a handful of
// attempts, second-scale backoff, capped at a minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		JitterFrac:   0.1,
	}
}

// Delay computes the backoff before attempt (1-indexed) is retried,
// following the teacher's calculateDelay: exponential growth from
// InitialDelay by Multiplier^(attempt-1), capped at MaxDelay, plus up to
// JitterFrac of additional random delay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}
	jitter := base * p.JitterFrac * rand.Float64()
	return time.Duration(base + jitter)
}
