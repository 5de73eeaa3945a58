package orchestration

import (
	"math"
	"time"
)

// BackoffPolicy computes the delay before a retried run is rescheduled.
// The curve is a policy parameter, not part of the retry rule's
// contract; the rule only requires the delay to be monotonic in the
// attempt number and bounded by Cap.
type BackoffPolicy struct {
	// Base is the delay after the first failure.
	Base time.Duration

	// Factor is the multiplier applied per additional attempt.
	Factor float64

	// Cap bounds the delay.
	Cap time.Duration
}

// DefaultBackoff is a capped exponential: 10s, 20s, 40s, ... capped at
// ten minutes.
var DefaultBackoff = BackoffPolicy{
	Base:   10 * time.Second,
	Factor: 2,
	Cap:    10 * time.Minute,
}

// Delay returns the reschedule delay for the given attempt number
// (1-based). The function is monotonically non-decreasing and never
// exceeds Cap.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	factor := p.Factor
	if factor < 1 {
		factor = DefaultBackoff.Factor
	}
	cap := p.Cap
	if cap <= 0 {
		cap = DefaultBackoff.Cap
	}

	d := float64(base) * math.Pow(factor, float64(attempt-1))
	if d > float64(cap) || math.IsInf(d, 1) {
		return cap
	}
	return time.Duration(d)
}
