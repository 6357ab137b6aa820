// Package ratelimit provides the shared admission controller gating every
// outbound AODP request. All fetch workers and the health probe draw from
// one Limiter so the process as a whole stays inside the upstream budget.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket with a runtime-mutable rate and burst.
// The zero value is not usable; construct with New.
type Limiter struct {
	lim *rate.Limiter
}

// New creates a Limiter refilling at tokensPerSecond with the given burst
// capacity. The bucket starts full so the first requests go out immediately.
func New(tokensPerSecond float64, burst int) *Limiter {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 0.0000001
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(tokensPerSecond), burst)}
}

// Acquire blocks until n tokens are available or ctx is done, and reports
// whether the tokens were obtained. Requests for n greater than the current
// burst capacity can never be satisfied and fail immediately.
func (l *Limiter) Acquire(ctx context.Context, n int) bool {
	if n <= 0 {
		n = 1
	}
	return l.lim.WaitN(ctx, n) == nil
}

// Rate returns the current refill rate in tokens per second.
func (l *Limiter) Rate() float64 { return float64(l.lim.Limit()) }

// Burst returns the current bucket capacity.
func (l *Limiter) Burst() int { return l.lim.Burst() }

// SetRate changes the refill rate. Safe with concurrent acquirers.
func (l *Limiter) SetRate(tokensPerSecond float64) {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 0.0000001
	}
	l.lim.SetLimit(rate.Limit(tokensPerSecond))
}

// SetBurst changes the bucket capacity. Safe with concurrent acquirers.
func (l *Limiter) SetBurst(burst int) {
	if burst <= 0 {
		burst = 1
	}
	l.lim.SetBurst(burst)
}
