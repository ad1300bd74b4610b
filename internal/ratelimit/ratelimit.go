// Package ratelimit guards inbound request handling with a per-connection
// token bucket, so a single misbehaving client can't starve the broker's
// state lock with a flood of requests.
package ratelimit

import (
	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate.Limiter with the burst/refill
// vocabulary transports configure against.
type Limiter struct {
	rl *rate.Limiter
}

// New returns a Limiter allowing ratePerSec sustained requests per second
// with a burst allowance of burst requests.
func New(ratePerSec float64, burst int) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow reports whether a request may proceed right now, consuming one
// token if so. Callers that get false should reject the request with
// "rate limited" rather than queue it — queuing would reintroduce the
// unbounded-memory risk the bucket exists to prevent.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}
