package limiter

import (
	"golang.org/x/time/rate"
)

// TokenBucketLimiter token bucket rate limiter using golang.org/x/time/rate.
// The terminal-queue monitor throttles alert callbacks through it so a burst
// of dead-lettered messages does not turn into an alert storm.
type TokenBucketLimiter struct {
	limiter *rate.Limiter
}

// NewTokenBucketLimiter creates a new token bucket rate limiter
func NewTokenBucketLimiter(r rate.Limit, b int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		limiter: rate.NewLimiter(r, b),
	}
}

// Allow checks if the request is allowed
func (l *TokenBucketLimiter) Allow() bool {
	return l.limiter.Allow()
}
