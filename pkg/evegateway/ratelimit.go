package evegateway

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is the process-wide token bucket shared by every outbound ESI
// call. Tokens refill continuously at refillRate per second up to maxTokens;
// each permitted request consumes one. There is no per-caller fairness
// guarantee.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a rate limiter with the given bucket capacity and
// refill rate (tokens per second). The bucket starts full.
func NewRateLimiter(maxTokens int, refillRate float64) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(refillRate), maxTokens),
	}
}

// WaitForPermission blocks until a token is available or the context is
// cancelled. This is the suspension point every ESI request passes through.
func (r *RateLimiter) WaitForPermission(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// TryAcquire consumes a token without blocking, reporting whether one was
// available.
func (r *RateLimiter) TryAcquire() bool {
	return r.limiter.Allow()
}
