// Package ratelimit throttles outbound provider calls. The limiter is passed
// into the outreach executor and sync adapters explicitly so tests can swap
// in a deterministic implementation.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates outbound calls.
type Limiter interface {
	// Wait blocks until a call slot is available or the context is done.
	Wait(ctx context.Context) error
}

// TokenBucket wraps x/time/rate with a per-minute quota.
type TokenBucket struct {
	limiter *rate.Limiter
}

// PerMinute constructs a limiter allowing n calls per minute with a burst of
// n/10 (minimum 1).
func PerMinute(n int) *TokenBucket {
	if n <= 0 {
		n = 1
	}
	burst := n / 10
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), burst)}
}

// Wait blocks until the bucket grants a slot.
func (b *TokenBucket) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Unlimited never blocks. Used in tests and for channels without a quota.
type Unlimited struct{}

// Wait returns immediately unless the context is already done.
func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}
