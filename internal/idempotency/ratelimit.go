package idempotency

import (
	"context"
	"time"
)

// RateLimiter is a fixed-window counter per actor.
type RateLimiter struct {
	store  Store
	limit  int64
	window time.Duration
}

func NewRateLimiter(store Store, perMinute int) *RateLimiter {
	return &RateLimiter{store: store, limit: int64(perMinute), window: time.Minute}
}

// Allow records one attempt for actorID and reports whether it is within
// the limit.
func (r *RateLimiter) Allow(ctx context.Context, actorID string) (bool, error) {
	n, err := r.store.Incr(ctx, RateKey(actorID), r.window)
	if err != nil {
		return false, err
	}
	return n <= r.limit, nil
}
