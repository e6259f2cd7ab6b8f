package adapters

import (
	"context"
	"errors"
	"time"

	"order-fulfillment/internal/core/cache"
)

const defaultDedupeTTL = 72 * time.Hour

// RedisIdempotencyGuard remembers processed carrier events for a bounded time.
type RedisIdempotencyGuard struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewRedisIdempotencyGuard builds a guard whose keys expire after ttl.
func NewRedisIdempotencyGuard(c cache.Cache, ttl time.Duration) *RedisIdempotencyGuard {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &RedisIdempotencyGuard{cache: c, ttl: ttl}
}

// Seen reports whether key was marked and has not expired.
func (g *RedisIdempotencyGuard) Seen(ctx context.Context, key string) (bool, error) {
	_, err := g.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Mark remembers key for the guard's ttl.
func (g *RedisIdempotencyGuard) Mark(ctx context.Context, key string) error {
	return g.cache.Set(ctx, key, []byte("1"), g.ttl)
}
