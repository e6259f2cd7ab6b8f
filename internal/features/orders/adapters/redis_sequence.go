package adapters

import (
	"context"
	"fmt"

	"order-fulfillment/internal/core/cache"
)

const (
	orderNumberKey  = "seq:order_number"
	orderNumberSeed = 1000
)

// RedisSequence issues order numbers from a Redis counter. The counter is
// seeded once so the first number handed out is 1001.
type RedisSequence struct {
	cache cache.Cache
}

// NewRedisSequence creates a new RedisSequence.
func NewRedisSequence(c cache.Cache) *RedisSequence {
	return &RedisSequence{cache: c}
}

// Next implements ports.Sequence.
func (s *RedisSequence) Next(ctx context.Context) (int64, error) {
	if _, err := s.cache.SetNX(ctx, orderNumberKey, []byte(fmt.Sprint(orderNumberSeed)), 0); err != nil {
		return 0, fmt.Errorf("seed order sequence: %w", err)
	}
	n, err := s.cache.Incr(ctx, orderNumberKey)
	if err != nil {
		return 0, fmt.Errorf("next order number: %w", err)
	}
	return n, nil
}
