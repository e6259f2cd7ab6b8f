package service

import (
	"context"
	"errors"

	"order-fulfillment/internal/core/lock"
	"order-fulfillment/internal/features/orders/domain"
	"order-fulfillment/internal/features/orders/ports"
)

// LockKey is the lock name shared by every component mutating one order.
func LockKey(orderID string) string {
	return "order:" + orderID
}

// WithOrderLock runs fn while holding the order's lock. A lock that cannot be
// taken in time surfaces as domain.ErrOrderBusy.
func WithOrderLock(ctx context.Context, l ports.Locker, orderID string, fn func(ctx context.Context) error) error {
	err := l.WithLock(ctx, LockKey(orderID), fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return domain.ErrOrderBusy
	}
	return err
}
