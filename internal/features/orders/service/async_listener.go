package service

import (
	"context"
	"sync"
	"time"

	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/features/orders/domain"
	"order-fulfillment/internal/features/orders/ports"

	"go.uber.org/zap"
)

const defaultListenerTimeout = 15 * time.Second

// AsyncListener hands status changes to a slow listener on its own goroutine,
// so the write that caused them returns without waiting. Calls made after
// Close are dropped.
type AsyncListener struct {
	next    ports.TransitionListener
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncListener wraps next. Each delivery gets timeout, or a default when zero.
func NewAsyncListener(next ports.TransitionListener, timeout time.Duration) *AsyncListener {
	if timeout <= 0 {
		timeout = defaultListenerTimeout
	}
	return &AsyncListener{next: next, timeout: timeout}
}

// OrderTransitioned implements ports.TransitionListener. It never fails.
func (a *AsyncListener) OrderTransitioned(ctx context.Context, order *domain.Order, from domain.OrderStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		logger.Get().Warn("Dropping status change after listener shutdown",
			zap.String("order_number", order.OrderNumber),
			zap.String("status", string(order.Status)),
		)
		return nil
	}

	snapshot := order.Clone()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.OrderTransitioned(runCtx, snapshot, from); err != nil {
			logger.Get().Warn("Transition listener failed",
				zap.String("order_number", snapshot.OrderNumber),
				zap.String("status", string(snapshot.Status)),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// Close stops accepting work and waits for in-flight deliveries until ctx ends.
func (a *AsyncListener) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
