package ports

import (
	"context"
	"time"

	"order-fulfillment/internal/features/orders/domain"
)

// ListFilter narrows order listings. Zero values mean "any".
type ListFilter struct {
	Statuses []domain.OrderStatus
	UserID   string
	// Unassigned keeps only orders without an active delivery assignment.
	Unassigned bool
	// PaymentCleared keeps only COD orders and confirmed gateway payments.
	PaymentCleared bool
	Limit          int64
	Offset         int64
}

// Repository persists orders with optimistic concurrency.
type Repository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	// Update replaces the stored order if its version still equals
	// expectedVersion and sets order.Version to expectedVersion+1.
	// It returns domain.ErrVersionConflict when the stored version moved on.
	Update(ctx context.Context, order *domain.Order, expectedVersion int64) error
	List(ctx context.Context, filter ListFilter) ([]*domain.Order, error)
}

// Locker serializes work on a key across instances.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Sequence issues monotonically increasing order numbers.
type Sequence interface {
	Next(ctx context.Context) (int64, error)
}

// TransitionListener is told about every applied status change. Errors are
// logged by the caller and never undo the transition.
type TransitionListener interface {
	OrderTransitioned(ctx context.Context, order *domain.Order, from domain.OrderStatus) error
}

// StockReleaser returns reserved stock when an order will not be fulfilled.
type StockReleaser interface {
	Release(ctx context.Context, items []domain.LineItem) error
}

// AdminEventRecorder appends admin-driven status changes to the shipment history.
type AdminEventRecorder interface {
	RecordAdminEvent(ctx context.Context, order *domain.Order, status domain.OrderStatus, at time.Time, note string) error
}
