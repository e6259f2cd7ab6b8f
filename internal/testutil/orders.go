// Package testutil holds in-memory fixtures shared by service tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"order-fulfillment/internal/core/lock"
	carrierdomain "order-fulfillment/internal/features/carriers/domain"
	"order-fulfillment/internal/features/orders/domain"
	"order-fulfillment/internal/features/orders/ports"

	"github.com/shopspring/decimal"
)

// OrderRepository is an in-memory ports.Repository with the same version
// semantics as the Mongo one.
type OrderRepository struct {
	mu     sync.Mutex
	orders map[string]*domain.Order

	// Conflicts makes the next N Update calls fail with ErrVersionConflict.
	Conflicts int
	// UpdateErr, when set, is returned by every Update.
	UpdateErr error
	Updates   int
}

// NewOrderRepository returns a repository holding copies of orders.
func NewOrderRepository(orders ...*domain.Order) *OrderRepository {
	r := &OrderRepository{orders: map[string]*domain.Order{}}
	for _, o := range orders {
		r.orders[o.ID] = o.Clone()
	}
	return r
}

func (r *OrderRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return fmt.Errorf("duplicate order id %s", order.ID)
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) GetByNumber(_ context.Context, number string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OrderNumber == number {
			return o.Clone(), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (r *OrderRepository) Update(_ context.Context, order *domain.Order, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates++
	if r.UpdateErr != nil {
		return r.UpdateErr
	}
	stored, ok := r.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if r.Conflicts > 0 {
		r.Conflicts--
		return domain.ErrVersionConflict
	}
	if stored.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	order.Version = expectedVersion + 1
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) List(_ context.Context, f ports.ListFilter) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Order
	for _, o := range r.orders {
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, o.Status) {
			continue
		}
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Unassigned && o.Shipping.HasActiveAssignment() {
			continue
		}
		if f.PaymentCleared && !o.PaymentCleared() {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Offset > 0 {
		if int(f.Offset) >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && int(f.Limit) < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// Stored returns the current stored copy, or nil.
func (r *OrderRepository) Stored(id string) *domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		return o.Clone()
	}
	return nil
}

func containsStatus(list []domain.OrderStatus, s domain.OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Locker serializes per key in process. Keys listed in Busy fail like a held
// Redis lock.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	Busy  map[string]bool
	Keys  []string
}

func NewLocker() *Locker {
	return &Locker{locks: map[string]*sync.Mutex{}, Busy: map[string]bool{}}
}

func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.Keys = append(l.Keys, key)
	if l.Busy[key] {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", lock.ErrNotAcquired, key)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// Sequence counts up from 1000.
type Sequence struct {
	n atomic.Int64
}

func NewSequence() *Sequence {
	s := &Sequence{}
	s.n.Store(1000)
	return s
}

func (s *Sequence) Next(context.Context) (int64, error) {
	return s.n.Add(1), nil
}

// TransitionRecorder remembers every listener call.
type TransitionRecorder struct {
	mu    sync.Mutex
	Calls []Transition
	Err   error
}

// Transition is one recorded listener call.
type Transition struct {
	OrderNumber string
	From        domain.OrderStatus
	To          domain.OrderStatus
}

func (r *TransitionRecorder) OrderTransitioned(_ context.Context, order *domain.Order, from domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, Transition{OrderNumber: order.OrderNumber, From: from, To: order.Status})
	return r.Err
}

// AdminEvents records RecordAdminEvent calls.
type AdminEvents struct {
	mu       sync.Mutex
	Statuses []domain.OrderStatus
	Err      error
}

func (a *AdminEvents) RecordAdminEvent(_ context.Context, _ *domain.Order, status domain.OrderStatus, _ time.Time, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Statuses = append(a.Statuses, status)
	return a.Err
}

// NewOrder builds a confirmed COD order for user-1 with one line item.
func NewOrder(id, number string) *domain.Order {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return &domain.Order{
		ID:          id,
		OrderNumber: number,
		UserID:      "user-1",
		Items: []domain.LineItem{{
			ProductID:   "prod-1",
			SKU:         "SKU-1",
			Name:        "Steel Bottle",
			Quantity:    2,
			UnitPrice:   decimal.NewFromInt(300),
			LineTotal:   decimal.NewFromInt(600),
			WeightGrams: 400,
		}},
		Pricing: domain.Pricing{
			Subtotal: decimal.NewFromInt(600),
			Tax:      decimal.NewFromInt(108),
			Shipping: decimal.Zero,
			Total:    decimal.NewFromInt(708),
			Currency: "INR",
		},
		Status:  domain.OrderStatusConfirmed,
		Payment: domain.PaymentInfo{Method: domain.PaymentMethodCOD, Status: domain.PaymentStatusPending},
		ShippingAddress: carrierdomain.Address{
			Name:       "Ravi Kumar",
			Phone:      "9876543210",
			Line1:      "221 Residency Road",
			City:       "Bengaluru",
			State:      "Karnataka",
			PostalCode: "560025",
			Country:    "India",
		},
		Shipping:  domain.Shipping{DeliveryMethod: domain.MethodNone},
		CreatedAt: created,
		UpdatedAt: created,
	}
}
