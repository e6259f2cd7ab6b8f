package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/core/metrics"
	"order-fulfillment/internal/features/orders/domain"
	"order-fulfillment/internal/features/orders/ports"

	"go.uber.org/zap"
)

const maxWriteAttempts = 3

// Result is the outcome of a state machine write.
type Result struct {
	Order *domain.Order
	// From is the status before the write.
	From domain.OrderStatus
	// Changed is false when the write was a no-op.
	Changed bool
}

// StatusChanged reports whether the write moved the order to another status.
func (r *Result) StatusChanged() bool {
	return r.Changed && r.From != r.Order.Status
}

// StateMachine is the only writer of order status and shipping. Every write is
// a single version-guarded Repository.Update.
type StateMachine struct {
	repo      ports.Repository
	metrics   *metrics.Metrics
	listeners []ports.TransitionListener
	now       func() time.Time
}

// NewStateMachine creates a new StateMachine.
func NewStateMachine(repo ports.Repository, m *metrics.Metrics, listeners ...ports.TransitionListener) *StateMachine {
	return &StateMachine{
		repo:      repo,
		metrics:   m,
		listeners: listeners,
		now:       time.Now,
	}
}

// Create persists a new order in one of the entry statuses.
func (sm *StateMachine) Create(ctx context.Context, order *domain.Order, actor domain.Actor) error {
	switch order.Status {
	case domain.OrderStatusPendingPayment, domain.OrderStatusConfirmed:
	default:
		return &domain.TransitionError{To: order.Status, Actor: actor.Kind, Reason: "not an entry status"}
	}

	now := sm.now()
	order.Version = 0
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.Shipping.DeliveryMethod == "" {
		order.Shipping.DeliveryMethod = domain.MethodNone
	}
	order.History = []domain.StatusChange{{To: order.Status, Actor: actor, Reason: "order placed", At: now}}

	if err := sm.repo.Create(ctx, order); err != nil {
		return err
	}

	sm.metrics.ObserveTransition("", string(order.Status), string(actor.Kind))
	sm.notify(ctx, order, "")
	return nil
}

// Transition moves the order to target on behalf of actor.
func (sm *StateMachine) Transition(ctx context.Context, orderID string, target domain.OrderStatus, actor domain.Actor, meta domain.TransitionMeta) (*Result, error) {
	return sm.mutate(ctx, orderID, actor, func(o *domain.Order, now time.Time) (bool, error) {
		return o.ApplyTransition(target, actor, meta, now)
	})
}

// ApplyAssignment records a new delivery assignment and moves a confirmed or
// processing order to shipped in the same write.
func (sm *StateMachine) ApplyAssignment(ctx context.Context, orderID string, actor domain.Actor, shipping domain.Shipping) (*Result, error) {
	return sm.mutate(ctx, orderID, actor, func(o *domain.Order, now time.Time) (bool, error) {
		switch o.Status {
		case domain.OrderStatusConfirmed, domain.OrderStatusProcessing,
			domain.OrderStatusShipped, domain.OrderStatusInTransit, domain.OrderStatusOutForDelivery:
		default:
			return false, &domain.TransitionError{From: o.Status, To: domain.OrderStatusShipped, Actor: actor.Kind, Reason: "order cannot take a delivery assignment"}
		}
		if shipping.DeliveryMethod == "" || shipping.DeliveryMethod == domain.MethodNone {
			return false, fmt.Errorf("apply assignment: delivery method is required")
		}

		assignedAt := now
		shipping.AssignedAt = &assignedAt
		shipping.AssignedBy = actor.ID
		shipping.AssignmentCount = o.Shipping.AssignmentCount + 1
		if shipping.AdminNotes == "" {
			shipping.AdminNotes = o.Shipping.AdminNotes
		}
		o.Shipping = shipping

		if o.Status.IsPreShipment() {
			if _, err := o.ApplyTransition(domain.OrderStatusShipped, actor, domain.TransitionMeta{Reason: "assigned to " + shipping.DeliveryMethod}, now); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

// ClearAssignment drops the active assignment without touching the status.
func (sm *StateMachine) ClearAssignment(ctx context.Context, orderID string, actor domain.Actor, reason string) (*Result, error) {
	return sm.mutate(ctx, orderID, actor, func(o *domain.Order, now time.Time) (bool, error) {
		if !o.Shipping.HasActiveAssignment() {
			return false, nil
		}
		o.Shipping = domain.Shipping{
			DeliveryMethod:  domain.MethodNone,
			AdminNotes:      o.Shipping.AdminNotes,
			AssignmentCount: o.Shipping.AssignmentCount,
		}
		logger.Get().Warn("Delivery assignment cleared",
			zap.String("order_number", o.OrderNumber),
			zap.String("reason", reason),
		)
		return true, nil
	})
}

// SetAdminNotes replaces the free-text admin notes on the shipping record.
func (sm *StateMachine) SetAdminNotes(ctx context.Context, orderID string, actor domain.Actor, notes string) (*Result, error) {
	return sm.mutate(ctx, orderID, actor, func(o *domain.Order, _ time.Time) (bool, error) {
		if o.Shipping.AdminNotes == notes {
			return false, nil
		}
		o.Shipping.AdminNotes = notes
		return true, nil
	})
}

// mutate reloads the order, applies fn to a copy and writes it back guarded by
// the version it was loaded at. A conflicting write restarts the cycle so fn
// always validates against fresh state.
func (sm *StateMachine) mutate(ctx context.Context, orderID string, actor domain.Actor, fn func(o *domain.Order, now time.Time) (bool, error)) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := sm.repo.GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		now := sm.now()
		changed, err := fn(next, now)
		if err != nil {
			return nil, err
		}
		if !changed {
			return &Result{Order: current, From: current.Status}, nil
		}

		next.UpdatedAt = now
		err = sm.repo.Update(ctx, next, current.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			lastErr = err
			logger.Get().Debug("Order version conflict, retrying",
				zap.String("order_id", orderID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		if current.Status != next.Status {
			sm.metrics.ObserveTransition(string(current.Status), string(next.Status), string(actor.Kind))
			sm.notify(ctx, next, current.Status)
		}
		return &Result{Order: next, From: current.Status, Changed: true}, nil
	}
	return nil, lastErr
}

func (sm *StateMachine) notify(ctx context.Context, order *domain.Order, from domain.OrderStatus) {
	for _, l := range sm.listeners {
		if err := l.OrderTransitioned(ctx, order, from); err != nil {
			logger.Get().Warn("Transition listener failed",
				zap.String("order_number", order.OrderNumber),
				zap.String("status", string(order.Status)),
				zap.Error(err),
			)
		}
	}
}
