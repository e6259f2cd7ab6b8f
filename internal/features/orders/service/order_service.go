package service

import (
	"context"
	"time"

	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/features/orders/domain"
	"order-fulfillment/internal/features/orders/ports"

	"go.uber.org/zap"
)

// OrderService handles order reads and the customer and admin status actions.
type OrderService struct {
	repo   ports.Repository
	sm     *StateMachine
	locker ports.Locker
	stock  ports.StockReleaser
	events ports.AdminEventRecorder
}

// NewOrderService creates a new instance of OrderService. events may be nil.
func NewOrderService(repo ports.Repository, sm *StateMachine, locker ports.Locker, stock ports.StockReleaser, events ports.AdminEventRecorder) *OrderService {
	return &OrderService{
		repo:   repo,
		sm:     sm,
		locker: locker,
		stock:  stock,
		events: events,
	}
}

// GetOrder returns the order if actor owns it or is an admin.
func (s *OrderService) GetOrder(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Kind != domain.ActorAdmin && !order.IsOwnedBy(actor.ID) {
		return nil, domain.ErrForbidden
	}
	return order, nil
}

// ListOrders returns orders matching filter, newest first.
func (s *OrderService) ListOrders(ctx context.Context, filter ports.ListFilter) ([]*domain.Order, error) {
	return s.repo.List(ctx, filter)
}

// CancelOrder cancels a pre-shipment order and gives its stock back.
func (s *OrderService) CancelOrder(ctx context.Context, actor domain.Actor, orderID, reason string) (*domain.Order, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}

	var res *Result
	err := WithOrderLock(ctx, s.locker, orderID, func(ctx context.Context) error {
		var err error
		res, err = s.sm.Transition(ctx, orderID, domain.OrderStatusCancelled, actor, domain.TransitionMeta{Reason: reason})
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.StatusChanged() {
		s.releaseStock(ctx, res.Order)
	}
	return res.Order, nil
}

// UpdateStatus applies an admin-driven status change. The change is mirrored
// into the active shipment history when the order has one.
func (s *OrderService) UpdateStatus(ctx context.Context, actor domain.Actor, orderID string, target domain.OrderStatus, note string) (*domain.Order, error) {
	var res *Result
	err := WithOrderLock(ctx, s.locker, orderID, func(ctx context.Context) error {
		var err error
		res, err = s.sm.Transition(ctx, orderID, target, actor, domain.TransitionMeta{Reason: note})
		return err
	})
	if err != nil {
		return nil, err
	}
	if !res.StatusChanged() {
		return res.Order, nil
	}

	if s.events != nil && res.Order.Shipping.HasActiveAssignment() {
		if err := s.events.RecordAdminEvent(ctx, res.Order, target, time.Now(), note); err != nil {
			logger.Get().Warn("Failed to record admin tracking event",
				zap.String("order_number", res.Order.OrderNumber),
				zap.String("status", string(target)),
				zap.Error(err),
			)
		}
	}
	if target == domain.OrderStatusCancelled {
		s.releaseStock(ctx, res.Order)
	}
	return res.Order, nil
}

// UpdateNotes replaces the admin notes of an order.
func (s *OrderService) UpdateNotes(ctx context.Context, actor domain.Actor, orderID, notes string) (*domain.Order, error) {
	var res *Result
	err := WithOrderLock(ctx, s.locker, orderID, func(ctx context.Context) error {
		var err error
		res, err = s.sm.SetAdminNotes(ctx, orderID, actor, notes)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

func (s *OrderService) releaseStock(ctx context.Context, order *domain.Order) {
	if s.stock == nil {
		return
	}
	if err := s.stock.Release(ctx, order.Items); err != nil {
		logger.Get().Error("Failed to release stock",
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
	}
}
