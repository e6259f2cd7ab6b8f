package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/core/validation"
	carrierdomain "order-fulfillment/internal/features/carriers/domain"
	carrierports "order-fulfillment/internal/features/carriers/ports"
	"order-fulfillment/internal/features/delivery/domain"
	"order-fulfillment/internal/features/delivery/ports"
	orderdomain "order-fulfillment/internal/features/orders/domain"
	orderports "order-fulfillment/internal/features/orders/ports"
	orderservice "order-fulfillment/internal/features/orders/service"
	trackingdomain "order-fulfillment/internal/features/tracking/domain"
	trackingports "order-fulfillment/internal/features/tracking/ports"

	"go.uber.org/zap"
)

// cleanupTimeout bounds compensation calls made after the request context may be gone.
const cleanupTimeout = 15 * time.Second

// Deps wires the AssignmentService collaborators.
type Deps struct {
	Orders   orderports.Repository
	Machine  *orderservice.StateMachine
	Locker   orderports.Locker
	Carriers ports.Carriers
	Tracking trackingports.Repository
	// AllowAbandon is the default reassignment policy when the old carrier
	// refuses cancellation.
	AllowAbandon     bool
	OriginPostalCode string
}

// AssignmentService chooses delivery methods for orders, books carrier
// shipments and keeps one active tracking record per order.
type AssignmentService struct {
	orders       orderports.Repository
	machine      *orderservice.StateMachine
	locker       orderports.Locker
	carriers     ports.Carriers
	tracking     trackingports.Repository
	allowAbandon bool
	origin       string
	now          func() time.Time
}

// NewAssignmentService creates a new AssignmentService.
func NewAssignmentService(d Deps) *AssignmentService {
	return &AssignmentService{
		orders:       d.Orders,
		machine:      d.Machine,
		locker:       d.Locker,
		carriers:     d.Carriers,
		tracking:     d.Tracking,
		allowAbandon: d.AllowAbandon,
		origin:       d.OriginPostalCode,
		now:          time.Now,
	}
}

// Assign gives a confirmed or processing order its delivery method. Asking for
// the method already active is a no-op; asking for a different one reassigns.
func (s *AssignmentService) Assign(ctx context.Context, actor orderdomain.Actor, in domain.AssignInput) (*domain.AssignmentResult, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	var result *domain.AssignmentResult
	err := orderservice.WithOrderLock(ctx, s.locker, in.OrderID, func(ctx context.Context) error {
		order, err := s.orders.GetByID(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if !order.PaymentCleared() {
			return fmt.Errorf("%w: payment not confirmed", domain.ErrNotAssignable)
		}

		if order.Shipping.HasActiveAssignment() {
			if order.Shipping.DeliveryMethod == in.Method {
				result, err = s.unchanged(ctx, order)
				return err
			}
			result, err = s.reassign(ctx, actor, order, in)
			return err
		}

		switch order.Status {
		case orderdomain.OrderStatusConfirmed, orderdomain.OrderStatusProcessing:
		default:
			return fmt.Errorf("%w: status %s", domain.ErrNotAssignable, order.Status)
		}
		result, err = s.assignFresh(ctx, actor, order, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reassign moves an already assigned order to another delivery method.
func (s *AssignmentService) Reassign(ctx context.Context, actor orderdomain.Actor, in domain.AssignInput) (*domain.AssignmentResult, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	var result *domain.AssignmentResult
	err := orderservice.WithOrderLock(ctx, s.locker, in.OrderID, func(ctx context.Context) error {
		order, err := s.orders.GetByID(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order.Shipping.AssignmentCount == 0 {
			return domain.ErrNoAssignment
		}
		if order.Shipping.HasActiveAssignment() && order.Shipping.DeliveryMethod == in.Method {
			result, err = s.unchanged(ctx, order)
			return err
		}
		result, err = s.reassign(ctx, actor, order, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *AssignmentService) unchanged(ctx context.Context, order *orderdomain.Order) (*domain.AssignmentResult, error) {
	rec, err := s.tracking.FindActiveByOrder(ctx, order.ID)
	if err != nil && !errors.Is(err, trackingdomain.ErrTrackingNotFound) {
		return nil, err
	}
	return &domain.AssignmentResult{Order: order, Tracking: rec, Unchanged: true}, nil
}

func (s *AssignmentService) assignFresh(ctx context.Context, actor orderdomain.Actor, order *orderdomain.Order, in domain.AssignInput) (*domain.AssignmentResult, error) {
	gw, err := s.carriers.Get(in.Method)
	if err != nil {
		return nil, err
	}
	if err := s.precheck(ctx, gw, order); err != nil {
		return nil, err
	}

	shipment, err := gw.CreateShipment(ctx, shipmentRequest(order))
	if err != nil {
		return nil, err
	}

	rec, err := s.openRecord(ctx, order, gw.Name(), shipment)
	if err != nil {
		s.cancelBooked(gw, shipment, nil)
		return nil, err
	}

	res, err := s.machine.ApplyAssignment(ctx, order.ID, actor, assignmentShipping(in, gw.Name(), shipment, rec))
	if err != nil {
		s.cancelBooked(gw, shipment, rec)
		return nil, err
	}
	rec.State = trackingdomain.RecordActive

	logger.Get().Info("Delivery assigned",
		zap.String("order_number", order.OrderNumber),
		zap.String("method", gw.Name()),
		zap.String("tracking_number", shipment.TrackingNumber),
		zap.String("admin_id", actor.ID),
	)
	return &domain.AssignmentResult{Order: res.Order, Tracking: rec}, nil
}

// reassign implements the cancel-then-create sequence. The old record is
// retained as superseded or abandoned and a new active one is opened.
func (s *AssignmentService) reassign(ctx context.Context, actor orderdomain.Actor, order *orderdomain.Order, in domain.AssignInput) (*domain.AssignmentResult, error) {
	switch order.Status {
	case orderdomain.OrderStatusConfirmed, orderdomain.OrderStatusProcessing, orderdomain.OrderStatusShipped,
		orderdomain.OrderStatusInTransit, orderdomain.OrderStatusOutForDelivery:
	default:
		return nil, fmt.Errorf("%w: status %s", domain.ErrNotAssignable, order.Status)
	}
	if !order.PaymentCleared() {
		return nil, fmt.Errorf("%w: payment not confirmed", domain.ErrNotAssignable)
	}

	gw, err := s.carriers.Get(in.Method)
	if err != nil {
		return nil, err
	}
	if err := s.precheck(ctx, gw, order); err != nil {
		return nil, err
	}

	old, err := s.tracking.FindActiveByOrder(ctx, order.ID)
	if err != nil && !errors.Is(err, trackingdomain.ErrTrackingNotFound) {
		return nil, err
	}

	log := logger.Get().With(
		zap.String("order_number", order.OrderNumber),
		zap.String("from_method", order.Shipping.DeliveryMethod),
		zap.String("to_method", gw.Name()),
	)

	abandonAllowed := s.allowAbandon
	if in.AllowAbandon != nil {
		abandonAllowed = *in.AllowAbandon
	}

	// oldCancelled is true once a real carrier shipment was cancelled, after
	// which the old assignment cannot be restored.
	oldCancelled, abandoned := false, false
	if order.Shipping.HasActiveAssignment() && order.Shipping.TrackingNumber != "" {
		oldGw, err := s.carriers.Get(order.Shipping.DeliveryMethod)
		if err == nil {
			err = oldGw.CancelShipment(ctx, order.Shipping.TrackingNumber)
		}
		if err != nil {
			log.Warn("Cancelling the current shipment failed",
				zap.String("tracking_number", order.Shipping.TrackingNumber),
				zap.Bool("abandon_allowed", abandonAllowed),
				zap.Error(err),
			)
			if !abandonAllowed {
				return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrConflictingShipment, order.Shipping.DeliveryMethod, order.Shipping.TrackingNumber, err)
			}
			abandoned = true
		} else {
			oldCancelled = true
		}
	}

	shipment, err := gw.CreateShipment(ctx, shipmentRequest(order))
	if err != nil {
		s.restoreOld(ctx, actor, order, old, oldCancelled, err)
		return nil, err
	}

	retired := trackingdomain.RecordSuperseded
	if abandoned {
		retired = trackingdomain.RecordAbandoned
	}
	if old != nil {
		if err := s.tracking.SetState(ctx, old.ID, retired); err != nil {
			s.cancelBooked(gw, shipment, nil)
			s.restoreOld(ctx, actor, order, old, oldCancelled, err)
			return nil, err
		}
		old.State = retired
	}

	rec, err := s.openRecord(ctx, order, gw.Name(), shipment)
	if err != nil {
		s.cancelBooked(gw, shipment, nil)
		s.restoreOld(ctx, actor, order, old, oldCancelled, err)
		return nil, err
	}

	res, err := s.machine.ApplyAssignment(ctx, order.ID, actor, assignmentShipping(in, gw.Name(), shipment, rec))
	if err != nil {
		s.cancelBooked(gw, shipment, rec)
		s.restoreOld(ctx, actor, order, old, oldCancelled, err)
		return nil, err
	}

	log.Info("Delivery reassigned",
		zap.String("tracking_number", shipment.TrackingNumber),
		zap.Bool("abandoned", abandoned),
		zap.String("admin_id", actor.ID),
	)
	return &domain.AssignmentResult{Order: res.Order, Tracking: rec, Previous: old, Abandoned: abandoned}, nil
}

// restoreOld undoes a failed reassignment as far as possible. A cancelled
// carrier shipment cannot come back, so the order is left without an
// assignment; otherwise the old record becomes active again.
func (s *AssignmentService) restoreOld(ctx context.Context, actor orderdomain.Actor, order *orderdomain.Order, old *trackingdomain.ShipmentTracking, oldCancelled bool, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	log := logger.Get().With(zap.String("order_number", order.OrderNumber), zap.NamedError("cause", cause))
	if !oldCancelled {
		if old != nil {
			if err := s.tracking.SetState(ctx, old.ID, trackingdomain.RecordActive); err != nil {
				log.Error("Failed to reactivate previous tracking record", zap.String("tracking_id", old.ID), zap.Error(err))
			}
			old.State = trackingdomain.RecordActive
		}
		return
	}

	if old != nil {
		if err := s.tracking.SetState(ctx, old.ID, trackingdomain.RecordCancelled); err != nil {
			log.Error("Failed to mark previous tracking record cancelled", zap.String("tracking_id", old.ID), zap.Error(err))
		}
	}
	if _, err := s.machine.ClearAssignment(ctx, order.ID, actor, "reassignment failed after the previous shipment was cancelled"); err != nil {
		log.Error("Failed to clear delivery assignment", zap.Error(err))
	}
}

// cancelBooked cancels a shipment that will not be used. rec, when set, is
// marked cancelled.
func (s *AssignmentService) cancelBooked(gw carrierports.Gateway, shipment *carrierdomain.Shipment, rec *trackingdomain.ShipmentTracking) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if shipment.TrackingNumber != "" {
		if err := gw.CancelShipment(ctx, shipment.TrackingNumber); err != nil {
			logger.Get().Error("Failed to cancel unused shipment",
				zap.String("carrier", gw.Name()),
				zap.String("tracking_number", shipment.TrackingNumber),
				zap.Error(err),
			)
		}
	}
	if rec != nil {
		if err := s.tracking.SetState(ctx, rec.ID, trackingdomain.RecordCancelled); err != nil {
			logger.Get().Error("Failed to mark tracking record cancelled", zap.String("tracking_id", rec.ID), zap.Error(err))
		}
		rec.State = trackingdomain.RecordCancelled
	}
}

// precheck asks the carrier whether it reaches the order's destination.
func (s *AssignmentService) precheck(ctx context.Context, gw carrierports.Gateway, order *orderdomain.Order) error {
	postal := order.ShippingAddress.PostalCode
	res, err := gw.CheckServiceability(ctx, postal)
	if err != nil {
		if errors.Is(err, carrierdomain.ErrNotServiceable) {
			return s.notServiceable(ctx, gw.Name(), postal, "pin code not covered")
		}
		return err
	}
	if !res.Serviceable {
		return s.notServiceable(ctx, gw.Name(), postal, "pin code not covered")
	}
	if order.CODAmount().IsPositive() && !res.COD {
		return s.notServiceable(ctx, gw.Name(), postal, "cash on delivery not available")
	}
	return nil
}

func (s *AssignmentService) notServiceable(ctx context.Context, method, postal, reason string) error {
	return &domain.NotServiceableError{
		Method:       method,
		PostalCode:   postal,
		Reason:       reason,
		Alternatives: s.carriers.ServiceableAlternatives(ctx, postal, method),
	}
}

func (s *AssignmentService) openRecord(ctx context.Context, order *orderdomain.Order, carrier string, shipment *carrierdomain.Shipment) (*trackingdomain.ShipmentTracking, error) {
	now := s.now().UTC()
	rec := &trackingdomain.ShipmentTracking{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Carrier:        carrier,
		TrackingNumber: shipment.TrackingNumber,
		State:          trackingdomain.RecordActive,
		Events:         []trackingdomain.TrackingEvent{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.tracking.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Quote asks one or every delivery method about a destination. Carrier
// failures are reported per option and never fail the whole quote.
func (s *AssignmentService) Quote(ctx context.Context, in domain.QuoteInput) ([]domain.QuoteOption, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	methods := s.carriers.Names()
	if in.Method != "" {
		if _, err := s.carriers.Get(in.Method); err != nil {
			return nil, err
		}
		methods = []string{in.Method}
	}

	options := make([]domain.QuoteOption, 0, len(methods))
	for _, name := range methods {
		gw, err := s.carriers.Get(name)
		if err != nil {
			continue
		}
		options = append(options, s.quoteOne(ctx, gw, in))
	}
	return options, nil
}

func (s *AssignmentService) quoteOne(ctx context.Context, gw carrierports.Gateway, in domain.QuoteInput) domain.QuoteOption {
	opt := domain.QuoteOption{Method: gw.Name()}

	svc, err := gw.CheckServiceability(ctx, in.PostalCode)
	if err != nil {
		if errors.Is(err, carrierdomain.ErrNotServiceable) {
			return opt
		}
		opt.Error = err.Error()
		opt.Retryable = carrierdomain.IsRetryable(err)
		return opt
	}
	opt.Serviceable = svc.Serviceable
	opt.COD = svc.COD
	opt.EstimatedDays = svc.EstimatedDays
	if !svc.Serviceable {
		return opt
	}

	quote, err := gw.QuoteRate(ctx, carrierdomain.RateRequest{
		OriginPostalCode:      s.origin,
		DestinationPostalCode: in.PostalCode,
		WeightGrams:           in.WeightGrams,
		CODAmount:             in.CODAmount,
	})
	if err != nil {
		if errors.Is(err, carrierdomain.ErrNotServiceable) {
			opt.Serviceable = false
			return opt
		}
		opt.Error = err.Error()
		opt.Retryable = carrierdomain.IsRetryable(err)
		return opt
	}
	charge := quote.Charge
	opt.Charge = &charge
	opt.Currency = quote.Currency
	if quote.EstimatedDays > 0 {
		opt.EstimatedDays = quote.EstimatedDays
	}
	return opt
}

// Methods lists the delivery methods an admin can pick.
func (s *AssignmentService) Methods() []string {
	return s.carriers.Names()
}

// ListAssignable returns paid or COD orders waiting for a delivery method.
func (s *AssignmentService) ListAssignable(ctx context.Context, limit, offset int64) ([]*orderdomain.Order, error) {
	return s.orders.List(ctx, orderports.ListFilter{
		Statuses:       []orderdomain.OrderStatus{orderdomain.OrderStatusConfirmed, orderdomain.OrderStatusProcessing},
		Unassigned:     true,
		PaymentCleared: true,
		Limit:          limit,
		Offset:         offset,
	})
}

func shipmentRequest(o *orderdomain.Order) carrierdomain.ShipmentRequest {
	items := make([]carrierdomain.ShipmentItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, carrierdomain.ShipmentItem{
			SKU:       it.SKU,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return carrierdomain.ShipmentRequest{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		OrderedAt:     o.CreatedAt,
		Destination:   o.ShippingAddress,
		Items:         items,
		WeightGrams:   o.TotalWeightGrams(),
		DeclaredValue: o.Pricing.Total,
		CODAmount:     o.CODAmount(),
	}
}

func assignmentShipping(in domain.AssignInput, method string, shipment *carrierdomain.Shipment, rec *trackingdomain.ShipmentTracking) orderdomain.Shipping {
	sh := orderdomain.Shipping{
		DeliveryMethod:    method,
		TrackingNumber:    shipment.TrackingNumber,
		TrackingID:        rec.ID,
		AdminNotes:        in.Notes,
		EstimatedDelivery: shipment.EstimatedDelivery,
	}
	if method != carrierdomain.ManualCarrier {
		sh.CarrierName = method
	}
	return sh
}
