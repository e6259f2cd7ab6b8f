package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/core/metrics"
	"order-fulfillment/internal/core/validation"
	carrierdomain "order-fulfillment/internal/features/carriers/domain"
	carrierports "order-fulfillment/internal/features/carriers/ports"
	orderdomain "order-fulfillment/internal/features/orders/domain"
	orderports "order-fulfillment/internal/features/orders/ports"
	orderservice "order-fulfillment/internal/features/orders/service"
	"order-fulfillment/internal/features/tracking/domain"
	"order-fulfillment/internal/features/tracking/ports"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const guardTimeout = 2 * time.Second

type outcome string

const (
	outcomeApplied   outcome = "applied"
	outcomeRecorded  outcome = "recorded"
	outcomeDuplicate outcome = "duplicate"
	outcomeOrphan    outcome = "orphan"
	outcomeIgnored   outcome = "ignored"
	outcomeFailed    outcome = "failed"
)

// Deps wires the TrackingService collaborators. Guard and Metrics may be nil.
type Deps struct {
	Repo     ports.Repository
	Gateways ports.GatewayResolver
	Orders   orderports.Repository
	Machine  *orderservice.StateMachine
	Locker   orderports.Locker
	Guard    ports.IdempotencyGuard
	Metrics  *metrics.Metrics
}

// TrackingService ingests carrier events into shipment histories and drives
// order status from them.
type TrackingService struct {
	repo     ports.Repository
	gateways ports.GatewayResolver
	orders   orderports.Repository
	machine  *orderservice.StateMachine
	locker   orderports.Locker
	guard    ports.IdempotencyGuard
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewTrackingService creates a new TrackingService.
func NewTrackingService(d Deps) *TrackingService {
	return &TrackingService{
		repo:     d.Repo,
		gateways: d.Gateways,
		orders:   d.Orders,
		machine:  d.Machine,
		locker:   d.Locker,
		guard:    d.Guard,
		metrics:  d.Metrics,
		now:      time.Now,
	}
}

// HandleWebhook authenticates and ingests one webhook call. It returns an error
// only for unknown carriers, failed authentication and events that could not
// be durably recorded.
func (s *TrackingService) HandleWebhook(ctx context.Context, carrier string, req carrierdomain.WebhookRequest) (domain.IngestSummary, error) {
	gw, err := s.gateways.Get(carrier)
	if err != nil {
		return domain.IngestSummary{}, err
	}

	raws, err := gw.ParseWebhook(req)
	if err != nil {
		if errors.Is(err, carrierdomain.ErrWebhookUnauthorized) {
			logger.Get().Warn("Webhook authentication failed", zap.String("carrier", carrier))
			return domain.IngestSummary{}, err
		}
		if errors.Is(err, carrierdomain.ErrUnknownCarrier) {
			return domain.IngestSummary{}, err
		}
		logger.Get().Warn("Dropping malformed webhook payload",
			zap.String("carrier", carrier),
			zap.Int("body_bytes", len(req.Body)),
			zap.Error(err),
		)
		s.metrics.ObserveCarrierEvent(carrier, string(outcomeIgnored))
		return domain.IngestSummary{Received: 1, Ignored: 1}, nil
	}

	return s.Ingest(ctx, gw, raws, domain.SourceWebhook)
}

// Ingest feeds raw carrier events through validation, normalization,
// de-duplication and the order state machine, in the order given.
func (s *TrackingService) Ingest(ctx context.Context, gw carrierports.Gateway, raws []carrierdomain.RawCarrierEvent, source domain.EventSource) (domain.IngestSummary, error) {
	var (
		sum  domain.IngestSummary
		errs error
	)
	for _, raw := range raws {
		sum.Received++
		res, err := s.ingestOne(ctx, gw, raw, source)
		s.metrics.ObserveCarrierEvent(gw.Name(), string(res))
		switch res {
		case outcomeApplied:
			sum.Applied++
		case outcomeRecorded:
			sum.Recorded++
		case outcomeDuplicate:
			sum.Duplicates++
		case outcomeOrphan:
			sum.Orphans++
		case outcomeIgnored:
			sum.Ignored++
		}
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return sum, errs
}

func (s *TrackingService) ingestOne(ctx context.Context, gw carrierports.Gateway, raw carrierdomain.RawCarrierEvent, source domain.EventSource) (outcome, error) {
	if raw.Carrier == "" {
		raw.Carrier = gw.Name()
	}
	log := logger.Get().With(
		zap.String("carrier", raw.Carrier),
		zap.String("tracking_number", raw.TrackingNumber),
		zap.String("event_id", raw.EventID),
		zap.String("source", string(source)),
	)

	if err := validation.Struct(raw); err != nil {
		log.Warn("Dropping invalid carrier event", zap.Error(fmt.Errorf("%w: %v", domain.ErrUnrecognizedWebhookEvent, err)))
		return outcomeIgnored, nil
	}
	ev, err := gw.NormalizeStatus(raw)
	if err != nil {
		log.Warn("Dropping carrier event with unrecognized status",
			zap.String("raw_status", raw.Status),
			zap.Error(fmt.Errorf("%w: %v", domain.ErrUnrecognizedWebhookEvent, err)),
		)
		return outcomeIgnored, nil
	}

	key := "webhook:" + ev.Carrier + ":" + ev.EventID
	if s.guard != nil {
		seen, err := s.guard.Seen(ctx, key)
		switch {
		case err != nil:
			log.Warn("Idempotency guard unavailable, relying on the event log", zap.Error(err))
		case seen:
			log.Debug("Skipping already processed carrier event")
			return outcomeDuplicate, nil
		}
	}

	res, err := s.apply(ctx, ev, source)
	if err != nil {
		log.Error("Failed to record carrier event", zap.Error(err))
		return outcomeFailed, err
	}
	s.markProcessed(ctx, key, log)
	log.Info("Carrier event processed", zap.String("status", string(ev.Status)), zap.String("outcome", string(res)))
	return res, nil
}

// markProcessed remembers key only after the event is stored. It outlives a
// cancelled request so a finished event is not re-driven on redelivery.
func (s *TrackingService) markProcessed(ctx context.Context, key string, log *zap.Logger) {
	if s.guard == nil {
		return
	}
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), guardTimeout)
	defer cancel()
	if err := s.guard.Mark(markCtx, key); err != nil {
		log.Warn("Failed to mark carrier event as processed", zap.Error(err))
	}
}

func (s *TrackingService) apply(ctx context.Context, ev carrierdomain.NormalizedEvent, source domain.EventSource) (outcome, error) {
	now := s.now().UTC()

	rec, err := s.repo.FindByTracking(ctx, ev.Carrier, ev.TrackingNumber)
	if errors.Is(err, domain.ErrTrackingNotFound) {
		orphan := domain.OrphanEvent{
			Carrier:        ev.Carrier,
			TrackingNumber: ev.TrackingNumber,
			EventID:        ev.EventID,
			Status:         string(ev.Status),
			Timestamp:      ev.Timestamp,
			ReceivedAt:     now,
			Raw:            string(ev.Payload),
		}
		if err := s.repo.SaveOrphan(ctx, orphan); err != nil {
			return outcomeFailed, err
		}
		logger.Get().Warn("Carrier event for unknown tracking number recorded as orphan",
			zap.String("carrier", ev.Carrier),
			zap.String("tracking_number", ev.TrackingNumber),
		)
		return outcomeOrphan, nil
	}
	if err != nil {
		return outcomeFailed, err
	}

	event := domain.TrackingEvent{
		EventID:     ev.EventID,
		Status:      string(ev.Status),
		RawStatus:   ev.RawStatus,
		Location:    ev.Location,
		Description: ev.Description,
		Timestamp:   ev.Timestamp,
		ReceivedAt:  now,
		Source:      source,
		Agent:       ev.Agent,
		Raw:         string(ev.Payload),
	}
	target := orderdomain.OrderStatus(ev.Status)
	result := outcomeRecorded

	err = orderservice.WithOrderLock(ctx, s.locker, rec.OrderID, func(ctx context.Context) error {
		// A reassignment may have retired the record since it was looked up.
		current, err := s.repo.GetByID(ctx, rec.ID)
		if err != nil {
			return err
		}
		order, err := s.orders.GetByID(ctx, rec.OrderID)
		if err != nil {
			return err
		}
		// Only the active shipment may move the order, and only forward.
		drives := current.IsActive() &&
			order.Status != target &&
			orderdomain.CanTransition(order.Status, target, orderdomain.ActorCarrier) == nil
		event.Applied = drives

		duplicate := false
		if err := s.repo.AppendEvent(ctx, rec.ID, event); err != nil {
			if !errors.Is(err, domain.ErrDuplicateEvent) {
				return err
			}
			duplicate = true
			result = outcomeDuplicate
		}
		if !drives {
			return nil
		}

		// A duplicate that still drives the order is a redelivery after an
		// earlier failed transition.
		res, err := s.machine.Transition(ctx, rec.OrderID, target, orderdomain.CarrierActor(ev.Carrier), orderdomain.TransitionMeta{
			Reason: "carrier event " + ev.RawStatus,
			At:     ev.Timestamp,
		})
		if errors.Is(err, orderdomain.ErrInvalidTransition) {
			return s.repo.SetEventApplied(ctx, rec.ID, event.EventID, false)
		}
		if err != nil {
			return err
		}
		if res.StatusChanged() {
			result = outcomeApplied
		} else {
			if err := s.repo.SetEventApplied(ctx, rec.ID, event.EventID, false); err != nil {
				return err
			}
			if duplicate {
				result = outcomeDuplicate
			}
		}
		return nil
	})
	if err != nil {
		return outcomeFailed, err
	}
	return result, nil
}

// RecordAdminEvent appends a manual status change to the order's active
// shipment history. Orders without one are skipped.
func (s *TrackingService) RecordAdminEvent(ctx context.Context, order *orderdomain.Order, status orderdomain.OrderStatus, at time.Time, note string) error {
	rec, err := s.repo.FindActiveByOrder(ctx, order.ID)
	if errors.Is(err, domain.ErrTrackingNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.repo.AppendEvent(ctx, rec.ID, domain.TrackingEvent{
		EventID:     uuid.NewString(),
		Status:      string(status),
		Description: note,
		Timestamp:   at,
		ReceivedAt:  s.now().UTC(),
		Source:      domain.SourceAdmin,
		Applied:     true,
	})
}

// Track returns the public tracking view of a shipment.
func (s *TrackingService) Track(ctx context.Context, trackingNumber string) (*domain.TrackingHistory, error) {
	rec, err := s.repo.FindByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.GetByID(ctx, rec.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order for tracking %s: %w", trackingNumber, err)
	}

	events := append([]domain.TrackingEvent{}, rec.Events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	current := rec.CurrentStatus
	if current == "" {
		current = string(order.Status)
	}
	view := &domain.TrackingHistory{
		TrackingNumber: rec.TrackingNumber,
		Carrier:        rec.Carrier,
		OrderNumber:    rec.OrderNumber,
		CurrentStatus:  current,
		OrderStatus:    string(order.Status),
		Events:         events,
	}
	if rec.IsActive() {
		view.EstimatedDelivery = order.Shipping.EstimatedDelivery
		view.ActualDelivery = order.Shipping.ActualDelivery
	}
	return view, nil
}

// History lists every shipment attempt of an order, oldest first.
func (s *TrackingService) History(ctx context.Context, orderID string) ([]*domain.ShipmentTracking, error) {
	return s.repo.ListByOrder(ctx, orderID)
}
