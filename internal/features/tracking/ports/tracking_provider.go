package ports

import (
	"context"
	"time"

	carrierports "order-fulfillment/internal/features/carriers/ports"
	"order-fulfillment/internal/features/tracking/domain"
)

// Repository persists shipment tracking records and orphan events.
type Repository interface {
	Create(ctx context.Context, rec *domain.ShipmentTracking) error
	GetByID(ctx context.Context, id string) (*domain.ShipmentTracking, error)
	// FindByTracking prefers the active record for a carrier tracking number.
	FindByTracking(ctx context.Context, carrier, trackingNumber string) (*domain.ShipmentTracking, error)
	// FindByTrackingNumber looks a shipment up across carriers for the public view.
	FindByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.ShipmentTracking, error)
	FindActiveByOrder(ctx context.Context, orderID string) (*domain.ShipmentTracking, error)
	ListByOrder(ctx context.Context, orderID string) ([]*domain.ShipmentTracking, error)
	SetState(ctx context.Context, id string, state domain.RecordState) error
	// AppendEvent adds ev keeping events in timestamp order. It returns
	// domain.ErrDuplicateEvent when the event id or (status, timestamp) exists.
	AppendEvent(ctx context.Context, id string, ev domain.TrackingEvent) error
	// SetEventApplied corrects the applied flag of a stored event.
	SetEventApplied(ctx context.Context, id, eventID string, applied bool) error
	// ListStale returns active carrier records without events or polls since before.
	ListStale(ctx context.Context, before time.Time, limit int64) ([]*domain.ShipmentTracking, error)
	MarkPolled(ctx context.Context, id string, at time.Time) error
	SaveOrphan(ctx context.Context, ev domain.OrphanEvent) error
}

// IdempotencyGuard remembers event keys that were durably processed.
type IdempotencyGuard interface {
	// Seen returns true when key was marked.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records key once its event is stored.
	Mark(ctx context.Context, key string) error
}

// GatewayResolver resolves carrier names to gateways.
type GatewayResolver interface {
	Get(name string) (carrierports.Gateway, error)
}

// JobLock guards a scheduled job across instances.
type JobLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
