package ports

import (
	"context"

	"order-fulfillment/internal/features/carriers/domain"
)

// Gateway is the capability interface every carrier backend implements.
// Failures are *domain.CarrierError values whose Kind distinguishes
// NotServiceable, CarrierUnavailable and InvalidRequest.
type Gateway interface {
	// Name returns the delivery method name used on orders and webhook routes.
	Name() string
	// CheckServiceability reports whether the carrier delivers to postalCode.
	CheckServiceability(ctx context.Context, postalCode string) (*domain.Serviceability, error)
	// QuoteRate prices a parcel.
	QuoteRate(ctx context.Context, req domain.RateRequest) (*domain.RateQuote, error)
	// CreateShipment books a shipment and returns its tracking number.
	CreateShipment(ctx context.Context, req domain.ShipmentRequest) (*domain.Shipment, error)
	// CancelShipment cancels a booked shipment. A nil error means it was cancelled.
	CancelShipment(ctx context.Context, trackingNumber string) error
	// FetchTracking polls the carrier for the scan history of a shipment.
	FetchTracking(ctx context.Context, trackingNumber string) ([]domain.RawCarrierEvent, error)
	// ParseWebhook authenticates and decodes a pushed status payload.
	ParseWebhook(req domain.WebhookRequest) ([]domain.RawCarrierEvent, error)
	// NormalizeStatus maps a raw event onto the internal vocabulary.
	NormalizeStatus(ev domain.RawCarrierEvent) (domain.NormalizedEvent, error)
}
