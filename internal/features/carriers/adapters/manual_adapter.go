package adapters

import (
	"context"
	"strings"

	"order-fulfillment/internal/features/carriers/domain"

	"github.com/shopspring/decimal"
)

// ManualAdapter is the in-house delivery "carrier". It is always serviceable,
// charges nothing and books shipments without a tracking number, so the
// assignment flow treats manual and carrier delivery the same way.
type ManualAdapter struct {
	currency string
}

// NewManualAdapter creates a ManualAdapter quoting in currency.
func NewManualAdapter(currency string) *ManualAdapter {
	return &ManualAdapter{currency: currency}
}

// Name implements ports.Gateway.
func (a *ManualAdapter) Name() string {
	return domain.ManualCarrier
}

// CheckServiceability implements ports.Gateway.
func (a *ManualAdapter) CheckServiceability(_ context.Context, postalCode string) (*domain.Serviceability, error) {
	return &domain.Serviceability{
		Carrier:     domain.ManualCarrier,
		PostalCode:  postalCode,
		Serviceable: true,
		COD:         true,
	}, nil
}

// QuoteRate implements ports.Gateway.
func (a *ManualAdapter) QuoteRate(_ context.Context, _ domain.RateRequest) (*domain.RateQuote, error) {
	return &domain.RateQuote{Carrier: domain.ManualCarrier, Charge: decimal.Zero, Currency: a.currency}, nil
}

// CreateShipment implements ports.Gateway.
func (a *ManualAdapter) CreateShipment(_ context.Context, req domain.ShipmentRequest) (*domain.Shipment, error) {
	return &domain.Shipment{Carrier: domain.ManualCarrier, CarrierReference: req.OrderNumber, Charge: decimal.Zero}, nil
}

// CancelShipment implements ports.Gateway.
func (a *ManualAdapter) CancelShipment(_ context.Context, _ string) error {
	return nil
}

// FetchTracking implements ports.Gateway. Manual shipments have no carrier feed.
func (a *ManualAdapter) FetchTracking(_ context.Context, _ string) ([]domain.RawCarrierEvent, error) {
	return nil, nil
}

// ParseWebhook implements ports.Gateway. Manual delivery has no webhook.
func (a *ManualAdapter) ParseWebhook(_ domain.WebhookRequest) ([]domain.RawCarrierEvent, error) {
	return nil, domain.NewCarrierError(domain.ManualCarrier, "parse_webhook", domain.ErrUnknownCarrier, nil)
}

// NormalizeStatus implements ports.Gateway using the shared vocabulary.
func (a *ManualAdapter) NormalizeStatus(ev domain.RawCarrierEvent) (domain.NormalizedEvent, error) {
	status, ok := domain.NormalizeCommon(ev.Status)
	if !ok {
		return domain.NormalizedEvent{}, domain.NewCarrierError(domain.ManualCarrier, "normalize_status", domain.ErrUnrecognizedStatus, errString(strings.TrimSpace(ev.Status)))
	}
	return toNormalized(ev, status), nil
}
