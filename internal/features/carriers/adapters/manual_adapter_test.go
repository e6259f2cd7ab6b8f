package adapters

import (
	"context"
	"testing"

	"order-fulfillment/internal/features/carriers/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualAdapter(t *testing.T) {
	a := NewManualAdapter("INR")
	ctx := context.Background()

	assert.Equal(t, domain.ManualCarrier, a.Name())

	svc, err := a.CheckServiceability(ctx, "999999")
	require.NoError(t, err)
	assert.True(t, svc.Serviceable)

	quote, err := a.QuoteRate(ctx, domain.RateRequest{DestinationPostalCode: "560001", WeightGrams: 500})
	require.NoError(t, err)
	assert.True(t, quote.Charge.IsZero())
	assert.Equal(t, "INR", quote.Currency)

	shipment, err := a.CreateShipment(ctx, domain.ShipmentRequest{OrderNumber: "ORD-1001"})
	require.NoError(t, err)
	assert.Empty(t, shipment.TrackingNumber)
	assert.Equal(t, domain.ManualCarrier, shipment.Carrier)

	assert.NoError(t, a.CancelShipment(ctx, ""))

	events, err := a.FetchTracking(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = a.ParseWebhook(domain.WebhookRequest{Body: []byte(`{}`)})
	assert.ErrorIs(t, err, domain.ErrUnknownCarrier)
}

func TestManualAdapter_NormalizeStatus(t *testing.T) {
	a := NewManualAdapter("INR")

	ev, err := a.NormalizeStatus(domain.RawCarrierEvent{Status: "delivered"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, ev.Status)

	_, err = a.NormalizeStatus(domain.RawCarrierEvent{Status: "teleported"})
	assert.ErrorIs(t, err, domain.ErrUnrecognizedStatus)
}
