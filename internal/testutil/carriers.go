package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"order-fulfillment/internal/features/carriers/domain"
	"order-fulfillment/internal/features/carriers/ports"

	"github.com/shopspring/decimal"
)

// WebhookTokenHeader is checked by FakeGateway.ParseWebhook.
const WebhookTokenHeader = "x-webhook-token"

// FakeGateway is a scriptable carrier gateway.
type FakeGateway struct {
	mu sync.Mutex

	CarrierName string
	// Unserviceable lists postal codes the carrier does not reach.
	Unserviceable map[string]bool
	Charge        decimal.Decimal
	// AWBs are handed out in order by CreateShipment; "AWB<n>" afterwards.
	AWBs []string
	// WebhookToken is required in the x-webhook-token header when set.
	WebhookToken string
	// Tracking is returned by FetchTracking per tracking number.
	Tracking map[string][]domain.RawCarrierEvent

	ServiceabilityErr error
	CreateErr         error
	CancelErr         error
	FetchErr          error

	Created   []domain.ShipmentRequest
	Cancelled []string
	Checks    int
}

// NewFakeGateway returns a gateway that serves every pin code.
func NewFakeGateway(name string) *FakeGateway {
	return &FakeGateway{
		CarrierName:   name,
		Unserviceable: map[string]bool{},
		Charge:        decimal.NewFromInt(60),
		Tracking:      map[string][]domain.RawCarrierEvent{},
	}
}

var _ ports.Gateway = (*FakeGateway)(nil)

func (g *FakeGateway) Name() string { return g.CarrierName }

func (g *FakeGateway) CheckServiceability(_ context.Context, postalCode string) (*domain.Serviceability, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Checks++
	if g.ServiceabilityErr != nil {
		return nil, g.ServiceabilityErr
	}
	return &domain.Serviceability{
		Carrier:       g.CarrierName,
		PostalCode:    postalCode,
		Serviceable:   !g.Unserviceable[postalCode],
		EstimatedDays: 3,
		COD:           true,
	}, nil
}

func (g *FakeGateway) QuoteRate(_ context.Context, req domain.RateRequest) (*domain.RateQuote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Unserviceable[req.DestinationPostalCode] {
		return nil, domain.NewCarrierError(g.CarrierName, "quote_rate", domain.ErrNotServiceable, nil)
	}
	return &domain.RateQuote{Carrier: g.CarrierName, Charge: g.Charge, Currency: "INR", EstimatedDays: 3}, nil
}

func (g *FakeGateway) CreateShipment(_ context.Context, req domain.ShipmentRequest) (*domain.Shipment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}
	g.Created = append(g.Created, req)
	awb := fmt.Sprintf("AWB%d", len(g.Created))
	if len(g.AWBs) > 0 {
		awb = g.AWBs[0]
		g.AWBs = g.AWBs[1:]
	}
	eta := req.OrderedAt.Add(72 * time.Hour)
	return &domain.Shipment{
		Carrier:           g.CarrierName,
		TrackingNumber:    awb,
		CarrierReference:  "ref-" + awb,
		Charge:            g.Charge,
		EstimatedDelivery: &eta,
	}, nil
}

func (g *FakeGateway) CancelShipment(_ context.Context, trackingNumber string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CancelErr != nil {
		return g.CancelErr
	}
	g.Cancelled = append(g.Cancelled, trackingNumber)
	return nil
}

func (g *FakeGateway) FetchTracking(_ context.Context, trackingNumber string) ([]domain.RawCarrierEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FetchErr != nil {
		return nil, g.FetchErr
	}
	return g.Tracking[trackingNumber], nil
}

// FakeWebhookEvent is the payload shape FakeGateway accepts.
type FakeWebhookEvent struct {
	EventID        string    `json:"eventId,omitempty"`
	TrackingNumber string    `json:"trackingNumber"`
	Status         string    `json:"status"`
	Location       string    `json:"location,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ParseWebhook accepts a JSON array of FakeWebhookEvent.
func (g *FakeGateway) ParseWebhook(req domain.WebhookRequest) ([]domain.RawCarrierEvent, error) {
	if g.WebhookToken != "" && req.Header(WebhookTokenHeader) != g.WebhookToken {
		return nil, domain.NewCarrierError(g.CarrierName, "parse_webhook", domain.ErrWebhookUnauthorized, nil)
	}
	var payload []FakeWebhookEvent
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, domain.NewCarrierError(g.CarrierName, "parse_webhook", domain.ErrInvalidRequest, err)
	}
	out := make([]domain.RawCarrierEvent, 0, len(payload))
	for _, p := range payload {
		id := p.EventID
		if id == "" {
			id = domain.SyntheticEventID(g.CarrierName, p.TrackingNumber, p.Status, p.Timestamp)
		}
		out = append(out, domain.RawCarrierEvent{
			Carrier:        g.CarrierName,
			EventID:        id,
			TrackingNumber: p.TrackingNumber,
			Status:         p.Status,
			Location:       p.Location,
			Timestamp:      p.Timestamp,
		})
	}
	return out, nil
}

func (g *FakeGateway) NormalizeStatus(ev domain.RawCarrierEvent) (domain.NormalizedEvent, error) {
	status, ok := domain.NormalizeCommon(ev.Status)
	if !ok {
		return domain.NormalizedEvent{}, domain.NewCarrierError(g.CarrierName, "normalize_status", domain.ErrUnrecognizedStatus, fmt.Errorf("status %q", ev.Status))
	}
	return domain.NormalizedEvent{
		Carrier:        ev.Carrier,
		EventID:        ev.EventID,
		TrackingNumber: ev.TrackingNumber,
		Status:         status,
		RawStatus:      ev.Status,
		Location:       ev.Location,
		Description:    ev.Description,
		Timestamp:      ev.Timestamp,
		Agent:          ev.Agent,
		Payload:        ev.Payload,
	}, nil
}

// CreatedCount returns how many shipments were booked.
func (g *FakeGateway) CreatedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Created)
}

// Gateways resolves names to gateways like the carrier registry.
type Gateways map[string]ports.Gateway

// NewGateways indexes gateways by name.
func NewGateways(gws ...ports.Gateway) Gateways {
	out := Gateways{}
	for _, g := range gws {
		out[g.Name()] = g
	}
	return out
}

func (g Gateways) Get(name string) (ports.Gateway, error) {
	gw, ok := g[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCarrier, name)
	}
	return gw, nil
}

// Names lists the registered methods in order.
func (g Gateways) Names() []string {
	return sortedKeys(g)
}

// ServiceableAlternatives mirrors the registry lookup without caching.
func (g Gateways) ServiceableAlternatives(ctx context.Context, postalCode, exclude string) []string {
	var out []string
	for _, name := range sortedKeys(g) {
		if name == exclude {
			continue
		}
		res, err := g[name].CheckServiceability(ctx, postalCode)
		if err == nil && res.Serviceable {
			out = append(out, name)
		}
	}
	return out
}

func sortedKeys(g Gateways) []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
