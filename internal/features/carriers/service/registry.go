package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"order-fulfillment/internal/core/cache"
	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/core/metrics"
	"order-fulfillment/internal/features/carriers/domain"
	"order-fulfillment/internal/features/carriers/ports"

	"go.uber.org/zap"
)

const serviceabilityKeyPrefix = "serviceability:"

// Registry resolves delivery method names to gateways. Gateways handed out
// by Get record call metrics and share a Redis serviceability cache.
type Registry struct {
	gateways map[string]ports.Gateway
	cache    cache.Cache
	ttl      time.Duration
	metrics  *metrics.Metrics
}

// NewRegistry wraps gateways. c may be nil to disable serviceability caching.
func NewRegistry(c cache.Cache, ttl time.Duration, m *metrics.Metrics, gateways ...ports.Gateway) *Registry {
	r := &Registry{
		gateways: make(map[string]ports.Gateway, len(gateways)),
		cache:    c,
		ttl:      ttl,
		metrics:  m,
	}
	for _, g := range gateways {
		r.gateways[g.Name()] = &instrumented{next: g, registry: r}
	}
	return r
}

// Get returns the gateway registered under name.
func (r *Registry) Get(name string) (ports.Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCarrier, name)
	}
	return g, nil
}

// Names lists registered delivery methods in a stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServiceableAlternatives lists the other methods that can deliver to postalCode.
// Lookup failures are logged and the method is left out.
func (r *Registry) ServiceableAlternatives(ctx context.Context, postalCode, exclude string) []string {
	var out []string
	for _, name := range r.Names() {
		if name == exclude {
			continue
		}
		res, err := r.gateways[name].CheckServiceability(ctx, postalCode)
		if err != nil {
			logger.Get().Warn("Serviceability lookup failed while listing alternatives",
				zap.String("carrier", name),
				zap.String("postal_code", postalCode),
				zap.Error(err),
			)
			continue
		}
		if res.Serviceable {
			out = append(out, name)
		}
	}
	return out
}

func (r *Registry) cachedServiceability(ctx context.Context, carrier, postalCode string) (*domain.Serviceability, bool) {
	if r.cache == nil {
		return nil, false
	}
	data, err := r.cache.Get(ctx, serviceabilityKeyPrefix+carrier+":"+postalCode)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Get().Warn("Serviceability cache read failed", zap.String("carrier", carrier), zap.Error(err))
		}
		return nil, false
	}
	var res domain.Serviceability
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false
	}
	return &res, true
}

func (r *Registry) storeServiceability(ctx context.Context, res *domain.Serviceability) {
	if r.cache == nil || r.ttl <= 0 {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, serviceabilityKeyPrefix+res.Carrier+":"+res.PostalCode, data, r.ttl); err != nil {
		logger.Get().Warn("Serviceability cache write failed", zap.String("carrier", res.Carrier), zap.Error(err))
	}
}

// instrumented decorates a gateway with metrics and the serviceability cache.
type instrumented struct {
	next     ports.Gateway
	registry *Registry
}

func (g *instrumented) observe(op string, start time.Time, err error) {
	g.registry.metrics.ObserveCarrierCall(g.next.Name(), op, err, time.Since(start))
}

func (g *instrumented) Name() string {
	return g.next.Name()
}

func (g *instrumented) CheckServiceability(ctx context.Context, postalCode string) (*domain.Serviceability, error) {
	if res, ok := g.registry.cachedServiceability(ctx, g.next.Name(), postalCode); ok {
		return res, nil
	}
	start := time.Now()
	res, err := g.next.CheckServiceability(ctx, postalCode)
	g.observe("check_serviceability", start, err)
	if err != nil {
		return nil, err
	}
	if res.Carrier == "" {
		res.Carrier = g.next.Name()
	}
	if res.PostalCode == "" {
		res.PostalCode = postalCode
	}
	g.registry.storeServiceability(ctx, res)
	return res, nil
}

func (g *instrumented) QuoteRate(ctx context.Context, req domain.RateRequest) (*domain.RateQuote, error) {
	start := time.Now()
	res, err := g.next.QuoteRate(ctx, req)
	g.observe("quote_rate", start, err)
	return res, err
}

func (g *instrumented) CreateShipment(ctx context.Context, req domain.ShipmentRequest) (*domain.Shipment, error) {
	start := time.Now()
	res, err := g.next.CreateShipment(ctx, req)
	g.observe("create_shipment", start, err)
	return res, err
}

func (g *instrumented) CancelShipment(ctx context.Context, trackingNumber string) error {
	start := time.Now()
	err := g.next.CancelShipment(ctx, trackingNumber)
	g.observe("cancel_shipment", start, err)
	return err
}

func (g *instrumented) FetchTracking(ctx context.Context, trackingNumber string) ([]domain.RawCarrierEvent, error) {
	start := time.Now()
	res, err := g.next.FetchTracking(ctx, trackingNumber)
	g.observe("fetch_tracking", start, err)
	return res, err
}

func (g *instrumented) ParseWebhook(req domain.WebhookRequest) ([]domain.RawCarrierEvent, error) {
	return g.next.ParseWebhook(req)
}

func (g *instrumented) NormalizeStatus(ev domain.RawCarrierEvent) (domain.NormalizedEvent, error) {
	return g.next.NormalizeStatus(ev)
}
