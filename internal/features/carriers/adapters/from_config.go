package adapters

import (
	"order-fulfillment/internal/core/config"
	"order-fulfillment/internal/core/httpclient"
	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/features/carriers/ports"

	"go.uber.org/zap"
)

// FromConfig builds the gateways whose credentials are configured. The
// manual method is always present.
func FromConfig(cfg *config.AppConfig) []ports.Gateway {
	proxy := httpclient.ProxySettings{
		Enabled:  cfg.Proxy.Enabled,
		Hostname: cfg.Proxy.Hostname,
		Port:     cfg.Proxy.Port,
		Username: cfg.Proxy.Username,
		Password: cfg.Proxy.Password,
	}
	currency := cfg.Pricing.Currency
	c := cfg.Carriers

	gateways := []ports.Gateway{NewManualAdapter(currency)}

	if c.DelhiveryEnabled() {
		warnUnsignedWebhooks(DelhiveryName, c.DelhiveryWebhookToken, "DELHIVERY_WEBHOOK_TOKEN")
		gateways = append(gateways, NewDelhiveryAdapter(DelhiveryConfig{
			BaseURL:        c.DelhiveryBaseURL,
			APIToken:       c.DelhiveryAPIToken,
			PickupLocation: c.DelhiveryPickupLocation,
			WebhookToken:   c.DelhiveryWebhookToken,
			Currency:       currency,
			Timeout:        c.Timeout,
			Proxy:          proxy,
		}))
	}
	if c.ShiprocketEnabled() {
		warnUnsignedWebhooks(ShiprocketName, c.ShiprocketWebhookToken, "SHIPROCKET_WEBHOOK_TOKEN")
		gateways = append(gateways, NewShiprocketAdapter(ShiprocketConfig{
			BaseURL:          c.ShiprocketBaseURL,
			Email:            c.ShiprocketEmail,
			Password:         c.ShiprocketPassword,
			PickupLocation:   c.ShiprocketPickupLocation,
			OriginPostalCode: c.OriginPostalCode,
			WebhookToken:     c.ShiprocketWebhookToken,
			Currency:         currency,
			Timeout:          c.Timeout,
			Proxy:            proxy,
		}))
	}

	names := make([]string, 0, len(gateways))
	for _, g := range gateways {
		names = append(names, g.Name())
	}
	logger.Get().Info("Delivery methods configured", zap.Strings("methods", names))
	return gateways
}

func warnUnsignedWebhooks(carrier, token, key string) {
	if token != "" {
		return
	}
	logger.Get().Warn("Webhook secret not set, carrier pushes will be rejected and tracking relies on polling",
		zap.String("carrier", carrier),
		zap.String("config_key", key),
	)
}
