package config

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds the configuration for the application.
// Tags used:
// - mapstructure: used by viper to unmarshal
// - default: default value to set if missing
// - required: if "true", error if missing
type AppConfig struct {
	// Environment specifies the runtime environment (e.g., development, production).
	Environment string `mapstructure:"APP_ENV" default:"development"`
	// LogLevel defines the logging verbosity (e.g., debug, info, error).
	LogLevel string `mapstructure:"LOG_LEVEL" default:"info"`
	// ServerPort is the port where the server will listen.
	ServerPort int `mapstructure:"SERVER_PORT" default:"8080"`

	Mongo         MongoConfig         `mapstructure:",squash"`
	Redis         RedisConfig         `mapstructure:",squash"`
	JWT           JWTConfig           `mapstructure:",squash"`
	Carriers      CarriersConfig      `mapstructure:",squash"`
	Proxy         ProxyConfig         `mapstructure:",squash"`
	Payments      PaymentsConfig      `mapstructure:",squash"`
	Pricing       PricingConfig       `mapstructure:",squash"`
	Delivery      DeliveryConfig      `mapstructure:",squash"`
	Reconcile     ReconcileConfig     `mapstructure:",squash"`
	Notifications NotificationsConfig `mapstructure:",squash"`
}

// MongoConfig holds the document store connection details.
type MongoConfig struct {
	// URI is the MongoDB connection string.
	URI string `mapstructure:"MONGO_URI" required:"true"`
	// Database is the database holding orders, tracking and catalog collections.
	Database string `mapstructure:"MONGO_DATABASE" default:"ecommerce"`
}

// RedisConfig holds the Redis connection details.
type RedisConfig struct {
	// URL is in the format redis://[:password@]host[:port][/database].
	URL string `mapstructure:"REDIS_URL" required:"true"`
}

// JWTConfig holds the bearer token verification settings.
type JWTConfig struct {
	Secret string `mapstructure:"JWT_SECRET" required:"true"`
	Issuer string `mapstructure:"JWT_ISSUER" default:"order-fulfillment"`
}

// CarriersConfig holds the credentials for the carrier integrations.
// A carrier is only registered when its credentials are present.
type CarriersConfig struct {
	// Timeout bounds every outbound carrier call.
	Timeout time.Duration `mapstructure:"CARRIER_TIMEOUT" default:"10s"`
	// OriginPostalCode is the warehouse pin code used for rate quotes.
	OriginPostalCode string `mapstructure:"ORIGIN_POSTAL_CODE" required:"true"`

	DelhiveryBaseURL        string `mapstructure:"DELHIVERY_BASE_URL" default:"https://track.delhivery.com"`
	DelhiveryAPIToken       string `mapstructure:"DELHIVERY_API_TOKEN"`
	DelhiveryPickupLocation string `mapstructure:"DELHIVERY_PICKUP_LOCATION" default:"Primary Warehouse"`
	DelhiveryWebhookToken   string `mapstructure:"DELHIVERY_WEBHOOK_TOKEN"`

	ShiprocketBaseURL        string `mapstructure:"SHIPROCKET_BASE_URL" default:"https://apiv2.shiprocket.in"`
	ShiprocketEmail          string `mapstructure:"SHIPROCKET_EMAIL"`
	ShiprocketPassword       string `mapstructure:"SHIPROCKET_PASSWORD"`
	ShiprocketPickupLocation string `mapstructure:"SHIPROCKET_PICKUP_LOCATION" default:"Primary"`
	ShiprocketWebhookToken   string `mapstructure:"SHIPROCKET_WEBHOOK_TOKEN"`

	// ServiceabilityCacheTTL controls how long a pin code lookup is reused.
	ServiceabilityCacheTTL time.Duration `mapstructure:"SERVICEABILITY_CACHE_TTL" default:"6h"`
}

// DelhiveryEnabled reports whether Delhivery credentials are configured.
func (c CarriersConfig) DelhiveryEnabled() bool {
	return c.DelhiveryAPIToken != ""
}

// ShiprocketEnabled reports whether Shiprocket credentials are configured.
func (c CarriersConfig) ShiprocketEnabled() bool {
	return c.ShiprocketEmail != "" && c.ShiprocketPassword != ""
}

// ProxyConfig holds the optional outbound proxy used for carrier calls.
type ProxyConfig struct {
	Enabled  bool   `mapstructure:"PROXY_ENABLED" default:"false"`
	Hostname string `mapstructure:"PROXY_HOSTNAME"`
	Port     int    `mapstructure:"PROXY_PORT"`
	Username string `mapstructure:"PROXY_USERNAME"`
	Password string `mapstructure:"PROXY_PASSWORD"`
}

// PaymentsConfig holds the payment gateway credentials.
type PaymentsConfig struct {
	RazorpayKeyID     string `mapstructure:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret string `mapstructure:"RAZORPAY_KEY_SECRET"`
}

// PricingConfig holds the checkout pricing rules.
type PricingConfig struct {
	TaxRate               float64 `mapstructure:"TAX_RATE" default:"0.18"`
	ShippingFlatFee       float64 `mapstructure:"SHIPPING_FLAT_FEE" default:"50"`
	FreeShippingThreshold float64 `mapstructure:"FREE_SHIPPING_THRESHOLD" default:"500"`
	Currency              string  `mapstructure:"CURRENCY" default:"INR"`
}

// DeliveryConfig holds the delivery assignment policy and per-order locking.
type DeliveryConfig struct {
	// AllowAbandon lets a reassignment proceed when the old carrier refuses cancellation.
	AllowAbandon bool `mapstructure:"DELIVERY_ALLOW_ABANDON" default:"false"`
	// WebhookDedupeTTL is how long carrier event ids are remembered in Redis.
	WebhookDedupeTTL time.Duration `mapstructure:"WEBHOOK_DEDUPE_TTL" default:"72h"`
	// OrderLockTTL must exceed the longest carrier round trip inside an assignment.
	OrderLockTTL time.Duration `mapstructure:"ORDER_LOCK_TTL" default:"45s"`
	// OrderLockWait bounds how long a request waits for a busy order.
	OrderLockWait time.Duration `mapstructure:"ORDER_LOCK_WAIT" default:"3s"`
}

// ReconcileConfig holds the reconciliation sweep cadence.
type ReconcileConfig struct {
	Interval   time.Duration `mapstructure:"RECONCILE_INTERVAL" default:"15m"`
	StaleAfter time.Duration `mapstructure:"RECONCILE_STALE_AFTER" default:"6h"`
	// MetricsPort serves /metrics for the standalone reconciler.
	MetricsPort int `mapstructure:"RECONCILE_METRICS_PORT" default:"9102"`
}

// NotificationsConfig holds the customer e-mail settings.
type NotificationsConfig struct {
	PostmarkServerToken string `mapstructure:"POSTMARK_SERVER_TOKEN"`
	FromEmail           string `mapstructure:"NOTIFY_FROM_EMAIL" default:"orders@example.com"`
}

// Load loads configuration from .env files and environment variables.
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.AutomaticEnv()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config AppConfig

	processTags(v, &config)

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := validateRequired(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// processTags binds every tagged field to its env var and registers its default.
func processTags(v *viper.Viper, config interface{}) {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			processTags(v, val.Field(i).Addr().Interface())
			continue
		}

		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}

		_ = v.BindEnv(key)

		if defaultValue := field.Tag.Get("default"); defaultValue != "" {
			v.SetDefault(key, defaultValue)
		}
	}
}

// validateRequired checks if fields marked as required have non-zero values.
func validateRequired(config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := validateRequired(val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		if field.Tag.Get("required") == "true" && isZero(val.Field(i)) {
			return fmt.Errorf("missing required configuration: %s", field.Tag.Get("mapstructure"))
		}
	}
	return nil
}

// isZero checks if a reflect.Value is the zero value for its type.
func isZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.String() == ""
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}
