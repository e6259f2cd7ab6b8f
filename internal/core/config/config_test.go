package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requiredEnv = map[string]string{
	"MONGO_URI":          "mongodb://localhost:27017",
	"REDIS_URL":          "redis://localhost:6379/0",
	"JWT_SECRET":         "test-secret",
	"ORIGIN_POSTAL_CODE": "110001",
}

func setEnv(t *testing.T, values map[string]string) {
	t.Helper()
	for k, v := range values {
		t.Setenv(k, v)
	}
}

// TestLoad_Defaults verifies that default values are used when env vars are missing.
func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("APP_ENV")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("SERVER_PORT")
	setEnv(t, requiredEnv)

	cfg, err := Load(".")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "ecommerce", cfg.Mongo.Database)
	assert.Equal(t, 10*time.Second, cfg.Carriers.Timeout)
	assert.Equal(t, 6*time.Hour, cfg.Carriers.ServiceabilityCacheTTL)
	assert.Equal(t, 0.18, cfg.Pricing.TaxRate)
	assert.Equal(t, float64(500), cfg.Pricing.FreeShippingThreshold)
	assert.False(t, cfg.Delivery.AllowAbandon)
	assert.Equal(t, 15*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 9102, cfg.Reconcile.MetricsPort)
	assert.False(t, cfg.Carriers.DelhiveryEnabled())
	assert.False(t, cfg.Carriers.ShiprocketEnabled())
}

// TestLoad_EnvVars verifies that environment variables override defaults.
func TestLoad_EnvVars(t *testing.T) {
	setEnv(t, requiredEnv)
	setEnv(t, map[string]string{
		"APP_ENV":                "production",
		"LOG_LEVEL":              "debug",
		"SERVER_PORT":            "9090",
		"CARRIER_TIMEOUT":        "3s",
		"DELHIVERY_API_TOKEN":    "dl-token",
		"SHIPROCKET_EMAIL":       "ops@example.com",
		"SHIPROCKET_PASSWORD":    "secret",
		"DELIVERY_ALLOW_ABANDON": "true",
	})

	cfg, err := Load(".")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, 3*time.Second, cfg.Carriers.Timeout)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.True(t, cfg.Carriers.DelhiveryEnabled())
	assert.True(t, cfg.Carriers.ShiprocketEnabled())
	assert.True(t, cfg.Delivery.AllowAbandon)
}

// TestLoad_File verifies that values are loaded from a .env file.
func TestLoad_File(t *testing.T) {
	content := []byte(`
APP_ENV=staging
LOG_LEVEL=warn
SERVER_PORT=7070
MONGO_URI=mongodb://staging:27017
REDIS_URL=redis://staging:6379/1
JWT_SECRET=staging-secret
ORIGIN_POSTAL_CODE=560001
TAX_RATE=0.05
`)
	err := os.WriteFile(".env", content, 0644)
	require.NoError(t, err)
	defer os.Remove(".env")

	cfg, err := Load(".")
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7070, cfg.ServerPort)
	assert.Equal(t, "560001", cfg.Carriers.OriginPostalCode)
	assert.Equal(t, 0.05, cfg.Pricing.TaxRate)
}

// TestLoad_ValidationFailure verifies that missing required fields return an error.
func TestLoad_ValidationFailure(t *testing.T) {
	os.Unsetenv("MONGO_URI")
	os.Unsetenv("REDIS_URL")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("ORIGIN_POSTAL_CODE")

	cfg, err := Load(".")
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "missing required configuration")
}
