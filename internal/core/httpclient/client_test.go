package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"order-fulfillment/internal/core/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoggingRoundTripper verifies that requests are logged.
func TestLoggingRoundTripper(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	logger.Init("development", "debug")

	client := NewClient(1*time.Second, ProxySettings{})
	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestLoggingRoundTripper_Error verifies that failed requests are logged.
func TestLoggingRoundTripper_Error(t *testing.T) {
	logger.Init("development", "debug")

	client := NewClient(1*time.Second, ProxySettings{})
	_, err := client.Get("http://invalid-url-that-does-not-exist.local")
	require.Error(t, err)
}

func TestNewClient_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(50*time.Millisecond, ProxySettings{})
	_, err := client.Get(ts.URL)
	require.Error(t, err)
}

func TestProxySettings_URL(t *testing.T) {
	u, err := ProxySettings{}.URL()
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = ProxySettings{Enabled: true, Hostname: "proxy.local", Port: 3128, Username: "u", Password: "p"}.URL()
	require.NoError(t, err)
	assert.Equal(t, "http://u:p@proxy.local:3128", u.String())

	u, err = ProxySettings{Enabled: true, Hostname: "proxy.local", Port: 3128}.URL()
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.local:3128", u.String())
}
