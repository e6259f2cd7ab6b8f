package adapters

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"order-fulfillment/internal/features/carriers/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shiprocketStub struct {
	logins atomic.Int32
	mux    *http.ServeMux
}

func newShiprocketTest(t *testing.T, routes map[string]http.HandlerFunc) (*ShiprocketAdapter, *shiprocketStub) {
	t.Helper()
	stub := &shiprocketStub{mux: http.NewServeMux()}
	stub.mux.HandleFunc("/v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		n := stub.logins.Add(1)
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		assert.Equal(t, "ops@example.com", creds["email"])
		io.WriteString(w, `{"token":"tok-`+string(rune('0'+n))+`"}`)
	})
	for path, h := range routes {
		stub.mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(stub.mux)
	t.Cleanup(srv.Close)

	a := NewShiprocketAdapter(ShiprocketConfig{
		BaseURL:          srv.URL,
		Email:            "ops@example.com",
		Password:         "secret",
		PickupLocation:   "Primary",
		OriginPostalCode: "110001",
		WebhookToken:     "sr-key",
		Currency:         "INR",
		Timeout:          2 * time.Second,
	})
	return a, stub
}

func TestShiprocketAdapter_TokenCaching(t *testing.T) {
	var lastAuth atomic.Value
	a, stub := newShiprocketTest(t, map[string]http.HandlerFunc{
		"/v1/external/courier/serviceability/": func(w http.ResponseWriter, r *http.Request) {
			lastAuth.Store(r.Header.Get("Authorization"))
			io.WriteString(w, `{"status":200,"data":{"available_courier_companies":[{"courier_name":"Xpress","rate":60,"estimated_delivery_days":"4","cod":1}]}}`)
		},
	})

	for i := 0; i < 3; i++ {
		_, err := a.CheckServiceability(context.Background(), "560001")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), stub.logins.Load())
	assert.Equal(t, "Bearer tok-1", lastAuth.Load())

	a.now = func() time.Time { return time.Now().Add(10 * 24 * time.Hour) }
	_, err := a.CheckServiceability(context.Background(), "560001")
	require.NoError(t, err)
	assert.Equal(t, int32(2), stub.logins.Load())
	assert.Equal(t, "Bearer tok-2", lastAuth.Load())
}

func TestShiprocketAdapter_ReloginOn401(t *testing.T) {
	var calls atomic.Int32
	a, stub := newShiprocketTest(t, map[string]http.HandlerFunc{
		"/v1/external/orders/cancel/shipment/awbs": func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
			io.WriteString(w, `{"message":"Bulk Shipment cancellation is in progress."}`)
		},
	})

	require.NoError(t, a.CancelShipment(context.Background(), "SR123"))
	assert.Equal(t, int32(2), stub.logins.Load())
}

func TestShiprocketAdapter_Serviceability(t *testing.T) {
	a, _ := newShiprocketTest(t, map[string]http.HandlerFunc{
		"/v1/external/courier/serviceability/": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "110001", q.Get("pickup_postcode"))
			if q.Get("delivery_postcode") == "999999" {
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `{"message":"No courier available","status":404}`)
				return
			}
			io.WriteString(w, `{"data":{"available_courier_companies":[
				{"courier_name":"Slow","rate":"40.5","estimated_delivery_days":"6","cod":0},
				{"courier_name":"Fast","rate":95,"estimated_delivery_days":2,"cod":1}
			]}}`)
		},
	})

	svc, err := a.CheckServiceability(context.Background(), "560001")
	require.NoError(t, err)
	assert.True(t, svc.Serviceable)
	assert.True(t, svc.COD)
	assert.Equal(t, 2, svc.EstimatedDays)

	none, err := a.CheckServiceability(context.Background(), "999999")
	require.NoError(t, err)
	assert.False(t, none.Serviceable)

	quote, err := a.QuoteRate(context.Background(), domain.RateRequest{DestinationPostalCode: "560001", WeightGrams: 1200})
	require.NoError(t, err)
	assert.Equal(t, "40.50", quote.Charge.StringFixed(2))
	assert.Equal(t, 6, quote.EstimatedDays)

	_, err = a.QuoteRate(context.Background(), domain.RateRequest{DestinationPostalCode: "999999", WeightGrams: 500})
	assert.ErrorIs(t, err, domain.ErrNotServiceable)
}

func TestShiprocketAdapter_CreateShipment(t *testing.T) {
	req := domain.ShipmentRequest{
		OrderNumber:   "ORD-1002",
		OrderedAt:     time.Now(),
		Destination:   domain.Address{Name: "Ravi Kumar", Phone: "9876543210", Line1: "1 Park St", City: "Kolkata", State: "WB", PostalCode: "700016", Country: "India"},
		Items:         []domain.ShipmentItem{{SKU: "SKU-1", Name: "Lamp", Quantity: 1, UnitPrice: decimal.NewFromInt(1200)}},
		WeightGrams:   1500,
		DeclaredValue: decimal.NewFromInt(1200),
	}

	t.Run("Success", func(t *testing.T) {
		a, _ := newShiprocketTest(t, map[string]http.HandlerFunc{
			"/v1/external/orders/create/adhoc": func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "ORD-1002", body["order_id"])
				assert.Equal(t, "Prepaid", body["payment_method"])
				assert.Equal(t, "Ravi", body["billing_customer_name"])
				io.WriteString(w, `{"order_id":501,"shipment_id":601,"status":"NEW"}`)
			},
			"/v1/external/courier/assign/awb": func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"awb_assign_status":1,"response":{"data":{"awb_code":19041234567,"courier_name":"Xpress"}}}`)
			},
		})

		shipment, err := a.CreateShipment(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "19041234567", shipment.TrackingNumber)
		assert.Equal(t, "601", shipment.CarrierReference)
	})

	t.Run("AWBFailureCancelsOrder", func(t *testing.T) {
		var cancelled atomic.Bool
		a, _ := newShiprocketTest(t, map[string]http.HandlerFunc{
			"/v1/external/orders/create/adhoc": func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"order_id":502,"shipment_id":602}`)
			},
			"/v1/external/courier/assign/awb": func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"awb_assign_status":0,"response":{"data":{"awb_assign_error":"Selected pincode is not serviceable"}}}`)
			},
			"/v1/external/orders/cancel": func(w http.ResponseWriter, r *http.Request) {
				cancelled.Store(true)
				w.WriteHeader(http.StatusNoContent)
			},
		})

		_, err := a.CreateShipment(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrNotServiceable)
		assert.True(t, cancelled.Load())
	})
}

func TestShiprocketAdapter_FetchTracking(t *testing.T) {
	a, _ := newShiprocketTest(t, map[string]http.HandlerFunc{
		"/v1/external/courier/track/awb/SR123": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"tracking_data":{"track_status":1,"shipment_track_activities":[
				{"date":"2024-05-02 18:00:00","activity":"Out for delivery","location":"Kolkata","sr-status-label":"OUT FOR DELIVERY"},
				{"date":"2024-05-01 09:00:00","activity":"Shipment picked up","location":"Delhi","sr-status-label":"NA"}
			]}}`)
		},
	})

	events, err := a.FetchTracking(context.Background(), "SR123")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "OUT FOR DELIVERY", events[0].Status)
	assert.Equal(t, "Shipment picked up", events[1].Status)
}

func TestShiprocketAdapter_ParseWebhook(t *testing.T) {
	a := NewShiprocketAdapter(ShiprocketConfig{WebhookToken: "sr-key"})
	body := []byte(`{"awb":19041234567,"current_status":"IN TRANSIT","order_id":"ORD-1002","current_timestamp":"2024-05-01 10:00:00","scans":[{"location":"Delhi Hub"}]}`)

	_, err := a.ParseWebhook(domain.WebhookRequest{Headers: map[string]string{}, Body: body})
	assert.ErrorIs(t, err, domain.ErrWebhookUnauthorized)

	events, err := a.ParseWebhook(domain.WebhookRequest{Headers: map[string]string{"x-api-key": "sr-key"}, Body: body})
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "19041234567", ev.TrackingNumber)
	assert.Equal(t, "Delhi Hub", ev.Location)
	assert.Equal(t, 10, ev.Timestamp.Hour())
	assert.NotEmpty(t, ev.EventID)

	n, err := a.NormalizeStatus(ev)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInTransit, n.Status)
}

func TestShiprocketAdapter_ParseWebhook_NoSecretConfigured(t *testing.T) {
	a := NewShiprocketAdapter(ShiprocketConfig{})
	body := []byte(`{"awb":19041234567,"current_status":"DELIVERED","current_timestamp":"2024-05-01 10:00:00"}`)

	_, err := a.ParseWebhook(domain.WebhookRequest{Headers: map[string]string{"x-api-key": ""}, Body: body})
	assert.ErrorIs(t, err, domain.ErrWebhookUnauthorized)
}

func TestShiprocketAdapter_NormalizeStatus(t *testing.T) {
	a := NewShiprocketAdapter(ShiprocketConfig{})
	cases := map[string]domain.NormalizedStatus{
		"PICKED UP":        domain.StatusInTransit,
		"out for delivery": domain.StatusOutForDelivery,
		"Delivered":        domain.StatusDelivered,
		"RTO_INITIATED":    domain.StatusFailedDelivery,
		"UNDELIVERED":      domain.StatusFailedDelivery,
	}
	for raw, want := range cases {
		n, err := a.NormalizeStatus(domain.RawCarrierEvent{Status: raw})
		require.NoError(t, err, raw)
		assert.Equal(t, want, n.Status, raw)
	}

	_, err := a.NormalizeStatus(domain.RawCarrierEvent{Status: "PICKUP SCHEDULED"})
	assert.ErrorIs(t, err, domain.ErrUnrecognizedStatus)
}
