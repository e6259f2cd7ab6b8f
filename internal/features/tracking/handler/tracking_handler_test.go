package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	orderdomain "order-fulfillment/internal/features/orders/domain"
	orderservice "order-fulfillment/internal/features/orders/service"
	"order-fulfillment/internal/features/tracking/domain"
	"order-fulfillment/internal/features/tracking/service"
	"order-fulfillment/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shipTime = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	app      *fiber.App
	orders   *testutil.OrderRepository
	tracking *testutil.TrackingRepository
	gw       *testutil.FakeGateway
	locker   *testutil.Locker
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	order := testutil.NewOrder("order-1", "ORD-1001")
	order.Status = orderdomain.OrderStatusShipped
	order.Shipping = orderdomain.Shipping{DeliveryMethod: "carrierx", CarrierName: "carrierx", TrackingNumber: "AWBX123", TrackingID: "trk-1", AssignmentCount: 1}
	orders := testutil.NewOrderRepository(order)

	tracking := testutil.NewTrackingRepository()
	require.NoError(t, tracking.Create(context.Background(), &domain.ShipmentTracking{
		ID: "trk-1", OrderID: "order-1", OrderNumber: "ORD-1001", Carrier: "carrierx",
		TrackingNumber: "AWBX123", State: domain.RecordActive, CreatedAt: shipTime,
	}))

	gw := testutil.NewFakeGateway("carrierx")
	gw.WebhookToken = "hook-secret"
	locker := testutil.NewLocker()

	svc := service.NewTrackingService(service.Deps{
		Repo:     tracking,
		Gateways: testutil.NewGateways(gw),
		Orders:   orders,
		Machine:  orderservice.NewStateMachine(orders, nil),
		Locker:   locker,
		Guard:    testutil.NewGuard(),
	})
	h := NewTrackingHandler(svc)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("requestid", "test-ray-id")
		return c.Next()
	})
	app.Post("/delivery/webhook/:carrier", h.Webhook)
	app.Get("/delivery/track/:trackingNumber", h.Track)
	app.Get("/delivery/orders/:id/shipments", h.OrderShipments)

	return &testEnv{app: app, orders: orders, tracking: tracking, gw: gw, locker: locker}
}

func postWebhook(t *testing.T, env *testEnv, carrier, token string, events ...testutil.FakeWebhookEvent) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(events)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/delivery/webhook/"+carrier, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Webhook-Token", token)
	}
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestWebhook_AppliesEvent(t *testing.T) {
	env := setup(t)

	status, body := postWebhook(t, env, "carrierx", "hook-secret", testutil.FakeWebhookEvent{
		TrackingNumber: "AWBX123", Status: "picked_up", Timestamp: shipTime.Add(time.Hour),
	})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["applied"])
	assert.Equal(t, "test-ray-id", body["ray_id"])
	assert.Equal(t, orderdomain.OrderStatusInTransit, env.orders.Stored("order-1").Status)
}

func TestWebhook_CarrierNameIsCaseInsensitive(t *testing.T) {
	env := setup(t)
	status, _ := postWebhook(t, env, "CarrierX", "hook-secret")
	assert.Equal(t, fiber.StatusOK, status)
}

func TestWebhook_OrphanIsAcknowledged(t *testing.T) {
	env := setup(t)

	status, body := postWebhook(t, env, "carrierx", "hook-secret", testutil.FakeWebhookEvent{
		TrackingNumber: "UNKNOWN", Status: "delivered", Timestamp: shipTime,
	})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["orphans"])
}

func TestWebhook_Unauthorized(t *testing.T) {
	env := setup(t)

	status, body := postWebhook(t, env, "carrierx", "wrong", testutil.FakeWebhookEvent{
		TrackingNumber: "AWBX123", Status: "delivered", Timestamp: shipTime,
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "webhook authentication failed", body["message"])
	assert.Equal(t, orderdomain.OrderStatusShipped, env.orders.Stored("order-1").Status)
}

func TestWebhook_UnknownCarrier(t *testing.T) {
	env := setup(t)
	status, _ := postWebhook(t, env, "pigeon", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestWebhook_StorageFailureAsksForRetry(t *testing.T) {
	env := setup(t)
	env.tracking.AppendErr = errors.New("mongo down")

	status, body := postWebhook(t, env, "carrierx", "hook-secret", testutil.FakeWebhookEvent{
		TrackingNumber: "AWBX123", Status: "delivered", Timestamp: shipTime,
	})
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "test-ray-id", body["ray_id"])
}

func TestTrack(t *testing.T) {
	env := setup(t)
	postWebhook(t, env, "carrierx", "hook-secret", testutil.FakeWebhookEvent{
		TrackingNumber: "AWBX123", Status: "out_for_delivery", Timestamp: shipTime.Add(time.Hour),
	})

	resp, err := env.app.Test(httptest.NewRequest("GET", "/delivery/track/AWBX123", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var view domain.TrackingHistory
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "ORD-1001", view.OrderNumber)
	assert.Equal(t, "out_for_delivery", view.CurrentStatus)
	require.Len(t, view.Events, 1)
}

func TestTrack_NotFound(t *testing.T) {
	env := setup(t)

	resp, err := env.app.Test(httptest.NewRequest("GET", "/delivery/track/NOPE", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "test-ray-id", body.RayID)
}

func TestOrderShipments(t *testing.T) {
	env := setup(t)

	resp, err := env.app.Test(httptest.NewRequest("GET", "/delivery/orders/order-1/shipments", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var recs []domain.ShipmentTracking
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "AWBX123", recs[0].TrackingNumber)

	resp, err = env.app.Test(httptest.NewRequest("GET", "/delivery/orders/other/shipments", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
