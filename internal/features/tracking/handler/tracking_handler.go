package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"order-fulfillment/internal/core/logger"
	carrierdomain "order-fulfillment/internal/features/carriers/domain"
	orderdomain "order-fulfillment/internal/features/orders/domain"
	"order-fulfillment/internal/features/tracking/domain"
	"order-fulfillment/internal/features/tracking/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// webhookTimeout bounds ingestion once the carrier request has been read.
const webhookTimeout = 20 * time.Second

// TrackingHandler handles carrier webhooks and tracking lookups.
type TrackingHandler struct {
	trackingService *service.TrackingService
}

// NewTrackingHandler creates a new TrackingHandler.
func NewTrackingHandler(trackingService *service.TrackingService) *TrackingHandler {
	return &TrackingHandler{
		trackingService: trackingService,
	}
}

// ErrorResponse represents an error response with Ray ID.
type ErrorResponse struct {
	// Message is the error description.
	Message string `json:"message"`
	// RayID is the unique request identifier for tracing.
	RayID string `json:"ray_id,omitempty"`
}

// WebhookResponse acknowledges a carrier webhook.
type WebhookResponse struct {
	domain.IngestSummary
	RayID string `json:"ray_id,omitempty"`
}

// Webhook godoc
// @Summary Receive carrier status events
// @Description Accepts a carrier push payload. Authenticated by the carrier's shared secret, never by session.
// @Tags delivery
// @Accept json
// @Produce json
// @Param carrier path string true "Carrier name (e.g., delhivery, shiprocket)"
// @Success 200 {object} WebhookResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /delivery/webhook/{carrier} [post]
func (h *TrackingHandler) Webhook(c *fiber.Ctx) error {
	carrier := strings.ToLower(c.Params("carrier"))

	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers[strings.ToLower(string(k))] = string(v)
	})
	req := carrierdomain.WebhookRequest{
		Headers: headers,
		Body:    append([]byte(nil), c.Body()...),
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	sum, err := h.trackingService.HandleWebhook(ctx, carrier, req)
	if err != nil {
		switch {
		case errors.Is(err, carrierdomain.ErrUnknownCarrier):
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Message: "unknown carrier", RayID: rayID(c)})
		case errors.Is(err, carrierdomain.ErrWebhookUnauthorized):
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Message: "webhook authentication failed", RayID: rayID(c)})
		}
		logger.Get().Error("Webhook events could not be recorded",
			zap.String("carrier", carrier),
			zap.String("ray_id", rayID(c)),
			zap.Int("received", sum.Received),
			zap.Error(err),
		)
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Message: "events not recorded, retry later", RayID: rayID(c)})
	}

	return c.JSON(WebhookResponse{IngestSummary: sum, RayID: rayID(c)})
}

// Track godoc
// @Summary Get tracking history for a shipment
// @Description Returns the normalized status and event history of a shipment.
// @Tags delivery
// @Produce json
// @Param trackingNumber path string true "Tracking Number"
// @Success 200 {object} domain.TrackingHistory
// @Failure 404 {object} ErrorResponse
// @Router /delivery/track/{trackingNumber} [get]
func (h *TrackingHandler) Track(c *fiber.Ctx) error {
	trackingNumber := strings.TrimSpace(c.Params("trackingNumber"))
	if trackingNumber == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Message: "tracking number is required",
			RayID:   rayID(c),
		})
	}

	history, err := h.trackingService.Track(c.UserContext(), trackingNumber)
	if err != nil {
		if errors.Is(err, domain.ErrTrackingNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Message: "tracking not found",
				RayID:   rayID(c),
			})
		}

		logger.Get().Error("Tracking lookup failed", zap.String("tracking_number", trackingNumber), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Message: "internal server error",
			RayID:   rayID(c),
		})
	}

	return c.JSON(history)
}

// OrderShipments godoc
// @Summary List shipment attempts of an order
// @Description Returns every tracking record of the order, superseded ones included.
// @Tags delivery
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {array} domain.ShipmentTracking
// @Failure 500 {object} ErrorResponse
// @Security BearerAuth
// @Router /delivery/orders/{id}/shipments [get]
func (h *TrackingHandler) OrderShipments(c *fiber.Ctx) error {
	recs, err := h.trackingService.History(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Message: "order not found", RayID: rayID(c)})
		}
		logger.Get().Error("Shipment history lookup failed", zap.String("order_id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Message: "internal server error", RayID: rayID(c)})
	}
	if recs == nil {
		recs = []*domain.ShipmentTracking{}
	}
	return c.JSON(recs)
}

func rayID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}
