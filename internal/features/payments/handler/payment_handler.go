package handler

import (
	"errors"
	"net/http"

	"order-fulfillment/internal/core/auth"
	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/core/validation"
	catalogdomain "order-fulfillment/internal/features/catalog/domain"
	orderdomain "order-fulfillment/internal/features/orders/domain"
	"order-fulfillment/internal/features/payments/domain"
	"order-fulfillment/internal/features/payments/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// PaymentHandler exposes checkout and payment confirmation.
type PaymentHandler struct {
	service *service.CheckoutService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(s *service.CheckoutService) *PaymentHandler {
	return &PaymentHandler{service: s}
}

// ErrorResponse represents an error response with Ray ID.
type ErrorResponse struct {
	Message string            `json:"message"`
	RayID   string            `json:"ray_id"`
	Fields  map[string]string `json:"fields,omitempty"`
	// Order is returned with a failed confirmation so the client sees the final state.
	Order *orderdomain.Order `json:"order,omitempty"`
}

// Checkout godoc
// @Summary Place an order
// @Description Creates an order from the caller's cart. COD and verified payments are confirmed immediately.
// @Tags orders
// @Accept json
// @Produce json
// @Param request body domain.CheckoutInput true "Checkout"
// @Success 201 {object} orderdomain.Order
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /orders [post]
func (h *PaymentHandler) Checkout(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return respondError(c, http.StatusUnauthorized, "missing credentials")
	}

	var in domain.CheckoutInput
	if err := c.BodyParser(&in); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid request body")
	}

	order, err := h.service.Checkout(c.UserContext(), actor, in)
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.Status(http.StatusCreated).JSON(order)
}

// ConfirmPayment godoc
// @Summary Confirm a gateway payment
// @Description Verifies the gateway signature for a pending order.
// @Tags orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body domain.Confirmation true "Gateway confirmation"
// @Success 200 {object} orderdomain.Order
// @Failure 402 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /orders/{id}/payment/confirm [post]
func (h *PaymentHandler) ConfirmPayment(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return respondError(c, http.StatusUnauthorized, "missing credentials")
	}

	var conf domain.Confirmation
	if err := c.BodyParser(&conf); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid request body")
	}

	order, err := h.service.ConfirmPayment(c.UserContext(), actor, c.Params("id"), conf)
	if err != nil {
		return writeError(c, err, order)
	}
	return c.Status(http.StatusOK).JSON(order)
}

func actorFrom(c *fiber.Ctx) (orderdomain.Actor, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		return orderdomain.Actor{}, false
	}
	return orderdomain.Actor{Kind: orderdomain.ActorKind(p.Role), ID: p.UserID}, true
}

func rayID(c *fiber.Ctx) string {
	id, ok := c.Locals("requestid").(string)
	if !ok {
		return "unknown"
	}
	return id
}

func respondError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(ErrorResponse{Message: msg, RayID: rayID(c)})
}

func writeError(c *fiber.Ctx, err error, order *orderdomain.Order) error {
	var verr *validation.Error
	status := http.StatusInternalServerError
	msg := "Internal Server Error"

	switch {
	case errors.As(err, &verr):
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{Message: "validation failed", RayID: rayID(c), Fields: verr.Fields})
	case errors.Is(err, domain.ErrPaymentMismatch):
		status, msg = http.StatusPaymentRequired, "payment could not be verified"
	case errors.Is(err, domain.ErrPaymentNotRequired):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrGatewayNotConfigured):
		status, msg = http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, catalogdomain.ErrInsufficientStock):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, catalogdomain.ErrCartEmpty), errors.Is(err, catalogdomain.ErrProductNotFound),
		errors.Is(err, orderdomain.ErrInvalidTransition):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, catalogdomain.ErrCartNotFound), errors.Is(err, orderdomain.ErrOrderNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, orderdomain.ErrForbidden):
		status, msg = http.StatusForbidden, "access denied"
	case errors.Is(err, orderdomain.ErrOrderBusy), errors.Is(err, orderdomain.ErrVersionConflict):
		status, msg = http.StatusConflict, err.Error()
	default:
		logger.Get().Error("Checkout request failed",
			zap.String("path", c.Path()),
			zap.String("ray_id", rayID(c)),
			zap.Error(err),
		)
	}

	return c.Status(status).JSON(ErrorResponse{Message: msg, RayID: rayID(c), Order: order})
}
