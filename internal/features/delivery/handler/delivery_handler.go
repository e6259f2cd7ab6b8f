package handler

import (
	"errors"
	"net/http"

	"order-fulfillment/internal/core/auth"
	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/core/validation"
	carrierdomain "order-fulfillment/internal/features/carriers/domain"
	"order-fulfillment/internal/features/delivery/domain"
	"order-fulfillment/internal/features/delivery/service"
	orderdomain "order-fulfillment/internal/features/orders/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxPageSize = 100

// DeliveryHandler handles the admin delivery assignment endpoints.
type DeliveryHandler struct {
	service *service.AssignmentService
}

// NewDeliveryHandler creates a new instance of DeliveryHandler.
func NewDeliveryHandler(s *service.AssignmentService) *DeliveryHandler {
	return &DeliveryHandler{service: s}
}

// ErrorResponse represents the structure of an error response.
type ErrorResponse struct {
	Message string `json:"message"`
	RayID   string `json:"ray_id"`
	// Fields lists per-field validation problems.
	Fields map[string]string `json:"fields,omitempty"`
	// Alternatives lists delivery methods that can serve the destination.
	Alternatives []string `json:"alternatives,omitempty"`
	// Retryable is set when the carrier was unreachable and the call may succeed later.
	Retryable bool `json:"retryable,omitempty"`
}

// MethodsResponse lists the delivery methods that can be assigned.
type MethodsResponse struct {
	Methods []string `json:"methods"`
}

// Assign godoc
// @Summary Assign a delivery method
// @Description Books the carrier shipment, opens tracking and marks the order shipped.
// @Description Asking for a different method than the active one reassigns.
// @Tags delivery
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body domain.AssignInput true "Delivery method"
// @Success 200 {object} domain.AssignmentResult
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /delivery/orders/{id}/assign [post]
func (h *DeliveryHandler) Assign(c *fiber.Ctx) error {
	actor, in, err := h.parseAssign(c)
	if err != nil {
		return err
	}
	res, err := h.service.Assign(c.UserContext(), actor, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(res)
}

// Reassign godoc
// @Summary Change the delivery method
// @Description Cancels the current shipment where possible and books a new one.
// @Tags delivery
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body domain.AssignInput true "New delivery method"
// @Success 200 {object} domain.AssignmentResult
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /delivery/orders/{id}/method [put]
func (h *DeliveryHandler) Reassign(c *fiber.Ctx) error {
	actor, in, err := h.parseAssign(c)
	if err != nil {
		return err
	}
	res, err := h.service.Reassign(c.UserContext(), actor, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(res)
}

// parseAssign returns a non-nil error only after the response was written.
func (h *DeliveryHandler) parseAssign(c *fiber.Ctx) (orderdomain.Actor, domain.AssignInput, error) {
	var in domain.AssignInput
	actor, ok := actorFrom(c)
	if !ok {
		return actor, in, respondError(c, http.StatusUnauthorized, "missing credentials")
	}
	if err := c.BodyParser(&in); err != nil {
		return actor, in, respondError(c, http.StatusBadRequest, "invalid request body")
	}
	in.OrderID = c.Params("id")
	return actor, in, nil
}

// Quote godoc
// @Summary Quote delivery options
// @Description Serviceability and charge per delivery method for a destination pin code.
// @Tags delivery
// @Produce json
// @Param postalCode query string true "Destination pin code"
// @Param method query string false "Limit to one delivery method"
// @Param weightGrams query int false "Parcel weight"
// @Param codAmount query string false "Amount to collect on delivery"
// @Success 200 {array} domain.QuoteOption
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /delivery/quote [get]
func (h *DeliveryHandler) Quote(c *fiber.Ctx) error {
	in := domain.QuoteInput{
		Method:      c.Query("method"),
		PostalCode:  c.Query("postalCode"),
		WeightGrams: c.QueryInt("weightGrams", 0),
	}
	if raw := c.Query("codAmount"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil || amount.IsNegative() {
			return respondError(c, http.StatusBadRequest, "invalid codAmount")
		}
		in.CODAmount = amount
	}

	options, err := h.service.Quote(c.UserContext(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(options)
}

// ListAssignable godoc
// @Summary List orders awaiting delivery assignment
// @Tags delivery
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {array} orderdomain.Order
// @Security BearerAuth
// @Router /delivery/orders/assignable [get]
func (h *DeliveryHandler) ListAssignable(c *fiber.Ctx) error {
	limit := int64(c.QueryInt("limit", 50))
	offset := int64(c.QueryInt("offset", 0))
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	orders, err := h.service.ListAssignable(c.UserContext(), limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	if orders == nil {
		orders = []*orderdomain.Order{}
	}
	return c.Status(http.StatusOK).JSON(orders)
}

// Methods godoc
// @Summary List delivery methods
// @Tags delivery
// @Produce json
// @Success 200 {object} MethodsResponse
// @Security BearerAuth
// @Router /delivery/methods [get]
func (h *DeliveryHandler) Methods(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(MethodsResponse{Methods: h.service.Methods()})
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

func writeError(c *fiber.Ctx, err error) error {
	var (
		verr *validation.Error
		terr *orderdomain.TransitionError
		nse  *domain.NotServiceableError
	)

	switch {
	case errors.As(err, &verr):
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{Message: "validation failed", RayID: rayID(c), Fields: verr.Fields})
	case errors.As(err, &nse):
		return c.Status(http.StatusUnprocessableEntity).JSON(ErrorResponse{
			Message:      nse.Error(),
			RayID:        rayID(c),
			Alternatives: nse.Alternatives,
		})
	case errors.Is(err, carrierdomain.ErrNotServiceable):
		return respondError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &terr):
		return respondError(c, http.StatusBadRequest, terr.Error())
	case errors.Is(err, carrierdomain.ErrUnknownCarrier), errors.Is(err, carrierdomain.ErrInvalidRequest):
		return respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, carrierdomain.ErrCarrierUnavailable):
		logger.Get().Warn("Carrier unavailable",
			zap.String("path", c.Path()),
			zap.String("ray_id", rayID(c)),
			zap.Error(err),
		)
		return c.Status(http.StatusServiceUnavailable).JSON(ErrorResponse{
			Message:   "carrier temporarily unavailable",
			RayID:     rayID(c),
			Retryable: true,
		})
	case errors.Is(err, orderdomain.ErrOrderNotFound):
		return respondError(c, http.StatusNotFound, "Order not found")
	case errors.Is(err, domain.ErrConflictingShipment),
		errors.Is(err, domain.ErrNotAssignable),
		errors.Is(err, domain.ErrNoAssignment),
		errors.Is(err, orderdomain.ErrOrderBusy),
		errors.Is(err, orderdomain.ErrVersionConflict):
		return respondError(c, http.StatusConflict, err.Error())
	}

	logger.Get().Error("Delivery request failed",
		zap.String("path", c.Path()),
		zap.String("ray_id", rayID(c)),
		zap.Error(err),
	)
	return respondError(c, http.StatusInternalServerError, "Internal Server Error")
}
