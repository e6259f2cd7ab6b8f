package handler

import (
	"errors"
	"net/http"
	"strings"

	"order-fulfillment/internal/core/auth"
	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/core/validation"
	"order-fulfillment/internal/features/orders/domain"
	"order-fulfillment/internal/features/orders/ports"
	"order-fulfillment/internal/features/orders/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const maxPageSize = 100

// OrderHandler handles HTTP requests related to orders.
type OrderHandler struct {
	// service is the OrderService instance.
	service *service.OrderService
}

// NewOrderHandler creates a new instance of OrderHandler.
func NewOrderHandler(s *service.OrderService) *OrderHandler {
	return &OrderHandler{
		service: s,
	}
}

// CancelRequest is the optional body of a cancellation.
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// StatusRequest is the body of an admin status change.
type StatusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"max=500"`
}

// NotesRequest is the body of an admin notes update.
type NotesRequest struct {
	AdminNotes string `json:"adminNotes" validate:"max=2000"`
}

// ErrorResponse represents the structure of an error response.
type ErrorResponse struct {
	// Message is the error description.
	Message string `json:"message"`
	// RayID is the unique request identifier for debugging.
	RayID string `json:"ray_id"`
	// Fields lists per-field validation problems.
	Fields map[string]string `json:"fields,omitempty"`
}

// GetOrder godoc
// @Summary Get order by ID
// @Description Returns the order to its owner or to an admin.
// @Tags orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /orders/{id} [get]
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return respondError(c, http.StatusUnauthorized, "missing credentials")
	}

	order, err := h.service.GetOrder(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(order)
}

// CancelOrder godoc
// @Summary Cancel an order
// @Description Cancels an order that has not been shipped yet and releases its stock.
// @Tags orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body CancelRequest false "Cancellation reason"
// @Success 200 {object} domain.Order
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /orders/{id}/cancel [post]
func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return respondError(c, http.StatusUnauthorized, "missing credentials")
	}

	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, http.StatusBadRequest, "invalid request body")
		}
		if err := validation.Struct(req); err != nil {
			return writeError(c, err)
		}
	}

	order, err := h.service.CancelOrder(c.UserContext(), actor, c.Params("id"), req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(order)
}

// ListOrders godoc
// @Summary List orders
// @Description Admin listing filtered by comma separated statuses.
// @Tags admin
// @Produce json
// @Param status query string false "Statuses, e.g. confirmed,processing"
// @Param userId query string false "Customer ID"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {array} domain.Order
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /orders/admin [get]
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	filter := ports.ListFilter{
		UserID: c.Query("userId"),
		Limit:  int64(c.QueryInt("limit", 50)),
		Offset: int64(c.QueryInt("offset", 0)),
	}
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status, err := domain.ParseStatus(strings.TrimSpace(s))
			if err != nil {
				return respondError(c, http.StatusBadRequest, "unknown status "+s)
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	orders, err := h.service.ListOrders(c.UserContext(), filter)
	if err != nil {
		return writeError(c, err)
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	return c.Status(http.StatusOK).JSON(orders)
}

// UpdateStatus godoc
// @Summary Change order status
// @Description Applies an admin status change following the lifecycle rules.
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body StatusRequest true "Target status"
// @Success 200 {object} domain.Order
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /orders/admin/{id}/status [patch]
func (h *OrderHandler) UpdateStatus(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return respondError(c, http.StatusUnauthorized, "missing credentials")
	}

	var req StatusRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return writeError(c, err)
	}
	target, err := domain.ParseStatus(req.Status)
	if err != nil {
		return writeError(c, err)
	}

	order, err := h.service.UpdateStatus(c.UserContext(), actor, c.Params("id"), target, req.Note)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(order)
}

// UpdateNotes godoc
// @Summary Update admin notes
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body NotesRequest true "Notes"
// @Success 200 {object} domain.Order
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /orders/admin/{id}/notes [patch]
func (h *OrderHandler) UpdateNotes(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return respondError(c, http.StatusUnauthorized, "missing credentials")
	}

	var req NotesRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return writeError(c, err)
	}

	order, err := h.service.UpdateNotes(c.UserContext(), actor, c.Params("id"), req.AdminNotes)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(order)
}

func actorFrom(c *fiber.Ctx) (domain.Actor, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		return domain.Actor{}, false
	}
	return domain.Actor{Kind: domain.ActorKind(p.Role), ID: p.UserID}, true
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
	var verr *validation.Error
	var terr *domain.TransitionError

	switch {
	case errors.As(err, &verr):
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{Message: "validation failed", RayID: rayID(c), Fields: verr.Fields})
	case errors.As(err, &terr):
		return respondError(c, http.StatusBadRequest, terr.Error())
	case errors.Is(err, domain.ErrUnknownStatus):
		return respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		return respondError(c, http.StatusNotFound, "Order not found")
	case errors.Is(err, domain.ErrForbidden):
		return respondError(c, http.StatusForbidden, "access denied")
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrOrderBusy):
		return respondError(c, http.StatusConflict, err.Error())
	}

	logger.Get().Error("Order request failed",
		zap.String("path", c.Path()),
		zap.String("ray_id", rayID(c)),
		zap.Error(err),
	)
	return respondError(c, http.StatusInternalServerError, "Internal Server Error")
}
