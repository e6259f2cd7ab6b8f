package domain

import (
	"errors"
	"fmt"

	carrierdomain "order-fulfillment/internal/features/carriers/domain"
	orderdomain "order-fulfillment/internal/features/orders/domain"
	trackingdomain "order-fulfillment/internal/features/tracking/domain"

	"github.com/shopspring/decimal"
)

var (
	// ErrConflictingShipment means the current carrier shipment could not be
	// cancelled and abandoning it was not allowed.
	ErrConflictingShipment = errors.New("existing shipment could not be cancelled")
	// ErrNotAssignable means the order's status or payment does not allow the change.
	ErrNotAssignable = errors.New("order is not assignable")
	// ErrNoAssignment is returned by reassignment of a never-assigned order.
	ErrNoAssignment = errors.New("order has no delivery assignment")
)

// AssignInput is an admin request to assign or reassign a delivery method.
type AssignInput struct {
	OrderID string `json:"-"`
	// Method is "manual" or a carrier name.
	Method string `json:"deliveryMethod" validate:"required,max=50"`
	Notes  string `json:"adminNotes" validate:"max=2000"`
	// AllowAbandon overrides the configured abandon policy for this request.
	AllowAbandon *bool `json:"allowAbandon,omitempty"`
}

// AssignmentResult is what an assignment produced.
type AssignmentResult struct {
	Order    *orderdomain.Order               `json:"order"`
	Tracking *trackingdomain.ShipmentTracking `json:"tracking,omitempty"`
	// Previous is the record that was replaced, if any.
	Previous *trackingdomain.ShipmentTracking `json:"previous,omitempty"`
	// Unchanged is true when the requested method was already active.
	Unchanged bool `json:"unchanged"`
	// Abandoned is true when the old carrier shipment could not be cancelled.
	Abandoned bool `json:"abandoned"`
}

// NotServiceableError carries the methods that can serve the destination instead.
type NotServiceableError struct {
	Method       string
	PostalCode   string
	Reason       string
	Alternatives []string
}

func (e *NotServiceableError) Error() string {
	return fmt.Sprintf("%s cannot deliver to %s: %s", e.Method, e.PostalCode, e.Reason)
}

// Is matches carrierdomain.ErrNotServiceable.
func (e *NotServiceableError) Is(target error) bool {
	return target == carrierdomain.ErrNotServiceable
}

// QuoteInput asks for delivery options to a destination.
type QuoteInput struct {
	// Method limits the quote to one method; empty quotes every method.
	Method      string          `query:"method" validate:"max=50"`
	PostalCode  string          `query:"postalCode" validate:"required,numeric,len=6"`
	WeightGrams int             `query:"weightGrams" validate:"min=0,max=100000"`
	CODAmount   decimal.Decimal `query:"-"`
}

// QuoteOption is one method's answer to a quote.
type QuoteOption struct {
	Method        string           `json:"method"`
	Serviceable   bool             `json:"serviceable"`
	COD           bool             `json:"cod"`
	EstimatedDays int              `json:"estimatedDays,omitempty"`
	Charge        *decimal.Decimal `json:"charge,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	// Error is set when the carrier could not be asked; Retryable tells whether to try again.
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
