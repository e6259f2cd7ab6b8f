package domain

import (
	"fmt"
	"time"

	carrierdomain "order-fulfillment/internal/features/carriers/domain"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the current state of an order.
type OrderStatus string

const (
	// OrderStatusPendingPayment is a gateway order awaiting payment confirmation.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusConfirmed is a paid or COD order waiting for fulfilment.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing is being packed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped has an active delivery assignment.
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusInTransit      OrderStatus = "in_transit"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusReturned       OrderStatus = "returned"
	OrderStatusFailedDelivery OrderStatus = "failed_delivery"
	OrderStatusPaymentFailed  OrderStatus = "payment_failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusInTransit,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
	OrderStatusFailedDelivery,
	OrderStatusPaymentFailed,
}

// ParseStatus validates s against the known statuses.
func ParseStatus(s string) (OrderStatus, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", ErrUnknownStatus
}

// IsTerminal reports whether no further lifecycle progress is expected.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned, OrderStatusPaymentFailed:
		return true
	}
	return false
}

// IsPreShipment reports whether the order has not been handed to delivery yet.
func (s OrderStatus) IsPreShipment() bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusConfirmed, OrderStatusProcessing:
		return true
	}
	return false
}

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentMethodCOD     PaymentMethod = "cod"
	PaymentMethodGateway PaymentMethod = "gateway"
)

// PaymentStatus is the settlement state of the payment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentInfo records the payment method and gateway references.
type PaymentInfo struct {
	Method PaymentMethod `json:"method"`
	Status PaymentStatus `json:"status"`
	// Gateway names the payment provider, e.g. razorpay.
	Gateway          string     `json:"gateway,omitempty"`
	GatewayOrderID   string     `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string     `json:"gatewayPaymentId,omitempty"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`
}

// LineItem is one product line of an order, priced at checkout.
type LineItem struct {
	ProductID   string          `json:"productId"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
	WeightGrams int             `json:"weightGrams"`
}

// Pricing is computed at checkout and frozen once payment is confirmed.
type Pricing struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

// FormatOrderNumber renders a sequence value as a human-readable order number.
func FormatOrderNumber(n int64) string {
	return fmt.Sprintf("ORD-%d", n)
}

// MethodNone marks an order without an active delivery assignment.
const MethodNone = "none"

// Shipping is the delivery sub-document. Only the state machine writes it.
type Shipping struct {
	// DeliveryMethod is "none", "manual" or a carrier name.
	DeliveryMethod string `json:"deliveryMethod"`
	CarrierName    string `json:"carrierName,omitempty"`
	// TrackingNumber is set only when a carrier shipment was created.
	TrackingNumber string `json:"trackingNumber,omitempty"`
	// TrackingID references the active shipment tracking record.
	TrackingID        string     `json:"trackingId,omitempty"`
	AssignedBy        string     `json:"assignedBy,omitempty"`
	AssignedAt        *time.Time `json:"assignedAt,omitempty"`
	AdminNotes        string     `json:"adminNotes,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time `json:"actualDelivery,omitempty"`
	// AssignmentCount counts successful assignments, including superseded ones.
	AssignmentCount int `json:"assignmentCount"`
}

// HasActiveAssignment reports whether a delivery method is currently assigned.
func (s Shipping) HasActiveAssignment() bool {
	return s.DeliveryMethod != "" && s.DeliveryMethod != MethodNone
}

// StatusChange is one entry of the order's audit trail.
type StatusChange struct {
	From   OrderStatus `json:"from,omitempty"`
	To     OrderStatus `json:"to"`
	Actor  Actor       `json:"actor"`
	Reason string      `json:"reason,omitempty"`
	At     time.Time   `json:"at"`
}

// Order represents a customer order in the system.
type Order struct {
	// ID is the unique identifier for the order.
	ID string `json:"id"`
	// OrderNumber is the human-readable number, e.g. ORD-1001.
	OrderNumber string `json:"orderNumber"`
	// UserID is the customer who placed the order.
	UserID          string                `json:"userId"`
	Items           []LineItem            `json:"items"`
	Pricing         Pricing               `json:"pricing"`
	Status          OrderStatus           `json:"status"`
	Payment         PaymentInfo           `json:"paymentInfo"`
	ShippingAddress carrierdomain.Address `json:"shippingAddress"`
	Shipping        Shipping              `json:"shipping"`
	History         []StatusChange        `json:"history,omitempty"`
	// Version is the optimistic concurrency stamp, bumped on every write.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TotalWeightGrams sums the line weights.
func (o *Order) TotalWeightGrams() int {
	total := 0
	for _, it := range o.Items {
		total += it.WeightGrams * it.Quantity
	}
	return total
}

// CODAmount is what the carrier must collect at the door.
func (o *Order) CODAmount() decimal.Decimal {
	if o.Payment.Method == PaymentMethodCOD && o.Payment.Status != PaymentStatusPaid {
		return o.Pricing.Total
	}
	return decimal.Zero
}

// PaymentCleared reports whether the payment gate allows delivery work.
// COD orders pass immediately; gateway orders need a confirmed payment.
func (o *Order) PaymentCleared() bool {
	if o.Payment.Method == PaymentMethodCOD {
		return o.Payment.Status != PaymentStatusFailed
	}
	return o.Payment.Status == PaymentStatusPaid
}

// IsOwnedBy reports whether userID placed the order.
func (o *Order) IsOwnedBy(userID string) bool {
	return userID != "" && o.UserID == userID
}

// Clone returns a deep copy so callers can mutate without touching o.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	c.History = append([]StatusChange(nil), o.History...)
	c.Payment.PaidAt = cloneTime(o.Payment.PaidAt)
	c.Shipping.AssignedAt = cloneTime(o.Shipping.AssignedAt)
	c.Shipping.EstimatedDelivery = cloneTime(o.Shipping.EstimatedDelivery)
	c.Shipping.ActualDelivery = cloneTime(o.Shipping.ActualDelivery)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
