package domain

import (
	"errors"

	carrierdomain "order-fulfillment/internal/features/carriers/domain"
	orderdomain "order-fulfillment/internal/features/orders/domain"
)

var (
	// ErrPaymentMismatch means the gateway confirmation failed verification.
	ErrPaymentMismatch = errors.New("payment confirmation mismatch")
	// ErrPaymentNotRequired is returned when confirming an order that is not awaiting payment.
	ErrPaymentNotRequired = errors.New("order is not awaiting payment")
	// ErrGatewayNotConfigured means no gateway secret is available to verify with.
	ErrGatewayNotConfigured = errors.New("payment gateway is not configured")
)

// Confirmation is what the payment gateway hands the client after a payment.
type Confirmation struct {
	GatewayOrderID   string `json:"gatewayOrderId" validate:"required"`
	GatewayPaymentID string `json:"gatewayPaymentId" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
}

// PaymentRequest selects the payment method at checkout.
type PaymentRequest struct {
	Method orderdomain.PaymentMethod `json:"method" validate:"required,oneof=cod gateway"`
	// GatewayOrderID references a gateway order created by the client beforehand.
	GatewayOrderID string `json:"gatewayOrderId"`
	// Confirmation is present when the client already completed the payment.
	Confirmation *Confirmation `json:"confirmation,omitempty"`
}

// CheckoutInput is the body of POST /orders.
type CheckoutInput struct {
	CartID  string                `json:"cartId" validate:"required"`
	Address carrierdomain.Address `json:"shippingAddress"`
	Payment PaymentRequest        `json:"payment"`
}
