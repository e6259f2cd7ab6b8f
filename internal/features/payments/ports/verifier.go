package ports

import "order-fulfillment/internal/features/payments/domain"

// Verifier checks a gateway payment confirmation.
type Verifier interface {
	// Name is recorded as the gateway on the order.
	Name() string
	// Verify returns domain.ErrPaymentMismatch when the confirmation is not genuine.
	Verify(c domain.Confirmation) error
}
