package ports

import (
	"context"

	carrierports "order-fulfillment/internal/features/carriers/ports"
)

// Carriers resolves delivery methods to gateways.
type Carriers interface {
	Get(name string) (carrierports.Gateway, error)
	Names() []string
	// ServiceableAlternatives lists other methods able to deliver to postalCode.
	ServiceableAlternatives(ctx context.Context, postalCode, exclude string) []string
}
