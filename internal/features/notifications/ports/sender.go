package ports

import (
	"context"

	"order-fulfillment/internal/features/notifications/domain"
)

// Sender delivers a customer message.
type Sender interface {
	Send(ctx context.Context, msg domain.Message) error
}
