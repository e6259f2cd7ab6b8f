package adapters

import (
	"context"

	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/features/notifications/domain"

	"go.uber.org/zap"
)

// LogSender writes messages to the log instead of sending them. It is used
// when no e-mail provider is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg domain.Message) error {
	logger.Get().Info("Notification (not sent, no provider configured)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("tag", msg.Tag),
	)
	return nil
}
