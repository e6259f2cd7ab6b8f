package adapters

import (
	"context"
	"fmt"

	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/features/notifications/domain"

	"github.com/keighl/postmark"
	"go.uber.org/zap"
)

// PostmarkSender sends messages through the Postmark API.
type PostmarkSender struct {
	client *postmark.Client
	from   string
}

// NewPostmarkSender creates a sender for the given server token.
func NewPostmarkSender(serverToken, from string) *PostmarkSender {
	return &PostmarkSender{
		client: postmark.NewClient(serverToken, ""),
		from:   from,
	}
}

// WithBaseURL points the client at another API host.
func (s *PostmarkSender) WithBaseURL(u string) *PostmarkSender {
	s.client.BaseURL = u
	return s
}

// Send delivers msg. The Postmark client has no context support, so ctx is
// only checked before the call.
func (s *PostmarkSender) Send(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.client.SendEmail(postmark.Email{
		From:     s.from,
		To:       msg.To,
		Subject:  msg.Subject,
		Tag:      msg.Tag,
		HtmlBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return fmt.Errorf("postmark send: %w", err)
	}
	if res.ErrorCode != 0 {
		return fmt.Errorf("postmark send: error %d: %s", res.ErrorCode, res.Message)
	}

	logger.Get().Debug("Notification sent",
		zap.String("tag", msg.Tag),
		zap.String("message_id", res.MessageID),
	)
	return nil
}
