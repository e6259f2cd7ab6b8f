package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/features/notifications/domain"
	"order-fulfillment/internal/features/notifications/ports"
	orderdomain "order-fulfillment/internal/features/orders/domain"

	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

// ShipmentNotifier e-mails the customer when their order ships, is out for
// delivery, is delivered or is cancelled. It is registered as an order
// transition listener.
type ShipmentNotifier struct {
	sender ports.Sender
}

// NewShipmentNotifier creates a new ShipmentNotifier.
func NewShipmentNotifier(sender ports.Sender) *ShipmentNotifier {
	return &ShipmentNotifier{sender: sender}
}

// OrderTransitioned implements the order transition listener.
func (n *ShipmentNotifier) OrderTransitioned(ctx context.Context, order *orderdomain.Order, _ orderdomain.OrderStatus) error {
	return n.ShipmentUpdate(ctx, order, order.Status)
}

// ShipmentUpdate sends the message for status. Other statuses are ignored.
func (n *ShipmentNotifier) ShipmentUpdate(ctx context.Context, order *orderdomain.Order, status orderdomain.OrderStatus) error {
	msg, ok := buildMessage(order, status)
	if !ok {
		return nil
	}
	if msg.To == "" {
		logger.Get().Debug("No customer e-mail on order, skipping notification",
			zap.String("order_number", order.OrderNumber),
			zap.String("status", string(status)),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify %s for %s: %w", status, order.OrderNumber, err)
	}
	return nil
}

func buildMessage(o *orderdomain.Order, status orderdomain.OrderStatus) (domain.Message, bool) {
	msg := domain.Message{
		To:  o.ShippingAddress.Email,
		Tag: "shipment-" + strings.ReplaceAll(string(status), "_", "-"),
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s,\n\n", firstName(o.ShippingAddress.Name))

	switch status {
	case orderdomain.OrderStatusShipped:
		msg.Subject = fmt.Sprintf("Your order %s has shipped", o.OrderNumber)
		body.WriteString("Your order is on its way.\n")
		if o.Shipping.CarrierName != "" {
			fmt.Fprintf(&body, "Carrier: %s\n", o.Shipping.CarrierName)
		}
		if o.Shipping.TrackingNumber != "" {
			fmt.Fprintf(&body, "Tracking number: %s\n", o.Shipping.TrackingNumber)
		}
		if o.Shipping.EstimatedDelivery != nil {
			fmt.Fprintf(&body, "Expected by: %s\n", o.Shipping.EstimatedDelivery.Format("Mon, 2 Jan 2006"))
		}
	case orderdomain.OrderStatusOutForDelivery:
		msg.Subject = fmt.Sprintf("Your order %s is out for delivery", o.OrderNumber)
		body.WriteString("Your order will reach you today.\n")
		if amount := o.CODAmount(); amount.IsPositive() {
			fmt.Fprintf(&body, "Please keep %s %s ready for cash on delivery.\n", o.Pricing.Currency, amount.StringFixed(2))
		}
	case orderdomain.OrderStatusDelivered:
		msg.Subject = fmt.Sprintf("Your order %s was delivered", o.OrderNumber)
		body.WriteString("Your order has been delivered. Thank you for shopping with us.\n")
	case orderdomain.OrderStatusCancelled:
		msg.Subject = fmt.Sprintf("Your order %s was cancelled", o.OrderNumber)
		body.WriteString("Your order has been cancelled.\n")
		if o.Payment.Status == orderdomain.PaymentStatusPaid || o.Payment.Status == orderdomain.PaymentStatusRefunded {
			body.WriteString("Any amount paid will be refunded to the original payment method.\n")
		}
	default:
		return domain.Message{}, false
	}

	fmt.Fprintf(&body, "\nOrder: %s\n", o.OrderNumber)
	msg.TextBody = body.String()
	return msg, true
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return "there"
}
