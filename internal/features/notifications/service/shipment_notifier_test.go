package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"order-fulfillment/internal/features/notifications/domain"
	orderdomain "order-fulfillment/internal/features/orders/domain"
	orderservice "order-fulfillment/internal/features/orders/service"
	"order-fulfillment/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSender is a mock implementation of ports.Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type recordingSender struct {
	sent []domain.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg domain.Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func shippedOrder() *orderdomain.Order {
	o := testutil.NewOrder("order-1", "ORD-1001")
	o.ShippingAddress.Email = "ravi@example.com"
	o.Status = orderdomain.OrderStatusShipped
	eta := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)
	o.Shipping = orderdomain.Shipping{
		DeliveryMethod:    "carrierx",
		CarrierName:       "carrierx",
		TrackingNumber:    "AWBX123",
		EstimatedDelivery: &eta,
	}
	return o
}

func TestShipmentUpdate_Messages(t *testing.T) {
	tests := []struct {
		status   orderdomain.OrderStatus
		subject  string
		contains string
		tag      string
	}{
		{orderdomain.OrderStatusShipped, "Your order ORD-1001 has shipped", "Tracking number: AWBX123", "shipment-shipped"},
		{orderdomain.OrderStatusOutForDelivery, "Your order ORD-1001 is out for delivery", "INR 708.00", "shipment-out-for-delivery"},
		{orderdomain.OrderStatusDelivered, "Your order ORD-1001 was delivered", "Thank you", "shipment-delivered"},
		{orderdomain.OrderStatusCancelled, "Your order ORD-1001 was cancelled", "cancelled", "shipment-cancelled"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			sender := &recordingSender{}
			n := NewShipmentNotifier(sender)

			require.NoError(t, n.ShipmentUpdate(context.Background(), shippedOrder(), tt.status))
			require.Len(t, sender.sent, 1)
			msg := sender.sent[0]
			assert.Equal(t, "ravi@example.com", msg.To)
			assert.Equal(t, tt.subject, msg.Subject)
			assert.Contains(t, msg.TextBody, tt.contains)
			assert.Contains(t, msg.TextBody, "Hi Ravi,")
			assert.Equal(t, tt.tag, msg.Tag)
		})
	}
}

func TestShipmentUpdate_Skips(t *testing.T) {
	sender := new(MockSender)
	n := NewShipmentNotifier(sender)

	require.NoError(t, n.ShipmentUpdate(context.Background(), shippedOrder(), orderdomain.OrderStatusInTransit))

	noEmail := shippedOrder()
	noEmail.ShippingAddress.Email = ""
	require.NoError(t, n.ShipmentUpdate(context.Background(), noEmail, orderdomain.OrderStatusShipped))

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestShipmentUpdate_SenderFailure(t *testing.T) {
	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.MatchedBy(func(msg domain.Message) bool {
		return msg.Tag == "shipment-delivered"
	})).Return(errors.New("smtp down")).Once()

	n := NewShipmentNotifier(sender)
	err := n.ShipmentUpdate(context.Background(), shippedOrder(), orderdomain.OrderStatusDelivered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORD-1001")
	sender.AssertExpectations(t)
}

func TestShipmentNotifier_AsTransitionListener(t *testing.T) {
	o := shippedOrder()
	repo := testutil.NewOrderRepository(o)
	sender := &recordingSender{err: errors.New("provider down")}
	sm := orderservice.NewStateMachine(repo, nil, NewShipmentNotifier(sender))

	res, err := sm.Transition(context.Background(), o.ID, orderdomain.OrderStatusOutForDelivery, orderdomain.CarrierActor("carrierx"), orderdomain.TransitionMeta{})
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusOutForDelivery, res.Order.Status)
	assert.Equal(t, orderdomain.OrderStatusOutForDelivery, repo.Stored(o.ID).Status)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Your order ORD-1001 is out for delivery", sender.sent[0].Subject)
}
