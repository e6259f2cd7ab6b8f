package domain

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    OrderStatus
		to      OrderStatus
		actor   ActorKind
		allowed bool
	}{
		{"payment confirms", OrderStatusPendingPayment, OrderStatusConfirmed, ActorSystem, true},
		{"customer cannot confirm", OrderStatusPendingPayment, OrderStatusConfirmed, ActorCustomer, false},
		{"customer cancels before shipping", OrderStatusProcessing, OrderStatusCancelled, ActorCustomer, true},
		{"no cancel after shipping", OrderStatusShipped, OrderStatusCancelled, ActorAdmin, false},
		{"carrier picks up", OrderStatusShipped, OrderStatusInTransit, ActorCarrier, true},
		{"carrier skips ahead", OrderStatusShipped, OrderStatusDelivered, ActorCarrier, true},
		{"carrier cannot regress", OrderStatusDelivered, OrderStatusInTransit, ActorCarrier, false},
		{"carrier cannot ship", OrderStatusConfirmed, OrderStatusShipped, ActorCarrier, false},
		{"customer cannot deliver", OrderStatusOutForDelivery, OrderStatusDelivered, ActorCustomer, false},
		{"carrier fails delivery", OrderStatusOutForDelivery, OrderStatusFailedDelivery, ActorCarrier, true},
		{"carrier cannot return", OrderStatusOutForDelivery, OrderStatusReturned, ActorCarrier, false},
		{"admin returns delivered", OrderStatusDelivered, OrderStatusReturned, ActorAdmin, true},
		{"admin cannot skip payment", OrderStatusPendingPayment, OrderStatusShipped, ActorAdmin, false},
		{"terminal cancelled", OrderStatusCancelled, OrderStatusConfirmed, ActorAdmin, false},
		{"terminal returned", OrderStatusReturned, OrderStatusDelivered, ActorAdmin, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanTransition(tt.from, tt.to, tt.actor)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.to, te.To)
		})
	}
}

func TestNextStatuses(t *testing.T) {
	assert.ElementsMatch(t,
		[]OrderStatus{OrderStatusInTransit, OrderStatusOutForDelivery, OrderStatusDelivered},
		NextStatuses(OrderStatusShipped, ActorCarrier))
	assert.Empty(t, NextStatuses(OrderStatusCancelled, ActorAdmin))
}

func TestApplyTransition(t *testing.T) {
	now := time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)

	t.Run("SameStatusIsNoop", func(t *testing.T) {
		o := &Order{Status: OrderStatusInTransit}
		changed, err := o.ApplyTransition(OrderStatusInTransit, CarrierActor("delhivery"), TransitionMeta{}, now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Empty(t, o.History)
	})

	t.Run("ShippedNeedsAssignment", func(t *testing.T) {
		o := &Order{Status: OrderStatusConfirmed, Shipping: Shipping{DeliveryMethod: MethodNone}}
		_, err := o.ApplyTransition(OrderStatusShipped, Actor{Kind: ActorAdmin, ID: "a1"}, TransitionMeta{}, now)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, OrderStatusConfirmed, o.Status)

		o.Shipping.DeliveryMethod = "manual"
		changed, err := o.ApplyTransition(OrderStatusShipped, Actor{Kind: ActorAdmin, ID: "a1"}, TransitionMeta{}, now)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("DeliveredSetsActualDelivery", func(t *testing.T) {
		eventAt := now.Add(-2 * time.Hour)
		o := &Order{Status: OrderStatusOutForDelivery}
		changed, err := o.ApplyTransition(OrderStatusDelivered, CarrierActor("delhivery"), TransitionMeta{At: eventAt}, now)
		require.NoError(t, err)
		assert.True(t, changed)
		require.NotNil(t, o.Shipping.ActualDelivery)
		assert.Equal(t, eventAt, *o.Shipping.ActualDelivery)
		require.Len(t, o.History, 1)
		assert.Equal(t, OrderStatusOutForDelivery, o.History[0].From)
	})

	t.Run("PaymentPatchedWithTransition", func(t *testing.T) {
		o := &Order{Status: OrderStatusPendingPayment, Payment: PaymentInfo{Method: PaymentMethodGateway, Status: PaymentStatusPending}}
		_, err := o.ApplyTransition(OrderStatusConfirmed, SystemActor("payments"), TransitionMeta{
			Payment: &PaymentInfo{Method: PaymentMethodGateway, Status: PaymentStatusPaid, GatewayPaymentID: "pay_1"},
		}, now)
		require.NoError(t, err)
		assert.Equal(t, PaymentStatusPaid, o.Payment.Status)
	})
}

// TestApplyTransition_RandomSequences drives random (target, actor) attempts and
// checks that every accepted step follows the edge table and every rejected
// step leaves the order exactly as it was.
func TestApplyTransition_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(20240501))
	actors := []Actor{
		{Kind: ActorCustomer, ID: "c1"},
		{Kind: ActorAdmin, ID: "a1"},
		CarrierActor("delhivery"),
		SystemActor("payments"),
	}
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for run := 0; run < 500; run++ {
		o := &Order{
			ID:       "o",
			Status:   []OrderStatus{OrderStatusPendingPayment, OrderStatusConfirmed}[rng.Intn(2)],
			Shipping: Shipping{DeliveryMethod: MethodNone},
		}
		if rng.Intn(2) == 0 {
			o.Shipping.DeliveryMethod = "manual"
		}

		for step := 0; step < 20; step++ {
			target := AllStatuses[rng.Intn(len(AllStatuses))]
			actor := actors[rng.Intn(len(actors))]
			before := o.Clone()

			changed, err := o.ApplyTransition(target, actor, TransitionMeta{}, now)
			switch {
			case err != nil:
				require.ErrorIs(t, err, ErrInvalidTransition)
				require.Equal(t, before, o, "rejected transition mutated the order")
			case changed:
				require.NoError(t, CanTransition(before.Status, target, actor.Kind))
				require.Equal(t, target, o.Status)
				require.Len(t, o.History, len(before.History)+1)
			default:
				require.Equal(t, before.Status, target)
				require.Equal(t, before, o)
			}
			now = now.Add(time.Minute)
		}
	}
}
