package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"order-fulfillment/internal/core/metrics"
	"order-fulfillment/internal/features/orders/domain"
	"order-fulfillment/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	ptestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

func newMachine(t *testing.T, orders ...*domain.Order) (*StateMachine, *testutil.OrderRepository, *testutil.TransitionRecorder) {
	t.Helper()
	repo := testutil.NewOrderRepository(orders...)
	rec := &testutil.TransitionRecorder{}
	sm := NewStateMachine(repo, nil, rec)
	sm.now = func() time.Time { return fixedNow }
	return sm, repo, rec
}

func admin() domain.Actor { return domain.Actor{Kind: domain.ActorAdmin, ID: "admin-1"} }

func TestStateMachine_Create(t *testing.T) {
	sm, repo, rec := newMachine(t)
	o := testutil.NewOrder("o-1", "ORD-1001")
	o.History = nil

	require.NoError(t, sm.Create(context.Background(), o, domain.SystemActor("checkout")))

	stored := repo.Stored("o-1")
	require.NotNil(t, stored)
	assert.Equal(t, int64(0), stored.Version)
	require.Len(t, stored.History, 1)
	assert.Equal(t, domain.OrderStatusConfirmed, stored.History[0].To)
	assert.Equal(t, fixedNow, stored.CreatedAt)
	assert.Len(t, rec.Calls, 1)
}

func TestStateMachine_Create_RejectsNonEntryStatus(t *testing.T) {
	sm, repo, _ := newMachine(t)
	o := testutil.NewOrder("o-1", "ORD-1001")
	o.Status = domain.OrderStatusShipped

	err := sm.Create(context.Background(), o, domain.SystemActor("checkout"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Nil(t, repo.Stored("o-1"))
}

func TestStateMachine_Transition(t *testing.T) {
	t.Run("applies legal edge and notifies", func(t *testing.T) {
		sm, repo, rec := newMachine(t, testutil.NewOrder("o-1", "ORD-1001"))

		res, err := sm.Transition(context.Background(), "o-1", domain.OrderStatusProcessing, admin(), domain.TransitionMeta{})
		require.NoError(t, err)
		assert.True(t, res.StatusChanged())
		assert.Equal(t, domain.OrderStatusConfirmed, res.From)
		assert.Equal(t, int64(1), repo.Stored("o-1").Version)
		assert.Equal(t, domain.OrderStatusProcessing, repo.Stored("o-1").Status)
		require.Len(t, rec.Calls, 1)
		assert.Equal(t, domain.OrderStatusProcessing, rec.Calls[0].To)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		sm, repo, rec := newMachine(t, testutil.NewOrder("o-1", "ORD-1001"))

		res, err := sm.Transition(context.Background(), "o-1", domain.OrderStatusConfirmed, admin(), domain.TransitionMeta{})
		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Equal(t, 0, repo.Updates)
		assert.Empty(t, rec.Calls)
	})

	t.Run("illegal edge leaves store untouched", func(t *testing.T) {
		sm, repo, _ := newMachine(t, testutil.NewOrder("o-1", "ORD-1001"))

		_, err := sm.Transition(context.Background(), "o-1", domain.OrderStatusDelivered, domain.CarrierActor("delhivery"), domain.TransitionMeta{})
		var te *domain.TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, domain.OrderStatusConfirmed, te.From)
		assert.Equal(t, 0, repo.Updates)
	})

	t.Run("retries on version conflict", func(t *testing.T) {
		sm, repo, _ := newMachine(t, testutil.NewOrder("o-1", "ORD-1001"))
		repo.Conflicts = 2

		res, err := sm.Transition(context.Background(), "o-1", domain.OrderStatusProcessing, admin(), domain.TransitionMeta{})
		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, 3, repo.Updates)
	})

	t.Run("gives up after repeated conflicts", func(t *testing.T) {
		sm, repo, _ := newMachine(t, testutil.NewOrder("o-1", "ORD-1001"))
		repo.Conflicts = maxWriteAttempts

		_, err := sm.Transition(context.Background(), "o-1", domain.OrderStatusProcessing, admin(), domain.TransitionMeta{})
		assert.ErrorIs(t, err, domain.ErrVersionConflict)
		assert.Equal(t, domain.OrderStatusConfirmed, repo.Stored("o-1").Status)
	})

	t.Run("unknown order", func(t *testing.T) {
		sm, _, _ := newMachine(t)
		_, err := sm.Transition(context.Background(), "missing", domain.OrderStatusProcessing, admin(), domain.TransitionMeta{})
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("listener failure does not undo the write", func(t *testing.T) {
		sm, repo, rec := newMachine(t, testutil.NewOrder("o-1", "ORD-1001"))
		rec.Err = errors.New("smtp down")

		_, err := sm.Transition(context.Background(), "o-1", domain.OrderStatusCancelled, admin(), domain.TransitionMeta{})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, repo.Stored("o-1").Status)
	})
}

func TestStateMachine_ApplyAssignment(t *testing.T) {
	t.Run("ships confirmed order in one write", func(t *testing.T) {
		sm, repo, _ := newMachine(t, testutil.NewOrder("o-1", "ORD-1001"))

		res, err := sm.ApplyAssignment(context.Background(), "o-1", admin(), domain.Shipping{
			DeliveryMethod: "delhivery",
			CarrierName:    "delhivery",
			TrackingNumber: "AWBX123",
			AdminNotes:     "fragile",
		})
		require.NoError(t, err)
		assert.Equal(t, 1, repo.Updates)

		stored := repo.Stored("o-1")
		assert.Equal(t, domain.OrderStatusShipped, stored.Status)
		assert.Equal(t, "AWBX123", stored.Shipping.TrackingNumber)
		assert.Equal(t, "admin-1", stored.Shipping.AssignedBy)
		assert.Equal(t, 1, stored.Shipping.AssignmentCount)
		require.NotNil(t, stored.Shipping.AssignedAt)
		assert.Equal(t, fixedNow, *stored.Shipping.AssignedAt)
		assert.Equal(t, res.Order.Version, stored.Version)
	})

	t.Run("keeps status of an order already in transit", func(t *testing.T) {
		o := testutil.NewOrder("o-1", "ORD-1001")
		o.Status = domain.OrderStatusInTransit
		o.Shipping = domain.Shipping{DeliveryMethod: "delhivery", TrackingNumber: "OLD", AssignmentCount: 1}
		sm, repo, _ := newMachine(t, o)

		_, err := sm.ApplyAssignment(context.Background(), "o-1", admin(), domain.Shipping{DeliveryMethod: "shiprocket", TrackingNumber: "NEW"})
		require.NoError(t, err)
		stored := repo.Stored("o-1")
		assert.Equal(t, domain.OrderStatusInTransit, stored.Status)
		assert.Equal(t, 2, stored.Shipping.AssignmentCount)
		assert.Equal(t, "NEW", stored.Shipping.TrackingNumber)
	})

	t.Run("rejects pending payment", func(t *testing.T) {
		o := testutil.NewOrder("o-1", "ORD-1001")
		o.Status = domain.OrderStatusPendingPayment
		sm, repo, _ := newMachine(t, o)

		_, err := sm.ApplyAssignment(context.Background(), "o-1", admin(), domain.Shipping{DeliveryMethod: "manual"})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Equal(t, domain.MethodNone, repo.Stored("o-1").Shipping.DeliveryMethod)
	})

	t.Run("requires a method", func(t *testing.T) {
		sm, repo, _ := newMachine(t, testutil.NewOrder("o-1", "ORD-1001"))
		_, err := sm.ApplyAssignment(context.Background(), "o-1", admin(), domain.Shipping{DeliveryMethod: domain.MethodNone})
		assert.Error(t, err)
		assert.Equal(t, 0, repo.Updates)
	})
}

func TestStateMachine_ClearAssignment(t *testing.T) {
	o := testutil.NewOrder("o-1", "ORD-1001")
	o.Status = domain.OrderStatusShipped
	o.Shipping = domain.Shipping{DeliveryMethod: "delhivery", TrackingNumber: "AWB1", AdminNotes: "gate 2", AssignmentCount: 1}
	sm, repo, _ := newMachine(t, o)

	res, err := sm.ClearAssignment(context.Background(), "o-1", admin(), "carrier create failed")
	require.NoError(t, err)
	assert.True(t, res.Changed)

	stored := repo.Stored("o-1")
	assert.Equal(t, domain.OrderStatusShipped, stored.Status)
	assert.Equal(t, domain.MethodNone, stored.Shipping.DeliveryMethod)
	assert.Empty(t, stored.Shipping.TrackingNumber)
	assert.Equal(t, "gate 2", stored.Shipping.AdminNotes)
	assert.Equal(t, 1, stored.Shipping.AssignmentCount)

	res, err = sm.ClearAssignment(context.Background(), "o-1", admin(), "again")
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestStateMachine_SetAdminNotes(t *testing.T) {
	sm, repo, rec := newMachine(t, testutil.NewOrder("o-1", "ORD-1001"))

	res, err := sm.SetAdminNotes(context.Background(), "o-1", admin(), "call before delivery")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.StatusChanged())
	assert.Equal(t, "call before delivery", repo.Stored("o-1").Shipping.AdminNotes)
	assert.Empty(t, rec.Calls)
}

func TestStateMachine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	repo := testutil.NewOrderRepository(testutil.NewOrder("o-1", "ORD-1001"))
	sm := NewStateMachine(repo, metrics.New(reg))

	_, err := sm.Transition(context.Background(), "o-1", domain.OrderStatusProcessing, admin(), domain.TransitionMeta{})
	require.NoError(t, err)

	n, err := ptestutil.GatherAndCount(reg, "order_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
