package adapters

import (
	"context"
	"testing"
	"time"

	carrierdomain "order-fulfillment/internal/features/carriers/domain"
	"order-fulfillment/internal/features/orders/domain"
	"order-fulfillment/internal/features/orders/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const ordersNS = "ecommerce.orders"

func sampleOrder() *domain.Order {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Order{
		ID:          "order-1",
		OrderNumber: "ORD-1001",
		UserID:      "user-1",
		Items: []domain.LineItem{{
			ProductID:   "p-1",
			SKU:         "SKU-1",
			Name:        "Kettle",
			Quantity:    2,
			UnitPrice:   decimal.RequireFromString("499.50"),
			LineTotal:   decimal.RequireFromString("999.00"),
			WeightGrams: 800,
		}},
		Pricing: domain.Pricing{
			Subtotal: decimal.RequireFromString("999.00"),
			Tax:      decimal.RequireFromString("179.82"),
			Shipping: decimal.Zero,
			Total:    decimal.RequireFromString("1178.82"),
			Currency: "INR",
		},
		Status:  domain.OrderStatusConfirmed,
		Payment: domain.PaymentInfo{Method: domain.PaymentMethodCOD, Status: domain.PaymentStatusPending},
		ShippingAddress: carrierdomain.Address{
			Name:       "Asha",
			Line1:      "12 MG Road",
			City:       "Bengaluru",
			State:      "KA",
			PostalCode: "560001",
			Phone:      "9999999999",
		},
		Shipping: domain.Shipping{DeliveryMethod: domain.MethodNone},
		History: []domain.StatusChange{{
			To:    domain.OrderStatusConfirmed,
			Actor: domain.SystemActor("checkout"),
			At:    created,
		}},
		Version:   3,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func orderAsBSON(t *testing.T, o *domain.Order) bson.D {
	t.Helper()
	raw, err := bson.Marshal(mapToDocument(o))
	require.NoError(t, err)
	var d bson.D
	require.NoError(t, bson.Unmarshal(raw, &d))
	return d
}

func TestMongoRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create inserts document", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		err := repo.Create(context.Background(), sampleOrder())
		require.NoError(mt, err)
	})

	mt.Run("get by id maps document", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		want := sampleOrder()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ordersNS, mtest.FirstBatch, orderAsBSON(mt.T, want)))

		got, err := repo.GetByID(context.Background(), "order-1")
		require.NoError(mt, err)
		assert.Equal(mt, "ORD-1001", got.OrderNumber)
		assert.Equal(mt, domain.OrderStatusConfirmed, got.Status)
		assert.True(mt, want.Pricing.Total.Equal(got.Pricing.Total))
		assert.True(mt, want.Items[0].UnitPrice.Equal(got.Items[0].UnitPrice))
		assert.Equal(mt, "560001", got.ShippingAddress.PostalCode)
		assert.Equal(mt, int64(3), got.Version)
		require.Len(mt, got.History, 1)
		assert.Equal(mt, domain.ActorSystem, got.History[0].Actor.Kind)
	})

	mt.Run("get by number not found", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ordersNS, mtest.FirstBatch))

		_, err := repo.GetByNumber(context.Background(), "ORD-9999")
		assert.ErrorIs(mt, err, domain.ErrOrderNotFound)
	})

	mt.Run("update bumps version", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 1}, {Key: "nModified", Value: 1}})

		o := sampleOrder()
		err := repo.Update(context.Background(), o, 3)
		require.NoError(mt, err)
		assert.Equal(mt, int64(4), o.Version)
	})

	mt.Run("update detects version conflict", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		mt.AddMockResponses(
			bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 0}, {Key: "nModified", Value: 0}},
			mtest.CreateCursorResponse(0, ordersNS, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(1)}}),
		)

		o := sampleOrder()
		err := repo.Update(context.Background(), o, 2)
		assert.ErrorIs(mt, err, domain.ErrVersionConflict)
		assert.Equal(mt, int64(3), o.Version)
	})

	mt.Run("update on missing order", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		mt.AddMockResponses(
			bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 0}, {Key: "nModified", Value: 0}},
			mtest.CreateCursorResponse(0, ordersNS, mtest.FirstBatch),
		)

		err := repo.Update(context.Background(), sampleOrder(), 3)
		assert.ErrorIs(mt, err, domain.ErrOrderNotFound)
	})

	mt.Run("list decodes all", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		first := sampleOrder()
		second := sampleOrder()
		second.ID = "order-2"
		second.OrderNumber = "ORD-1002"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ordersNS, mtest.FirstBatch,
			orderAsBSON(mt.T, first), orderAsBSON(mt.T, second)))

		orders, err := repo.List(context.Background(), ports.ListFilter{
			Statuses:       []domain.OrderStatus{domain.OrderStatusConfirmed},
			Unassigned:     true,
			PaymentCleared: true,
		})
		require.NoError(mt, err)
		require.Len(mt, orders, 2)
		assert.Equal(mt, "ORD-1002", orders[1].OrderNumber)
	})

	mt.Run("insert error is wrapped", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))

		err := repo.Create(context.Background(), sampleOrder())
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "ORD-1001")
	})
}
