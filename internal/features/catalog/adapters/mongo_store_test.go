package adapters

import (
	"context"
	"testing"

	"order-fulfillment/internal/features/catalog/domain"
	orderdomain "order-fulfillment/internal/features/orders/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	productID := primitive.NewObjectID()
	cartID := primitive.NewObjectID()

	mt.Run("get cart", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "ecommerce.carts", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: cartID},
			{Key: "userId", Value: "user-1"},
			{Key: "items", Value: bson.A{bson.D{{Key: "product_id", Value: productID}, {Key: "quantity", Value: 2}}}},
		}))

		cart, err := store.GetCart(context.Background(), cartID.Hex())
		require.NoError(mt, err)
		assert.Equal(mt, "user-1", cart.UserID)
		require.Len(mt, cart.Items, 1)
		assert.Equal(mt, productID.Hex(), cart.Items[0].ProductID)
		assert.Equal(mt, 2, cart.Items[0].Quantity)
	})

	mt.Run("cart with malformed id", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		_, err := store.GetCart(context.Background(), "not-hex")
		assert.ErrorIs(mt, err, domain.ErrCartNotFound)
	})

	mt.Run("missing cart", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "ecommerce.carts", mtest.FirstBatch))

		_, err := store.GetCart(context.Background(), cartID.Hex())
		assert.ErrorIs(mt, err, domain.ErrCartNotFound)
	})

	mt.Run("get products", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		price, err := primitive.ParseDecimal128("249.50")
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "ecommerce.products", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: productID},
			{Key: "sku", Value: "MUG-01"},
			{Key: "name", Value: "Mug"},
			{Key: "price", Value: price},
			{Key: "weightGrams", Value: 350},
			{Key: "stock", Value: 12},
			{Key: "active", Value: true},
		}))

		products, err := store.GetProducts(context.Background(), []string{productID.Hex(), "junk"})
		require.NoError(mt, err)
		require.Contains(mt, products, productID.Hex())
		assert.Equal(mt, "249.5", products[productID.Hex()].Price.String())
		assert.Equal(mt, 12, products[productID.Hex()].Stock)
	})

	mt.Run("reserve succeeds", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 1}, {Key: "nModified", Value: 1}})

		assert.NoError(mt, store.Reserve(context.Background(), productID.Hex(), 2))
	})

	mt.Run("reserve short of stock", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 0}, {Key: "nModified", Value: 0}})

		err := store.Reserve(context.Background(), productID.Hex(), 50)
		assert.ErrorIs(mt, err, domain.ErrInsufficientStock)
	})

	mt.Run("release combines failures", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 1}, {Key: "nModified", Value: 1}})

		err := store.Release(context.Background(), []orderdomain.LineItem{
			{ProductID: productID.Hex(), Quantity: 2},
			{ProductID: "bad-id", Quantity: 1},
		})
		require.Error(mt, err)
		assert.ErrorIs(mt, err, domain.ErrProductNotFound)
	})
}
