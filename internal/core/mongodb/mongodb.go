package mongodb

import (
	"context"
	"fmt"
	"time"

	"order-fulfillment/internal/core/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// Collection names shared by the feature adapters.
const (
	CollectionOrders       = "orders"
	CollectionTracking     = "shipment_tracking"
	CollectionOrphanEvents = "orphan_events"
	CollectionCarts        = "carts"
	CollectionProducts     = "products"
)

// Connect opens a client against uri and verifies it with a primary ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	opts := options.Client().ApplyURI(uri).SetServerSelectionTimeout(connectTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger.Get().Info("Connected to MongoDB")
	return client, nil
}

// EnsureIndexes creates the indexes the repositories rely on for uniqueness and lookups.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		CollectionOrders: {
			{Keys: bson.D{{Key: "orderNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		CollectionTracking: {
			{Keys: bson.D{{Key: "carrier", Value: 1}, {Key: "trackingNumber", Value: 1}, {Key: "state", Value: 1}}},
			{Keys: bson.D{{Key: "orderId", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "lastEventAt", Value: 1}}},
		},
		CollectionOrphanEvents: {
			{Keys: bson.D{{Key: "carrier", Value: 1}, {Key: "trackingNumber", Value: 1}}},
		},
		CollectionCarts: {
			{Keys: bson.D{{Key: "userId", Value: 1}}},
		},
	}

	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
		logger.Get().Debug("Ensured indexes", zap.String("collection", name), zap.Int("count", len(models)))
	}
	return nil
}

// Disconnect closes the client, logging instead of failing on error.
func Disconnect(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Get().Error("Failed to disconnect MongoDB", zap.Error(err))
	}
}
