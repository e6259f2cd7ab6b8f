package adapters

import (
	"context"
	"errors"
	"fmt"

	"order-fulfillment/internal/core/mongodb"
	"order-fulfillment/internal/features/catalog/domain"
	orderdomain "order-fulfillment/internal/features/orders/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/multierr"
)

// MongoStore implements the cart, catalog and stock ports on the products
// and carts collections.
type MongoStore struct {
	products *mongo.Collection
	carts    *mongo.Collection
}

// NewMongoStore creates a new MongoStore.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		products: db.Collection(mongodb.CollectionProducts),
		carts:    db.Collection(mongodb.CollectionCarts),
	}
}

type productDocument struct {
	ID          primitive.ObjectID   `bson:"_id"`
	SKU         string               `bson:"sku"`
	Name        string               `bson:"name"`
	Price       primitive.Decimal128 `bson:"price"`
	WeightGrams int                  `bson:"weightGrams"`
	Stock       int                  `bson:"stock"`
	Active      bool                 `bson:"active"`
}

type cartItemDocument struct {
	ProductID primitive.ObjectID `bson:"product_id"`
	Quantity  int                `bson:"quantity"`
}

type cartDocument struct {
	ID     primitive.ObjectID `bson:"_id"`
	UserID string             `bson:"userId"`
	Items  []cartItemDocument `bson:"items"`
}

// GetCart implements ports.CartStore.
func (s *MongoStore) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	oid, err := primitive.ObjectIDFromHex(cartID)
	if err != nil {
		return nil, domain.ErrCartNotFound
	}

	var doc cartDocument
	if err := s.carts.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("find cart: %w", err)
	}

	cart := &domain.Cart{ID: doc.ID.Hex(), UserID: doc.UserID}
	for _, it := range doc.Items {
		cart.Items = append(cart.Items, domain.CartItem{ProductID: it.ProductID.Hex(), Quantity: it.Quantity})
	}
	return cart, nil
}

// ClearCart implements ports.CartStore.
func (s *MongoStore) ClearCart(ctx context.Context, cartID string) error {
	oid, err := primitive.ObjectIDFromHex(cartID)
	if err != nil {
		return domain.ErrCartNotFound
	}
	if _, err := s.carts.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"items": bson.A{}}}); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// GetProducts implements ports.Catalog. Unknown ids are simply absent from the result.
func (s *MongoStore) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		oids = append(oids, oid)
	}

	out := make(map[string]domain.Product, len(oids))
	if len(oids) == 0 {
		return out, nil
	}

	cursor, err := s.products.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []productDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	for _, d := range docs {
		out[d.ID.Hex()] = domain.Product{
			ID:          d.ID.Hex(),
			SKU:         d.SKU,
			Name:        d.Name,
			Price:       mongodb.FromDecimal128(d.Price),
			WeightGrams: d.WeightGrams,
			Stock:       d.Stock,
			Active:      d.Active,
		}
	}
	return out, nil
}

// Reserve implements ports.Stock with a conditional decrement.
func (s *MongoStore) Reserve(ctx context.Context, productID string, qty int) error {
	oid, err := primitive.ObjectIDFromHex(productID)
	if err != nil {
		return domain.ErrProductNotFound
	}

	res, err := s.products.UpdateOne(ctx,
		bson.M{"_id": oid, "stock": bson.M{"$gte": qty}},
		bson.M{"$inc": bson.M{"stock": -qty}},
	)
	if err != nil {
		return fmt.Errorf("reserve %s: %w", productID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrInsufficientStock, productID)
	}
	return nil
}

// Release implements ports.Stock. Every line is attempted; failures are combined.
func (s *MongoStore) Release(ctx context.Context, items []orderdomain.LineItem) error {
	var errs error
	for _, it := range items {
		oid, err := primitive.ObjectIDFromHex(it.ProductID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release %s: %w", it.ProductID, domain.ErrProductNotFound))
			continue
		}
		if _, err := s.products.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$inc": bson.M{"stock": it.Quantity}}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release %s: %w", it.ProductID, err))
		}
	}
	return errs
}
