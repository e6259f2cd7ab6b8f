package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/core/mongodb"
	carrierdomain "order-fulfillment/internal/features/carriers/domain"
	"order-fulfillment/internal/features/orders/domain"
	"order-fulfillment/internal/features/orders/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultListLimit = 100

// MongoRepository implements ports.Repository on the orders collection.
type MongoRepository struct {
	collection *mongo.Collection
}

// NewMongoRepository creates a new MongoRepository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection(mongodb.CollectionOrders)}
}

type lineItemDocument struct {
	ProductID   string               `bson:"productId"`
	SKU         string               `bson:"sku"`
	Name        string               `bson:"name"`
	Quantity    int                  `bson:"quantity"`
	UnitPrice   primitive.Decimal128 `bson:"unitPrice"`
	LineTotal   primitive.Decimal128 `bson:"lineTotal"`
	WeightGrams int                  `bson:"weightGrams"`
}

type pricingDocument struct {
	Subtotal primitive.Decimal128 `bson:"subtotal"`
	Tax      primitive.Decimal128 `bson:"tax"`
	Shipping primitive.Decimal128 `bson:"shipping"`
	Total    primitive.Decimal128 `bson:"total"`
	Currency string               `bson:"currency"`
}

type paymentDocument struct {
	Method           string     `bson:"method"`
	Status           string     `bson:"status"`
	Gateway          string     `bson:"gateway,omitempty"`
	GatewayOrderID   string     `bson:"gatewayOrderId,omitempty"`
	GatewayPaymentID string     `bson:"gatewayPaymentId,omitempty"`
	PaidAt           *time.Time `bson:"paidAt,omitempty"`
}

type shippingDocument struct {
	DeliveryMethod    string     `bson:"deliveryMethod"`
	CarrierName       string     `bson:"carrierName,omitempty"`
	TrackingNumber    string     `bson:"trackingNumber,omitempty"`
	TrackingID        string     `bson:"trackingId,omitempty"`
	AssignedBy        string     `bson:"assignedBy,omitempty"`
	AssignedAt        *time.Time `bson:"assignedAt,omitempty"`
	AdminNotes        string     `bson:"adminNotes,omitempty"`
	EstimatedDelivery *time.Time `bson:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time `bson:"actualDelivery,omitempty"`
	AssignmentCount   int        `bson:"assignmentCount"`
}

type statusChangeDocument struct {
	From      string    `bson:"from,omitempty"`
	To        string    `bson:"to"`
	ActorKind string    `bson:"actorKind"`
	ActorID   string    `bson:"actorId,omitempty"`
	Reason    string    `bson:"reason,omitempty"`
	At        time.Time `bson:"at"`
}

// orderDocument is the stored shape of an order.
type orderDocument struct {
	ID              string                 `bson:"_id"`
	OrderNumber     string                 `bson:"orderNumber"`
	UserID          string                 `bson:"userId"`
	Items           []lineItemDocument     `bson:"items"`
	Pricing         pricingDocument        `bson:"pricing"`
	Status          string                 `bson:"status"`
	Payment         paymentDocument        `bson:"paymentInfo"`
	ShippingAddress carrierdomain.Address  `bson:"shippingAddress"`
	Shipping        shippingDocument       `bson:"shipping"`
	History         []statusChangeDocument `bson:"history"`
	Version         int64                  `bson:"version"`
	CreatedAt       time.Time              `bson:"createdAt"`
	UpdatedAt       time.Time              `bson:"updatedAt"`
}

// Create implements ports.Repository.
func (r *MongoRepository) Create(ctx context.Context, order *domain.Order) error {
	if _, err := r.collection.InsertOne(ctx, mapToDocument(order)); err != nil {
		return fmt.Errorf("insert order %s: %w", order.OrderNumber, err)
	}
	return nil
}

// GetByID implements ports.Repository.
func (r *MongoRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetByNumber implements ports.Repository.
func (r *MongoRepository) GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return r.findOne(ctx, bson.M{"orderNumber": orderNumber})
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*domain.Order, error) {
	var doc orderDocument
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return mapToDomain(doc), nil
}

// Update implements ports.Repository as one version-guarded replace, so the
// whole order including shipping is written in a single call.
func (r *MongoRepository) Update(ctx context.Context, order *domain.Order, expectedVersion int64) error {
	doc := mapToDocument(order)
	doc.Version = expectedVersion + 1

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": order.ID, "version": expectedVersion}, doc)
	if err != nil {
		return fmt.Errorf("replace order %s: %w", order.ID, err)
	}
	if res.MatchedCount == 0 {
		n, err := r.collection.CountDocuments(ctx, bson.M{"_id": order.ID})
		if err != nil {
			return fmt.Errorf("check order %s: %w", order.ID, err)
		}
		if n == 0 {
			return domain.ErrOrderNotFound
		}
		return domain.ErrVersionConflict
	}

	order.Version = doc.Version
	return nil
}

// List implements ports.Repository, newest first.
func (r *MongoRepository) List(ctx context.Context, f ports.ListFilter) ([]*domain.Order, error) {
	filter := bson.M{}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		filter["status"] = bson.M{"$in": statuses}
	}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.Unassigned {
		filter["shipping.deliveryMethod"] = bson.M{"$in": bson.A{"", domain.MethodNone}}
	}
	if f.PaymentCleared {
		filter["$or"] = bson.A{
			bson.M{"paymentInfo.method": string(domain.PaymentMethodCOD), "paymentInfo.status": bson.M{"$ne": string(domain.PaymentStatusFailed)}},
			bson.M{"paymentInfo.method": string(domain.PaymentMethodGateway), "paymentInfo.status": string(domain.PaymentStatusPaid)},
		}
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit).
		SetSkip(f.Offset)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}

	orders := make([]*domain.Order, 0, len(docs))
	for _, d := range docs {
		orders = append(orders, mapToDomain(d))
	}
	return orders, nil
}

func mapToDocument(o *domain.Order) orderDocument {
	items := make([]lineItemDocument, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, lineItemDocument{
			ProductID:   it.ProductID,
			SKU:         it.SKU,
			Name:        it.Name,
			Quantity:    it.Quantity,
			UnitPrice:   mongodb.ToDecimal128(it.UnitPrice),
			LineTotal:   mongodb.ToDecimal128(it.LineTotal),
			WeightGrams: it.WeightGrams,
		})
	}
	history := make([]statusChangeDocument, 0, len(o.History))
	for _, h := range o.History {
		history = append(history, statusChangeDocument{
			From:      string(h.From),
			To:        string(h.To),
			ActorKind: string(h.Actor.Kind),
			ActorID:   h.Actor.ID,
			Reason:    h.Reason,
			At:        h.At,
		})
	}

	return orderDocument{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Items:       items,
		Pricing: pricingDocument{
			Subtotal: mongodb.ToDecimal128(o.Pricing.Subtotal),
			Tax:      mongodb.ToDecimal128(o.Pricing.Tax),
			Shipping: mongodb.ToDecimal128(o.Pricing.Shipping),
			Total:    mongodb.ToDecimal128(o.Pricing.Total),
			Currency: o.Pricing.Currency,
		},
		Status: string(o.Status),
		Payment: paymentDocument{
			Method:           string(o.Payment.Method),
			Status:           string(o.Payment.Status),
			Gateway:          o.Payment.Gateway,
			GatewayOrderID:   o.Payment.GatewayOrderID,
			GatewayPaymentID: o.Payment.GatewayPaymentID,
			PaidAt:           o.Payment.PaidAt,
		},
		ShippingAddress: o.ShippingAddress,
		Shipping: shippingDocument{
			DeliveryMethod:    o.Shipping.DeliveryMethod,
			CarrierName:       o.Shipping.CarrierName,
			TrackingNumber:    o.Shipping.TrackingNumber,
			TrackingID:        o.Shipping.TrackingID,
			AssignedBy:        o.Shipping.AssignedBy,
			AssignedAt:        o.Shipping.AssignedAt,
			AdminNotes:        o.Shipping.AdminNotes,
			EstimatedDelivery: o.Shipping.EstimatedDelivery,
			ActualDelivery:    o.Shipping.ActualDelivery,
			AssignmentCount:   o.Shipping.AssignmentCount,
		},
		History:   history,
		Version:   o.Version,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

// mapToDomain converts a stored document into a domain Order entity.
func mapToDomain(d orderDocument) *domain.Order {
	items := make([]domain.LineItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, domain.LineItem{
			ProductID:   it.ProductID,
			SKU:         it.SKU,
			Name:        it.Name,
			Quantity:    it.Quantity,
			UnitPrice:   mongodb.FromDecimal128(it.UnitPrice),
			LineTotal:   mongodb.FromDecimal128(it.LineTotal),
			WeightGrams: it.WeightGrams,
		})
	}
	var history []domain.StatusChange
	for _, h := range d.History {
		history = append(history, domain.StatusChange{
			From:   domain.OrderStatus(h.From),
			To:     domain.OrderStatus(h.To),
			Actor:  domain.Actor{Kind: domain.ActorKind(h.ActorKind), ID: h.ActorID},
			Reason: h.Reason,
			At:     h.At,
		})
	}

	return &domain.Order{
		ID:          d.ID,
		OrderNumber: d.OrderNumber,
		UserID:      d.UserID,
		Items:       items,
		Pricing: domain.Pricing{
			Subtotal: mongodb.FromDecimal128(d.Pricing.Subtotal),
			Tax:      mongodb.FromDecimal128(d.Pricing.Tax),
			Shipping: mongodb.FromDecimal128(d.Pricing.Shipping),
			Total:    mongodb.FromDecimal128(d.Pricing.Total),
			Currency: d.Pricing.Currency,
		},
		Status: domain.OrderStatus(d.Status),
		Payment: domain.PaymentInfo{
			Method:           domain.PaymentMethod(d.Payment.Method),
			Status:           domain.PaymentStatus(d.Payment.Status),
			Gateway:          d.Payment.Gateway,
			GatewayOrderID:   d.Payment.GatewayOrderID,
			GatewayPaymentID: d.Payment.GatewayPaymentID,
			PaidAt:           d.Payment.PaidAt,
		},
		ShippingAddress: d.ShippingAddress,
		Shipping: domain.Shipping{
			DeliveryMethod:    d.Shipping.DeliveryMethod,
			CarrierName:       d.Shipping.CarrierName,
			TrackingNumber:    d.Shipping.TrackingNumber,
			TrackingID:        d.Shipping.TrackingID,
			AssignedBy:        d.Shipping.AssignedBy,
			AssignedAt:        d.Shipping.AssignedAt,
			AdminNotes:        d.Shipping.AdminNotes,
			EstimatedDelivery: d.Shipping.EstimatedDelivery,
			ActualDelivery:    d.Shipping.ActualDelivery,
			AssignmentCount:   d.Shipping.AssignmentCount,
		},
		History:   history,
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
