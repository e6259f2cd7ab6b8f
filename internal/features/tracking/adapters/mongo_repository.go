package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/core/mongodb"
	carrierdomain "order-fulfillment/internal/features/carriers/domain"
	"order-fulfillment/internal/features/tracking/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository implements ports.Repository on the shipment_tracking and
// orphan_events collections.
type MongoRepository struct {
	tracking *mongo.Collection
	orphans  *mongo.Collection
	now      func() time.Time
}

// NewMongoRepository creates a new MongoRepository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		tracking: db.Collection(mongodb.CollectionTracking),
		orphans:  db.Collection(mongodb.CollectionOrphanEvents),
		now:      time.Now,
	}
}

type trackingDocument struct {
	ID             string                 `bson:"_id"`
	OrderID        string                 `bson:"orderId"`
	OrderNumber    string                 `bson:"orderNumber"`
	Carrier        string                 `bson:"carrier"`
	TrackingNumber string                 `bson:"trackingNumber"`
	State          string                 `bson:"state"`
	CurrentStatus  string                 `bson:"currentStatus,omitempty"`
	Events         []domain.TrackingEvent `bson:"events"`
	LastEventAt    *time.Time             `bson:"lastEventAt,omitempty"`
	LastPolledAt   *time.Time             `bson:"lastPolledAt,omitempty"`
	CreatedAt      time.Time              `bson:"createdAt"`
	UpdatedAt      time.Time              `bson:"updatedAt"`
}

type orphanDocument struct {
	ID             string    `bson:"_id"`
	Carrier        string    `bson:"carrier"`
	TrackingNumber string    `bson:"trackingNumber"`
	EventID        string    `bson:"eventId"`
	Status         string    `bson:"status"`
	Timestamp      time.Time `bson:"timestamp"`
	ReceivedAt     time.Time `bson:"receivedAt"`
	Raw            string    `bson:"raw,omitempty"`
}

// Create implements ports.Repository.
func (r *MongoRepository) Create(ctx context.Context, rec *domain.ShipmentTracking) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Events == nil {
		rec.Events = []domain.TrackingEvent{}
	}
	if _, err := r.tracking.InsertOne(ctx, mapToDocument(rec)); err != nil {
		return fmt.Errorf("insert tracking for order %s: %w", rec.OrderNumber, err)
	}
	return nil
}

// GetByID implements ports.Repository.
func (r *MongoRepository) GetByID(ctx context.Context, id string) (*domain.ShipmentTracking, error) {
	var doc trackingDocument
	if err := r.tracking.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrTrackingNotFound
		}
		return nil, fmt.Errorf("find tracking %s: %w", id, err)
	}
	return mapToDomain(doc), nil
}

// FindByTracking implements ports.Repository.
func (r *MongoRepository) FindByTracking(ctx context.Context, carrier, trackingNumber string) (*domain.ShipmentTracking, error) {
	return r.preferActive(ctx, bson.M{"carrier": carrier, "trackingNumber": trackingNumber})
}

// FindByTrackingNumber implements ports.Repository.
func (r *MongoRepository) FindByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.ShipmentTracking, error) {
	return r.preferActive(ctx, bson.M{"trackingNumber": trackingNumber})
}

// preferActive returns the active match, falling back to the newest record.
func (r *MongoRepository) preferActive(ctx context.Context, filter bson.M) (*domain.ShipmentTracking, error) {
	recs, err := r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(10))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, domain.ErrTrackingNotFound
	}
	for _, rec := range recs {
		if rec.IsActive() {
			return rec, nil
		}
	}
	return recs[0], nil
}

// FindActiveByOrder implements ports.Repository.
func (r *MongoRepository) FindActiveByOrder(ctx context.Context, orderID string) (*domain.ShipmentTracking, error) {
	var doc trackingDocument
	err := r.tracking.FindOne(ctx, bson.M{"orderId": orderID, "state": string(domain.RecordActive)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrTrackingNotFound
		}
		return nil, fmt.Errorf("find active tracking for order %s: %w", orderID, err)
	}
	return mapToDomain(doc), nil
}

// ListByOrder implements ports.Repository, oldest first.
func (r *MongoRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.ShipmentTracking, error) {
	return r.find(ctx, bson.M{"orderId": orderID}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
}

// SetState implements ports.Repository.
func (r *MongoRepository) SetState(ctx context.Context, id string, state domain.RecordState) error {
	return r.set(ctx, id, bson.M{"state": string(state)})
}

// MarkPolled implements ports.Repository.
func (r *MongoRepository) MarkPolled(ctx context.Context, id string, at time.Time) error {
	return r.set(ctx, id, bson.M{"lastPolledAt": at})
}

func (r *MongoRepository) set(ctx context.Context, id string, fields bson.M) error {
	fields["updatedAt"] = r.now().UTC()
	res, err := r.tracking.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update tracking %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrTrackingNotFound
	}
	return nil
}

// AppendEvent implements ports.Repository. The duplicate check and the push
// are one conditional update, so concurrent deliveries of the same event
// store it once.
func (r *MongoRepository) AppendEvent(ctx context.Context, id string, ev domain.TrackingEvent) error {
	filter := bson.M{
		"_id":            id,
		"events.eventId": bson.M{"$ne": ev.EventID},
		"events": bson.M{"$not": bson.M{"$elemMatch": bson.M{
			"status":    ev.Status,
			"timestamp": ev.Timestamp,
		}}},
	}
	update := bson.M{
		"$push": bson.M{"events": bson.M{
			"$each": bson.A{ev},
			"$sort": bson.M{"timestamp": 1},
		}},
		"$set": bson.M{"updatedAt": r.now().UTC()},
	}

	res, err := r.tracking.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("append event to tracking %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		n, err := r.tracking.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("check tracking %s: %w", id, err)
		}
		if n == 0 {
			return domain.ErrTrackingNotFound
		}
		return domain.ErrDuplicateEvent
	}

	if ev.Source == domain.SourceAdmin {
		return nil
	}

	// Late events stay in history without moving the current status back.
	_, err = r.tracking.UpdateOne(ctx,
		bson.M{"_id": id, "$or": bson.A{
			bson.M{"lastEventAt": nil},
			bson.M{"lastEventAt": bson.M{"$lte": ev.Timestamp}},
		}},
		bson.M{"$set": bson.M{"currentStatus": ev.Status, "lastEventAt": ev.Timestamp}},
	)
	if err != nil {
		return fmt.Errorf("set current status on tracking %s: %w", id, err)
	}
	return nil
}

// SetEventApplied implements ports.Repository. An unknown event id is not an
// error; only a missing record is.
func (r *MongoRepository) SetEventApplied(ctx context.Context, id, eventID string, applied bool) error {
	_, err := r.tracking.UpdateOne(ctx,
		bson.M{"_id": id, "events.eventId": eventID},
		bson.M{"$set": bson.M{"events.$.applied": applied, "updatedAt": r.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("set applied on event %s of tracking %s: %w", eventID, id, err)
	}
	return nil
}

// ListStale implements ports.Repository. Records that were neither updated
// nor polled since before are returned oldest first.
func (r *MongoRepository) ListStale(ctx context.Context, before time.Time, limit int64) ([]*domain.ShipmentTracking, error) {
	filter := bson.M{
		"state":          string(domain.RecordActive),
		"carrier":        bson.M{"$ne": carrierdomain.ManualCarrier},
		"trackingNumber": bson.M{"$ne": ""},
		"currentStatus":  bson.M{"$ne": string(carrierdomain.StatusDelivered)},
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"lastEventAt": bson.M{"$lt": before}},
				bson.M{"lastEventAt": nil, "createdAt": bson.M{"$lt": before}},
			}},
			bson.M{"$or": bson.A{
				bson.M{"lastPolledAt": nil},
				bson.M{"lastPolledAt": bson.M{"$lt": before}},
			}},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "lastEventAt", Value: 1}, {Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return r.find(ctx, filter, opts)
}

// SaveOrphan implements ports.Repository.
func (r *MongoRepository) SaveOrphan(ctx context.Context, ev domain.OrphanEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	doc := orphanDocument{
		ID:             ev.ID,
		Carrier:        ev.Carrier,
		TrackingNumber: ev.TrackingNumber,
		EventID:        ev.EventID,
		Status:         ev.Status,
		Timestamp:      ev.Timestamp,
		ReceivedAt:     ev.ReceivedAt,
		Raw:            ev.Raw,
	}
	if _, err := r.orphans.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert orphan event for %s: %w", ev.TrackingNumber, err)
	}
	return nil
}

func (r *MongoRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.ShipmentTracking, error) {
	cursor, err := r.tracking.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find tracking: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []trackingDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode tracking: %w", err)
	}
	out := make([]*domain.ShipmentTracking, 0, len(docs))
	for _, d := range docs {
		out = append(out, mapToDomain(d))
	}
	return out, nil
}

func mapToDocument(t *domain.ShipmentTracking) trackingDocument {
	return trackingDocument{
		ID:             t.ID,
		OrderID:        t.OrderID,
		OrderNumber:    t.OrderNumber,
		Carrier:        t.Carrier,
		TrackingNumber: t.TrackingNumber,
		State:          string(t.State),
		CurrentStatus:  t.CurrentStatus,
		Events:         t.Events,
		LastEventAt:    t.LastEventAt,
		LastPolledAt:   t.LastPolledAt,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func mapToDomain(d trackingDocument) *domain.ShipmentTracking {
	events := d.Events
	if events == nil {
		events = []domain.TrackingEvent{}
	}
	return &domain.ShipmentTracking{
		ID:             d.ID,
		OrderID:        d.OrderID,
		OrderNumber:    d.OrderNumber,
		Carrier:        d.Carrier,
		TrackingNumber: d.TrackingNumber,
		State:          domain.RecordState(d.State),
		CurrentStatus:  d.CurrentStatus,
		Events:         events,
		LastEventAt:    d.LastEventAt,
		LastPolledAt:   d.LastPolledAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}
