package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"order-fulfillment/internal/features/tracking/domain"

	"github.com/google/uuid"
)

// TrackingRepository is an in-memory tracking ports.Repository with the same
// duplicate and ordering rules as the Mongo one.
type TrackingRepository struct {
	mu      sync.Mutex
	records map[string]*domain.ShipmentTracking
	order   []string
	Orphans []domain.OrphanEvent

	// AppendErr, when set, is returned by every AppendEvent.
	AppendErr error
	// CreateErr, when set, is returned by every Create.
	CreateErr error
	// AfterFind, when set, runs after FindByTracking returns a record.
	AfterFind func(rec *domain.ShipmentTracking)
	Polled    map[string]time.Time
}

func NewTrackingRepository() *TrackingRepository {
	return &TrackingRepository{records: map[string]*domain.ShipmentTracking{}, Polled: map[string]time.Time{}}
}

func cloneRecord(t *domain.ShipmentTracking) *domain.ShipmentTracking {
	c := *t
	c.Events = append([]domain.TrackingEvent{}, t.Events...)
	return &c
}

func (r *TrackingRepository) Create(_ context.Context, rec *domain.ShipmentTracking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Events == nil {
		rec.Events = []domain.TrackingEvent{}
	}
	r.records[rec.ID] = cloneRecord(rec)
	r.order = append(r.order, rec.ID)
	return nil
}

func (r *TrackingRepository) GetByID(_ context.Context, id string) (*domain.ShipmentTracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrTrackingNotFound
	}
	return cloneRecord(rec), nil
}

func (r *TrackingRepository) FindByTracking(_ context.Context, carrier, trackingNumber string) (*domain.ShipmentTracking, error) {
	rec, err := r.preferActive(func(t *domain.ShipmentTracking) bool {
		return t.Carrier == carrier && t.TrackingNumber == trackingNumber
	})
	if err == nil && r.AfterFind != nil {
		r.AfterFind(rec)
	}
	return rec, err
}

func (r *TrackingRepository) FindByTrackingNumber(_ context.Context, trackingNumber string) (*domain.ShipmentTracking, error) {
	return r.preferActive(func(t *domain.ShipmentTracking) bool {
		return t.TrackingNumber == trackingNumber
	})
}

func (r *TrackingRepository) preferActive(match func(*domain.ShipmentTracking) bool) (*domain.ShipmentTracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *domain.ShipmentTracking
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.records[r.order[i]]
		if !match(rec) {
			continue
		}
		if rec.IsActive() {
			return cloneRecord(rec), nil
		}
		if newest == nil {
			newest = rec
		}
	}
	if newest == nil {
		return nil, domain.ErrTrackingNotFound
	}
	return cloneRecord(newest), nil
}

func (r *TrackingRepository) FindActiveByOrder(_ context.Context, orderID string) (*domain.ShipmentTracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		rec := r.records[id]
		if rec.OrderID == orderID && rec.IsActive() {
			return cloneRecord(rec), nil
		}
	}
	return nil, domain.ErrTrackingNotFound
}

func (r *TrackingRepository) ListByOrder(_ context.Context, orderID string) ([]*domain.ShipmentTracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ShipmentTracking
	for _, id := range r.order {
		if rec := r.records[id]; rec.OrderID == orderID {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (r *TrackingRepository) SetState(_ context.Context, id string, state domain.RecordState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.ErrTrackingNotFound
	}
	rec.State = state
	return nil
}

func (r *TrackingRepository) AppendEvent(_ context.Context, id string, ev domain.TrackingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AppendErr != nil {
		return r.AppendErr
	}
	rec, ok := r.records[id]
	if !ok {
		return domain.ErrTrackingNotFound
	}
	for _, existing := range rec.Events {
		if existing.EventID == ev.EventID || (existing.Status == ev.Status && existing.Timestamp.Equal(ev.Timestamp)) {
			return domain.ErrDuplicateEvent
		}
	}
	rec.Events = append(rec.Events, ev)
	sort.SliceStable(rec.Events, func(i, j int) bool { return rec.Events[i].Timestamp.Before(rec.Events[j].Timestamp) })
	if ev.Source != domain.SourceAdmin && (rec.LastEventAt == nil || !ev.Timestamp.Before(*rec.LastEventAt)) {
		ts := ev.Timestamp
		rec.LastEventAt = &ts
		rec.CurrentStatus = ev.Status
	}
	return nil
}

func (r *TrackingRepository) SetEventApplied(_ context.Context, id, eventID string, applied bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.ErrTrackingNotFound
	}
	for i := range rec.Events {
		if rec.Events[i].EventID == eventID {
			rec.Events[i].Applied = applied
		}
	}
	return nil
}

func (r *TrackingRepository) ListStale(_ context.Context, before time.Time, limit int64) ([]*domain.ShipmentTracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ShipmentTracking
	for _, id := range r.order {
		rec := r.records[id]
		if !rec.IsActive() || rec.TrackingNumber == "" || rec.CurrentStatus == "delivered" {
			continue
		}
		last := rec.CreatedAt
		if rec.LastEventAt != nil {
			last = *rec.LastEventAt
		}
		if !last.Before(before) {
			continue
		}
		if rec.LastPolledAt != nil && !rec.LastPolledAt.Before(before) {
			continue
		}
		out = append(out, cloneRecord(rec))
		if limit > 0 && int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (r *TrackingRepository) MarkPolled(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.ErrTrackingNotFound
	}
	rec.LastPolledAt = &at
	r.Polled[id] = at
	return nil
}

func (r *TrackingRepository) SaveOrphan(_ context.Context, ev domain.OrphanEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Orphans = append(r.Orphans, ev)
	return nil
}

// Stored returns the current stored copy, or nil.
func (r *TrackingRepository) Stored(id string) *domain.ShipmentTracking {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return cloneRecord(rec)
	}
	return nil
}

// All returns every record in creation order.
func (r *TrackingRepository) All() []*domain.ShipmentTracking {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.ShipmentTracking, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneRecord(r.records[id]))
	}
	return out
}

// Guard is an in-memory idempotency guard.
type Guard struct {
	mu   sync.Mutex
	seen map[string]bool
	Err  error
}

func NewGuard() *Guard {
	return &Guard{seen: map[string]bool{}}
}

func (g *Guard) Seen(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return false, g.Err
	}
	return g.seen[key], nil
}

func (g *Guard) Mark(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return g.Err
	}
	g.seen[key] = true
	return nil
}

// Marked reports whether key is marked.
func (g *Guard) Marked(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seen[key]
}
