package domain

import (
	"errors"
	"time"

	carrierdomain "order-fulfillment/internal/features/carriers/domain"
)

var (
	// ErrDuplicateEvent is returned when an event id or (status, timestamp) pair is already recorded.
	ErrDuplicateEvent   = errors.New("tracking event already recorded")
	ErrTrackingNotFound = errors.New("tracking not found")
	// ErrUnrecognizedWebhookEvent marks carrier events that cannot be mapped or validated.
	ErrUnrecognizedWebhookEvent = errors.New("unrecognized webhook event")
)

// RecordState is the lifecycle state of a shipment tracking record.
type RecordState string

const (
	// RecordActive is the one record per order that drives order status.
	RecordActive RecordState = "active"
	// RecordSuperseded was replaced by a reassignment after a clean cancellation.
	RecordSuperseded RecordState = "superseded"
	// RecordCancelled belongs to a shipment cancelled before it was ever active.
	RecordCancelled RecordState = "cancelled"
	// RecordAbandoned was replaced while the carrier refused cancellation.
	RecordAbandoned RecordState = "abandoned"
)

// EventSource tells how an event reached us.
type EventSource string

const (
	SourceWebhook EventSource = "webhook"
	SourcePoll    EventSource = "poll"
	SourceAdmin   EventSource = "admin"
)

// TrackingEvent represents a single event in the shipment's tracking history.
type TrackingEvent struct {
	// EventID is the carrier event id, or a derived one for carriers without ids.
	EventID string `json:"eventId" bson:"eventId"`
	// Status is the normalized carrier status, or the order status for admin events.
	Status string `json:"status" bson:"status"`
	// RawStatus is the carrier's own status text.
	RawStatus   string `json:"rawStatus,omitempty" bson:"rawStatus,omitempty"`
	Location    string `json:"location,omitempty" bson:"location,omitempty"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	// Timestamp is when the event happened at the carrier.
	Timestamp  time.Time   `json:"timestamp" bson:"timestamp"`
	ReceivedAt time.Time   `json:"receivedAt" bson:"receivedAt"`
	Source     EventSource `json:"source" bson:"source"`
	// Applied is true when the event moved the order status.
	Applied bool                         `json:"applied" bson:"applied"`
	Agent   *carrierdomain.DeliveryAgent `json:"agent,omitempty" bson:"agent,omitempty"`
	Raw     string                       `json:"-" bson:"raw,omitempty"`
}

// ShipmentTracking is the history of one shipment attempt.
type ShipmentTracking struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"orderId"`
	OrderNumber    string          `json:"orderNumber"`
	Carrier        string          `json:"carrier"`
	TrackingNumber string          `json:"trackingNumber,omitempty"`
	State          RecordState     `json:"state"`
	CurrentStatus  string          `json:"currentStatus,omitempty"`
	Events         []TrackingEvent `json:"events"`
	LastEventAt    *time.Time      `json:"lastEventAt,omitempty"`
	LastPolledAt   *time.Time      `json:"lastPolledAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// IsActive reports whether the record drives order status.
func (t *ShipmentTracking) IsActive() bool {
	return t.State == RecordActive
}

// OrphanEvent is a carrier event for a tracking number we do not know.
type OrphanEvent struct {
	ID             string    `json:"id"`
	Carrier        string    `json:"carrier"`
	TrackingNumber string    `json:"trackingNumber"`
	EventID        string    `json:"eventId"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	ReceivedAt     time.Time `json:"receivedAt"`
	Raw            string    `json:"raw,omitempty"`
}

// TrackingHistory is the public tracking view of a shipment.
type TrackingHistory struct {
	TrackingNumber    string          `json:"trackingNumber"`
	Carrier           string          `json:"carrier"`
	OrderNumber       string          `json:"orderNumber"`
	CurrentStatus     string          `json:"currentStatus"`
	OrderStatus       string          `json:"orderStatus"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time      `json:"actualDelivery,omitempty"`
	Events            []TrackingEvent `json:"events"`
}

// IngestSummary counts what happened to the events of one webhook call or poll.
type IngestSummary struct {
	Received   int `json:"received"`
	Applied    int `json:"applied"`
	Recorded   int `json:"recorded"`
	Duplicates int `json:"duplicates"`
	Orphans    int `json:"orphans"`
	Ignored    int `json:"ignored"`
}

// Add merges other into s.
func (s *IngestSummary) Add(other IngestSummary) {
	s.Received += other.Received
	s.Applied += other.Applied
	s.Recorded += other.Recorded
	s.Duplicates += other.Duplicates
	s.Orphans += other.Orphans
	s.Ignored += other.Ignored
}
