package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ManualCarrier is the name of the carrier used for in-house delivery.
const ManualCarrier = "manual"

// NormalizedStatus is the carrier-agnostic shipment progress vocabulary.
type NormalizedStatus string

const (
	// StatusInTransit covers pickup and line-haul scans.
	StatusInTransit NormalizedStatus = "in_transit"
	// StatusOutForDelivery means the parcel is with the last-mile agent.
	StatusOutForDelivery NormalizedStatus = "out_for_delivery"
	// StatusDelivered means the customer received the parcel.
	StatusDelivered NormalizedStatus = "delivered"
	// StatusFailedDelivery covers undelivered attempts and return-to-origin.
	StatusFailedDelivery NormalizedStatus = "failed_delivery"
)

// IsValid reports whether s belongs to the normalized vocabulary.
func (s NormalizedStatus) IsValid() bool {
	switch s {
	case StatusInTransit, StatusOutForDelivery, StatusDelivered, StatusFailedDelivery:
		return true
	}
	return false
}

// Address is a delivery address as carriers need it.
type Address struct {
	Name       string `json:"name" bson:"name" validate:"required"`
	Phone      string `json:"phone" bson:"phone" validate:"required,min=6,max=20"`
	Email      string `json:"email,omitempty" bson:"email,omitempty" validate:"omitempty,email"`
	Line1      string `json:"line1" bson:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty" bson:"line2,omitempty"`
	City       string `json:"city" bson:"city" validate:"required"`
	State      string `json:"state" bson:"state" validate:"required"`
	PostalCode string `json:"postalCode" bson:"postalCode" validate:"required,numeric,len=6"`
	Country    string `json:"country" bson:"country"`
}

// Serviceability is the outcome of a pin code lookup.
type Serviceability struct {
	Carrier     string `json:"carrier"`
	PostalCode  string `json:"postalCode"`
	Serviceable bool   `json:"serviceable"`
	// EstimatedDays is zero when the carrier gives no estimate.
	EstimatedDays int  `json:"estimatedDays,omitempty"`
	COD           bool `json:"cod"`
}

// RateRequest asks a carrier to price a parcel.
type RateRequest struct {
	OriginPostalCode      string
	DestinationPostalCode string
	WeightGrams           int
	CODAmount             decimal.Decimal
}

// RateQuote is a carrier's price for a parcel.
type RateQuote struct {
	Carrier       string          `json:"carrier"`
	Charge        decimal.Decimal `json:"charge"`
	Currency      string          `json:"currency"`
	EstimatedDays int             `json:"estimatedDays,omitempty"`
}

// ShipmentItem is one order line sent to the carrier manifest.
type ShipmentItem struct {
	SKU       string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// ShipmentRequest carries what a carrier needs to book a pickup.
type ShipmentRequest struct {
	OrderID       string
	OrderNumber   string
	OrderedAt     time.Time
	Destination   Address
	Items         []ShipmentItem
	WeightGrams   int
	DeclaredValue decimal.Decimal
	// CODAmount is zero for prepaid orders.
	CODAmount decimal.Decimal
}

// IsCOD reports whether the carrier must collect cash on delivery.
func (r ShipmentRequest) IsCOD() bool {
	return r.CODAmount.IsPositive()
}

// Shipment is a booked carrier shipment.
type Shipment struct {
	Carrier string `json:"carrier"`
	// TrackingNumber is empty for manual delivery.
	TrackingNumber    string          `json:"trackingNumber,omitempty"`
	CarrierReference  string          `json:"carrierReference,omitempty"`
	Charge            decimal.Decimal `json:"charge"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
}

// DeliveryAgent identifies the last-mile courier when the carrier reports one.
type DeliveryAgent struct {
	Name  string `json:"name,omitempty" bson:"name,omitempty"`
	Phone string `json:"phone,omitempty" bson:"phone,omitempty"`
}

// RawCarrierEvent is a carrier status update after payload decoding but before
// normalization. Anything that fails its validation tags is dropped.
type RawCarrierEvent struct {
	Carrier        string          `json:"carrier" validate:"required"`
	EventID        string          `json:"eventId" validate:"required"`
	TrackingNumber string          `json:"trackingNumber" validate:"required"`
	Status         string          `json:"status" validate:"required"`
	Location       string          `json:"location,omitempty"`
	Description    string          `json:"description,omitempty"`
	Timestamp      time.Time       `json:"timestamp" validate:"required"`
	Agent          *DeliveryAgent  `json:"agent,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NormalizedEvent is a validated carrier event in the internal vocabulary.
type NormalizedEvent struct {
	Carrier        string
	EventID        string
	TrackingNumber string
	Status         NormalizedStatus
	RawStatus      string
	Location       string
	Description    string
	Timestamp      time.Time
	Agent          *DeliveryAgent
	Payload        json.RawMessage
}

// WebhookRequest is the transport-independent view of an inbound webhook call.
type WebhookRequest struct {
	// Headers are keyed by lower-case header name.
	Headers map[string]string
	Body    []byte
}

// Header returns the value of the named header, case-insensitively.
func (r WebhookRequest) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

var eventNamespace = uuid.MustParse("6f1b3c0e-52a4-4d59-9d0b-3f7a2c1e8b10")

// SyntheticEventID derives a stable id for carriers whose payloads carry none,
// so redelivered payloads produce the same id.
func SyntheticEventID(carrier, trackingNumber, rawStatus string, ts time.Time) string {
	key := fmt.Sprintf("%s|%s|%s|%d", carrier, trackingNumber, strings.ToLower(rawStatus), ts.UTC().UnixMilli())
	return uuid.NewSHA1(eventNamespace, []byte(key)).String()
}

var commonVocabulary = map[string]NormalizedStatus{
	"picked_up":               StatusInTransit,
	"pickup_done":             StatusInTransit,
	"shipped":                 StatusInTransit,
	"in_transit":              StatusInTransit,
	"dispatched_to_hub":       StatusInTransit,
	"reached_destination_hub": StatusInTransit,
	"out_for_delivery":        StatusOutForDelivery,
	"ofd":                     StatusOutForDelivery,
	"delivered":               StatusDelivered,
	"undelivered":             StatusFailedDelivery,
	"failed_delivery":         StatusFailedDelivery,
	"delivery_failed":         StatusFailedDelivery,
	"rto":                     StatusFailedDelivery,
	"rto_initiated":           StatusFailedDelivery,
	"rto_in_transit":          StatusFailedDelivery,
	"rto_delivered":           StatusFailedDelivery,
}

// NormalizeCommon maps the shared carrier vocabulary onto NormalizedStatus.
// Input is case-insensitive and treats spaces and hyphens as underscores.
func NormalizeCommon(raw string) (NormalizedStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	s, ok := commonVocabulary[key]
	return s, ok
}
