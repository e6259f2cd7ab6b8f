package adapters

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"order-fulfillment/internal/core/httpclient"
	"order-fulfillment/internal/features/carriers/domain"

	"github.com/shopspring/decimal"
)

// DelhiveryName is the delivery method and webhook route name for Delhivery.
const DelhiveryName = "delhivery"

var delhiveryTimeLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// DelhiveryConfig holds the Delhivery API credentials.
type DelhiveryConfig struct {
	BaseURL        string
	APIToken       string
	PickupLocation string
	// WebhookToken is compared against the Authorization header of pushes.
	// Pushes are accepted on shape alone when it is empty.
	WebhookToken string
	Currency     string
	Timeout      time.Duration
	Proxy        httpclient.ProxySettings
}

// DelhiveryAdapter implements ports.Gateway against the Delhivery B2C API.
type DelhiveryAdapter struct {
	cfg    DelhiveryConfig
	client *http.Client
}

// NewDelhiveryAdapter creates a new DelhiveryAdapter.
func NewDelhiveryAdapter(cfg DelhiveryConfig) *DelhiveryAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &DelhiveryAdapter{
		cfg:    cfg,
		client: httpclient.NewClient(cfg.Timeout, cfg.Proxy),
	}
}

// Name implements ports.Gateway.
func (a *DelhiveryAdapter) Name() string {
	return DelhiveryName
}

func (a *DelhiveryAdapter) request(ctx context.Context, method, path string, query url.Values, payload any) (*http.Request, error) {
	u := a.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := newJSONRequest(ctx, method, u, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+a.cfg.APIToken)
	return req, nil
}

type delhiveryPinResponse struct {
	DeliveryCodes []struct {
		PostalCode struct {
			PrePaid string `json:"pre_paid"`
			Cash    string `json:"cash"`
			COD     string `json:"cod"`
			Remarks string `json:"remarks"`
		} `json:"postal_code"`
	} `json:"delivery_codes"`
}

// CheckServiceability implements ports.Gateway.
func (a *DelhiveryAdapter) CheckServiceability(ctx context.Context, postalCode string) (*domain.Serviceability, error) {
	const op = "check_serviceability"
	req, err := a.request(ctx, http.MethodGet, "/c/api/pin-codes/json/", url.Values{"filter_codes": {postalCode}}, nil)
	if err != nil {
		return nil, wrapRequestErr(DelhiveryName, op, err)
	}

	var resp delhiveryPinResponse
	if err := doJSON(a.client, DelhiveryName, op, req, &resp); err != nil {
		return nil, err
	}

	result := &domain.Serviceability{Carrier: DelhiveryName, PostalCode: postalCode}
	if len(resp.DeliveryCodes) == 0 {
		return result, nil
	}

	pc := resp.DeliveryCodes[0].PostalCode
	embargoed := strings.EqualFold(strings.TrimSpace(pc.Remarks), "embargo")
	result.COD = pc.COD == "Y" || pc.Cash == "Y"
	result.Serviceable = !embargoed && (pc.PrePaid == "Y" || result.COD)
	return result, nil
}

type delhiveryCharge struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// QuoteRate implements ports.Gateway.
func (a *DelhiveryAdapter) QuoteRate(ctx context.Context, rr domain.RateRequest) (*domain.RateQuote, error) {
	const op = "quote_rate"
	if rr.WeightGrams <= 0 {
		return nil, domain.NewCarrierError(DelhiveryName, op, domain.ErrInvalidRequest, errString("weight must be positive"))
	}

	pt := "Pre-paid"
	if rr.CODAmount.IsPositive() {
		pt = "COD"
	}
	query := url.Values{
		"md":    {"S"},
		"ss":    {"Delivered"},
		"o_pin": {rr.OriginPostalCode},
		"d_pin": {rr.DestinationPostalCode},
		"cgm":   {strconv.Itoa(rr.WeightGrams)},
		"pt":    {pt},
		"cod":   {rr.CODAmount.StringFixed(2)},
	}
	req, err := a.request(ctx, http.MethodGet, "/api/kinko/v1/invoice/charges/.json", query, nil)
	if err != nil {
		return nil, wrapRequestErr(DelhiveryName, op, err)
	}

	var charges []delhiveryCharge
	if err := doJSON(a.client, DelhiveryName, op, req, &charges); err != nil {
		return nil, err
	}
	if len(charges) == 0 {
		return nil, domain.NewCarrierError(DelhiveryName, op, domain.ErrNotServiceable, nil)
	}

	return &domain.RateQuote{
		Carrier:  DelhiveryName,
		Charge:   charges[0].TotalAmount.Round(2),
		Currency: a.cfg.Currency,
	}, nil
}

type delhiveryShipment struct {
	Name         string `json:"name"`
	Add          string `json:"add"`
	Pin          string `json:"pin"`
	City         string `json:"city"`
	State        string `json:"state"`
	Country      string `json:"country"`
	Phone        string `json:"phone"`
	Order        string `json:"order"`
	PaymentMode  string `json:"payment_mode"`
	ProductsDesc string `json:"products_desc"`
	CODAmount    string `json:"cod_amount"`
	OrderDate    string `json:"order_date"`
	TotalAmount  string `json:"total_amount"`
	Quantity     string `json:"quantity"`
	Weight       string `json:"weight"`
}

type delhiveryCreatePayload struct {
	Shipments      []delhiveryShipment `json:"shipments"`
	PickupLocation struct {
		Name string `json:"name"`
	} `json:"pickup_location"`
}

type delhiveryCreateResponse struct {
	Success  bool   `json:"success"`
	Remark   string `json:"rmk"`
	Packages []struct {
		Waybill string   `json:"waybill"`
		Status  string   `json:"status"`
		Remarks []string `json:"remarks"`
		RefNum  string   `json:"refnum"`
	} `json:"packages"`
}

// CreateShipment implements ports.Gateway through the CMU manifest API.
func (a *DelhiveryAdapter) CreateShipment(ctx context.Context, sr domain.ShipmentRequest) (*domain.Shipment, error) {
	const op = "create_shipment"

	names := make([]string, 0, len(sr.Items))
	quantity := 0
	for _, it := range sr.Items {
		names = append(names, it.Name)
		quantity += it.Quantity
	}
	mode := "Prepaid"
	if sr.IsCOD() {
		mode = "COD"
	}
	dest := sr.Destination

	var payload delhiveryCreatePayload
	payload.PickupLocation.Name = a.cfg.PickupLocation
	payload.Shipments = []delhiveryShipment{{
		Name:         dest.Name,
		Add:          strings.TrimSpace(dest.Line1 + " " + dest.Line2),
		Pin:          dest.PostalCode,
		City:         dest.City,
		State:        dest.State,
		Country:      dest.Country,
		Phone:        dest.Phone,
		Order:        sr.OrderNumber,
		PaymentMode:  mode,
		ProductsDesc: strings.Join(names, ", "),
		CODAmount:    sr.CODAmount.StringFixed(2),
		OrderDate:    sr.OrderedAt.In(istZone).Format("2006-01-02 15:04:05"),
		TotalAmount:  sr.DeclaredValue.StringFixed(2),
		Quantity:     strconv.Itoa(quantity),
		Weight:       strconv.Itoa(sr.WeightGrams),
	}}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, wrapRequestErr(DelhiveryName, op, err)
	}
	form := url.Values{"format": {"json"}, "data": {string(data)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/api/cmu/create.json", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, wrapRequestErr(DelhiveryName, op, err)
	}
	req.Header.Set("Authorization", "Token "+a.cfg.APIToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var resp delhiveryCreateResponse
	if err := doJSON(a.client, DelhiveryName, op, req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Packages) == 0 {
		return nil, domain.NewCarrierError(DelhiveryName, op, domain.ErrInvalidRequest, errString(resp.Remark))
	}
	pkg := resp.Packages[0]
	if !resp.Success || !strings.EqualFold(pkg.Status, "success") || pkg.Waybill == "" {
		reason := strings.Join(pkg.Remarks, "; ")
		if reason == "" {
			reason = resp.Remark
		}
		kind := domain.ErrInvalidRequest
		if strings.Contains(strings.ToLower(reason), "serviceab") {
			kind = domain.ErrNotServiceable
		}
		return nil, domain.NewCarrierError(DelhiveryName, op, kind, errString(reason))
	}

	return &domain.Shipment{
		Carrier:          DelhiveryName,
		TrackingNumber:   pkg.Waybill,
		CarrierReference: pkg.RefNum,
	}, nil
}

type delhiveryCancelResponse struct {
	Status bool   `json:"status"`
	Remark string `json:"remark"`
}

// CancelShipment implements ports.Gateway through the package edit API.
func (a *DelhiveryAdapter) CancelShipment(ctx context.Context, trackingNumber string) error {
	const op = "cancel_shipment"
	req, err := a.request(ctx, http.MethodPost, "/api/p/edit", nil, map[string]string{
		"waybill":      trackingNumber,
		"cancellation": "true",
	})
	if err != nil {
		return wrapRequestErr(DelhiveryName, op, err)
	}

	var resp delhiveryCancelResponse
	if err := doJSON(a.client, DelhiveryName, op, req, &resp); err != nil {
		return err
	}
	if !resp.Status {
		return domain.NewCarrierError(DelhiveryName, op, domain.ErrInvalidRequest, errString(resp.Remark))
	}
	return nil
}

type delhiveryStatus struct {
	Status         string `json:"Status"`
	StatusDateTime string `json:"StatusDateTime"`
	StatusType     string `json:"StatusType"`
	StatusLocation string `json:"StatusLocation"`
	Instructions   string `json:"Instructions"`
}

type delhiveryTrackResponse struct {
	ShipmentData []struct {
		Shipment struct {
			AWB    flexString      `json:"AWB"`
			Status delhiveryStatus `json:"Status"`
			Scans  []struct {
				ScanDetail struct {
					Scan            string `json:"Scan"`
					ScanDateTime    string `json:"ScanDateTime"`
					ScanType        string `json:"ScanType"`
					ScannedLocation string `json:"ScannedLocation"`
					Instructions    string `json:"Instructions"`
				} `json:"ScanDetail"`
			} `json:"Scans"`
		} `json:"Shipment"`
	} `json:"ShipmentData"`
}

// FetchTracking implements ports.Gateway.
func (a *DelhiveryAdapter) FetchTracking(ctx context.Context, trackingNumber string) ([]domain.RawCarrierEvent, error) {
	const op = "fetch_tracking"
	req, err := a.request(ctx, http.MethodGet, "/api/v1/packages/json/", url.Values{"waybill": {trackingNumber}}, nil)
	if err != nil {
		return nil, wrapRequestErr(DelhiveryName, op, err)
	}

	var resp delhiveryTrackResponse
	if err := doJSON(a.client, DelhiveryName, op, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.ShipmentData) == 0 {
		return nil, domain.NewCarrierError(DelhiveryName, op, domain.ErrInvalidRequest, fmt.Errorf("waybill %s not found", trackingNumber))
	}

	shipment := resp.ShipmentData[0].Shipment
	events := make([]domain.RawCarrierEvent, 0, len(shipment.Scans))
	for _, s := range shipment.Scans {
		d := s.ScanDetail
		events = append(events, a.rawEvent(trackingNumber, d.ScanType, d.Scan, d.ScanDateTime, d.ScannedLocation, d.Instructions, nil))
	}
	return events, nil
}

type delhiveryPush struct {
	Shipment struct {
		AWB         flexString      `json:"AWB"`
		ReferenceNo string          `json:"ReferenceNo"`
		Status      delhiveryStatus `json:"Status"`
	} `json:"Shipment"`
}

// ParseWebhook implements ports.Gateway for Delhivery scan pushes, which
// arrive as one object or an array of objects.
func (a *DelhiveryAdapter) ParseWebhook(r domain.WebhookRequest) ([]domain.RawCarrierEvent, error) {
	const op = "parse_webhook"
	// Without a shared secret every push is refused; polling still tracks.
	got := strings.TrimSpace(r.Header("Authorization"))
	got = strings.TrimSpace(strings.TrimPrefix(got, "Token"))
	if a.cfg.WebhookToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.WebhookToken)) != 1 {
		return nil, domain.NewCarrierError(DelhiveryName, op, domain.ErrWebhookUnauthorized, nil)
	}

	items, err := splitJSONObjects(r.Body)
	if err != nil {
		return nil, domain.NewCarrierError(DelhiveryName, op, domain.ErrInvalidRequest, err)
	}

	events := make([]domain.RawCarrierEvent, 0, len(items))
	for _, item := range items {
		var push delhiveryPush
		if err := json.Unmarshal(item, &push); err != nil {
			return nil, domain.NewCarrierError(DelhiveryName, op, domain.ErrInvalidRequest, err)
		}
		st := push.Shipment.Status
		events = append(events, a.rawEvent(string(push.Shipment.AWB), st.StatusType, st.Status, st.StatusDateTime, st.StatusLocation, st.Instructions, item))
	}
	return events, nil
}

// rawEvent encodes Delhivery's (StatusType, Status) pair as "TYPE:Status".
// Timestamps that fail to parse are left zero so validation rejects the event.
func (a *DelhiveryAdapter) rawEvent(awb, statusType, status, at, location, instructions string, payload json.RawMessage) domain.RawCarrierEvent {
	raw := strings.ToUpper(strings.TrimSpace(statusType)) + ":" + strings.TrimSpace(status)
	ts, _ := parseCarrierTime(at, delhiveryTimeLayouts...)
	ev := domain.RawCarrierEvent{
		Carrier:        DelhiveryName,
		TrackingNumber: strings.TrimSpace(awb),
		Status:         raw,
		Location:       location,
		Description:    instructions,
		Timestamp:      ts,
		Payload:        payload,
	}
	if !ts.IsZero() && ev.TrackingNumber != "" {
		ev.EventID = domain.SyntheticEventID(DelhiveryName, ev.TrackingNumber, raw, ts)
	}
	return ev
}

// NormalizeStatus implements ports.Gateway.
//
// StatusType RT is return-to-origin and always maps to failed_delivery.
// DL is a terminal delivery; UD/PU are forward movement keyed by Status.
func (a *DelhiveryAdapter) NormalizeStatus(ev domain.RawCarrierEvent) (domain.NormalizedEvent, error) {
	statusType, status, found := strings.Cut(ev.Status, ":")
	if !found {
		status, statusType = statusType, ""
	}
	status = strings.ToLower(strings.TrimSpace(status))

	var normalized domain.NormalizedStatus
	switch strings.ToUpper(statusType) {
	case "RT":
		normalized = domain.StatusFailedDelivery
	case "DL":
		if strings.Contains(status, "rto") || strings.Contains(status, "dto") {
			normalized = domain.StatusFailedDelivery
		} else {
			normalized = domain.StatusDelivered
		}
	default:
		switch status {
		case "in transit", "picked up", "pending", "reached at destination":
			normalized = domain.StatusInTransit
		case "dispatched":
			normalized = domain.StatusOutForDelivery
		default:
			s, ok := domain.NormalizeCommon(status)
			if !ok {
				return domain.NormalizedEvent{}, domain.NewCarrierError(DelhiveryName, "normalize_status", domain.ErrUnrecognizedStatus, errString(ev.Status))
			}
			normalized = s
		}
	}
	return toNormalized(ev, normalized), nil
}
