package adapters

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"order-fulfillment/internal/core/httpclient"
	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/features/carriers/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ShiprocketName is the delivery method and webhook route name for Shiprocket.
const ShiprocketName = "shiprocket"

// Shiprocket tokens are valid for 10 days; refresh a day early.
const shiprocketTokenTTL = 9 * 24 * time.Hour

var shiprocketTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"02 01 2006 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

var shiprocketStatuses = map[string]domain.NormalizedStatus{
	"PICKED UP":                     domain.StatusInTransit,
	"SHIPPED":                       domain.StatusInTransit,
	"IN TRANSIT":                    domain.StatusInTransit,
	"IN TRANSIT-AT DESTINATION HUB": domain.StatusInTransit,
	"REACHED AT DESTINATION HUB":    domain.StatusInTransit,
	"REACHED DESTINATION HUB":       domain.StatusInTransit,
	"MISROUTED":                     domain.StatusInTransit,
	"OUT FOR DELIVERY":              domain.StatusOutForDelivery,
	"DELIVERED":                     domain.StatusDelivered,
	"UNDELIVERED":                   domain.StatusFailedDelivery,
	"RTO INITIATED":                 domain.StatusFailedDelivery,
	"RTO IN TRANSIT":                domain.StatusFailedDelivery,
	"RTO OFD":                       domain.StatusFailedDelivery,
	"RTO NDR":                       domain.StatusFailedDelivery,
	"RTO DELIVERED":                 domain.StatusFailedDelivery,
}

// ShiprocketConfig holds the Shiprocket API credentials.
type ShiprocketConfig struct {
	BaseURL          string
	Email            string
	Password         string
	PickupLocation   string
	OriginPostalCode string
	// WebhookToken is compared against the x-api-key header of pushes.
	WebhookToken string
	Currency     string
	Timeout      time.Duration
	Proxy        httpclient.ProxySettings
}

// ShiprocketAdapter implements ports.Gateway against the Shiprocket API.
// The login token is cached per adapter and refreshed on expiry or 401.
type ShiprocketAdapter struct {
	cfg    ShiprocketConfig
	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewShiprocketAdapter creates a new ShiprocketAdapter.
func NewShiprocketAdapter(cfg ShiprocketConfig) *ShiprocketAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ShiprocketAdapter{
		cfg:    cfg,
		client: httpclient.NewClient(cfg.Timeout, cfg.Proxy),
		now:    time.Now,
	}
}

// Name implements ports.Gateway.
func (a *ShiprocketAdapter) Name() string {
	return ShiprocketName
}

func (a *ShiprocketAdapter) authToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Before(a.expires) {
		return a.token, nil
	}

	req, err := newJSONRequest(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/external/auth/login", map[string]string{
		"email":    a.cfg.Email,
		"password": a.cfg.Password,
	})
	if err != nil {
		return "", wrapRequestErr(ShiprocketName, "login", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := doJSON(a.client, ShiprocketName, "login", req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", domain.NewCarrierError(ShiprocketName, "login", domain.ErrCarrierUnavailable, errString("empty token"))
	}

	a.token = resp.Token
	a.expires = a.now().Add(shiprocketTokenTTL)
	return a.token, nil
}

func (a *ShiprocketAdapter) dropToken() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}

// call performs an authenticated request and returns the status and body.
// A 401 drops the cached token and retries once with a fresh login.
func (a *ShiprocketAdapter) call(ctx context.Context, op, method, path string, payload any) (int, []byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := a.authToken(ctx)
		if err != nil {
			return 0, nil, err
		}
		req, err := newJSONRequest(ctx, method, a.cfg.BaseURL+path, payload)
		if err != nil {
			return 0, nil, wrapRequestErr(ShiprocketName, op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		code, body, err := send(a.client, ShiprocketName, op, req)
		if err != nil {
			return 0, nil, err
		}
		if code == http.StatusUnauthorized && attempt == 0 {
			logger.Get().Info("Shiprocket token rejected, logging in again")
			a.dropToken()
			continue
		}
		return code, body, nil
	}
	return 0, nil, domain.NewCarrierError(ShiprocketName, op, domain.ErrCarrierUnavailable, errString("unauthorized after re-login"))
}

func (a *ShiprocketAdapter) callJSON(ctx context.Context, op, method, path string, payload, out any) error {
	code, body, err := a.call(ctx, op, method, path, payload)
	if err != nil {
		return err
	}
	if err := statusError(ShiprocketName, op, code, body); err != nil {
		return err
	}
	return decodeBody(ShiprocketName, op, body, out)
}

type shiprocketCourier struct {
	CourierName           string          `json:"courier_name"`
	Rate                  decimal.Decimal `json:"rate"`
	EstimatedDeliveryDays flexString      `json:"estimated_delivery_days"`
	COD                   int             `json:"cod"`
}

type shiprocketServiceabilityResponse struct {
	Data struct {
		AvailableCourierCompanies []shiprocketCourier `json:"available_courier_companies"`
	} `json:"data"`
}

func (a *ShiprocketAdapter) couriers(ctx context.Context, op, origin, destination string, weightGrams int, cod bool) ([]shiprocketCourier, error) {
	if weightGrams <= 0 {
		weightGrams = 500
	}
	codFlag := "0"
	if cod {
		codFlag = "1"
	}
	query := url.Values{
		"pickup_postcode":   {origin},
		"delivery_postcode": {destination},
		"weight":            {strconv.FormatFloat(float64(weightGrams)/1000, 'f', 3, 64)},
		"cod":               {codFlag},
	}

	code, body, err := a.call(ctx, op, http.MethodGet, "/v1/external/courier/serviceability/?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	// Shiprocket answers 404 when no courier covers the pin code.
	if code == http.StatusNotFound {
		return nil, nil
	}
	if err := statusError(ShiprocketName, op, code, body); err != nil {
		return nil, err
	}

	var resp shiprocketServiceabilityResponse
	if err := decodeBody(ShiprocketName, op, body, &resp); err != nil {
		return nil, err
	}
	return resp.Data.AvailableCourierCompanies, nil
}

// CheckServiceability implements ports.Gateway.
func (a *ShiprocketAdapter) CheckServiceability(ctx context.Context, postalCode string) (*domain.Serviceability, error) {
	list, err := a.couriers(ctx, "check_serviceability", a.cfg.OriginPostalCode, postalCode, 0, false)
	if err != nil {
		return nil, err
	}

	result := &domain.Serviceability{Carrier: ShiprocketName, PostalCode: postalCode, Serviceable: len(list) > 0}
	for _, c := range list {
		if c.COD == 1 {
			result.COD = true
		}
		days, err := strconv.Atoi(string(c.EstimatedDeliveryDays))
		if err == nil && days > 0 && (result.EstimatedDays == 0 || days < result.EstimatedDays) {
			result.EstimatedDays = days
		}
	}
	return result, nil
}

// QuoteRate implements ports.Gateway with the cheapest available courier.
func (a *ShiprocketAdapter) QuoteRate(ctx context.Context, rr domain.RateRequest) (*domain.RateQuote, error) {
	const op = "quote_rate"
	origin := rr.OriginPostalCode
	if origin == "" {
		origin = a.cfg.OriginPostalCode
	}
	list, err := a.couriers(ctx, op, origin, rr.DestinationPostalCode, rr.WeightGrams, rr.CODAmount.IsPositive())
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, domain.NewCarrierError(ShiprocketName, op, domain.ErrNotServiceable, nil)
	}

	sort.SliceStable(list, func(i, j int) bool { return list[i].Rate.LessThan(list[j].Rate) })
	best := list[0]
	days, _ := strconv.Atoi(string(best.EstimatedDeliveryDays))
	return &domain.RateQuote{
		Carrier:       ShiprocketName,
		Charge:        best.Rate.Round(2),
		Currency:      a.cfg.Currency,
		EstimatedDays: days,
	}, nil
}

type shiprocketOrderItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
}

type shiprocketOrder struct {
	OrderID             string                `json:"order_id"`
	OrderDate           string                `json:"order_date"`
	PickupLocation      string                `json:"pickup_location"`
	BillingCustomerName string                `json:"billing_customer_name"`
	BillingLastName     string                `json:"billing_last_name"`
	BillingAddress      string                `json:"billing_address"`
	BillingAddress2     string                `json:"billing_address_2,omitempty"`
	BillingCity         string                `json:"billing_city"`
	BillingPincode      string                `json:"billing_pincode"`
	BillingState        string                `json:"billing_state"`
	BillingCountry      string                `json:"billing_country"`
	BillingEmail        string                `json:"billing_email"`
	BillingPhone        string                `json:"billing_phone"`
	ShippingIsBilling   bool                  `json:"shipping_is_billing"`
	OrderItems          []shiprocketOrderItem `json:"order_items"`
	PaymentMethod       string                `json:"payment_method"`
	SubTotal            string                `json:"sub_total"`
	Length              int                   `json:"length"`
	Breadth             int                   `json:"breadth"`
	Height              int                   `json:"height"`
	Weight              float64               `json:"weight"`
}

type shiprocketCreateResponse struct {
	OrderID    int64  `json:"order_id"`
	ShipmentID int64  `json:"shipment_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

type shiprocketAssignResponse struct {
	AWBAssignStatus int    `json:"awb_assign_status"`
	Message         string `json:"message"`
	Response        struct {
		Data struct {
			AWBCode        flexString `json:"awb_code"`
			CourierName    string     `json:"courier_name"`
			AWBAssignError string     `json:"awb_assign_error"`
		} `json:"data"`
	} `json:"response"`
}

// CreateShipment implements ports.Gateway. Shiprocket books in two steps
// (adhoc order, then AWB assignment); a failed AWB step cancels the order.
func (a *ShiprocketAdapter) CreateShipment(ctx context.Context, sr domain.ShipmentRequest) (*domain.Shipment, error) {
	const op = "create_shipment"

	items := make([]shiprocketOrderItem, 0, len(sr.Items))
	for _, it := range sr.Items {
		items = append(items, shiprocketOrderItem{
			Name:         it.Name,
			SKU:          it.SKU,
			Units:        it.Quantity,
			SellingPrice: it.UnitPrice.StringFixed(2),
		})
	}
	method := "Prepaid"
	if sr.IsCOD() {
		method = "COD"
	}
	first, last, _ := strings.Cut(strings.TrimSpace(sr.Destination.Name), " ")
	weight := float64(sr.WeightGrams) / 1000
	if weight <= 0 {
		weight = 0.5
	}

	order := shiprocketOrder{
		OrderID:             sr.OrderNumber,
		OrderDate:           sr.OrderedAt.In(istZone).Format("2006-01-02 15:04"),
		PickupLocation:      a.cfg.PickupLocation,
		BillingCustomerName: first,
		BillingLastName:     last,
		BillingAddress:      sr.Destination.Line1,
		BillingAddress2:     sr.Destination.Line2,
		BillingCity:         sr.Destination.City,
		BillingPincode:      sr.Destination.PostalCode,
		BillingState:        sr.Destination.State,
		BillingCountry:      sr.Destination.Country,
		BillingEmail:        sr.Destination.Email,
		BillingPhone:        sr.Destination.Phone,
		ShippingIsBilling:   true,
		OrderItems:          items,
		PaymentMethod:       method,
		SubTotal:            sr.DeclaredValue.StringFixed(2),
		Length:              10,
		Breadth:             10,
		Height:              10,
		Weight:              weight,
	}

	var created shiprocketCreateResponse
	if err := a.callJSON(ctx, op, http.MethodPost, "/v1/external/orders/create/adhoc", order, &created); err != nil {
		return nil, err
	}
	if created.ShipmentID == 0 {
		return nil, domain.NewCarrierError(ShiprocketName, op, domain.ErrInvalidRequest, errString(created.Message))
	}

	var assigned shiprocketAssignResponse
	err := a.callJSON(ctx, op, http.MethodPost, "/v1/external/courier/assign/awb", map[string]int64{"shipment_id": created.ShipmentID}, &assigned)
	if err == nil && (assigned.AWBAssignStatus != 1 || assigned.Response.Data.AWBCode == "") {
		reason := assigned.Response.Data.AWBAssignError
		if reason == "" {
			reason = assigned.Message
		}
		kind := domain.ErrInvalidRequest
		if strings.Contains(strings.ToLower(reason), "serviceab") {
			kind = domain.ErrNotServiceable
		}
		err = domain.NewCarrierError(ShiprocketName, op, kind, errString(reason))
	}
	if err != nil {
		a.cancelOrder(ctx, created.OrderID)
		return nil, err
	}

	return &domain.Shipment{
		Carrier:          ShiprocketName,
		TrackingNumber:   string(assigned.Response.Data.AWBCode),
		CarrierReference: strconv.FormatInt(created.ShipmentID, 10),
	}, nil
}

func (a *ShiprocketAdapter) cancelOrder(ctx context.Context, orderID int64) {
	if orderID == 0 {
		return
	}
	err := a.callJSON(ctx, "cancel_order", http.MethodPost, "/v1/external/orders/cancel", map[string][]int64{"ids": {orderID}}, nil)
	if err != nil {
		logger.Get().Warn("Failed to cancel Shiprocket order after AWB failure",
			zap.Int64("shiprocket_order_id", orderID),
			zap.Error(err),
		)
	}
}

// CancelShipment implements ports.Gateway.
func (a *ShiprocketAdapter) CancelShipment(ctx context.Context, trackingNumber string) error {
	return a.callJSON(ctx, "cancel_shipment", http.MethodPost, "/v1/external/orders/cancel/shipment/awbs",
		map[string][]string{"awbs": {trackingNumber}}, nil)
}

type shiprocketActivity struct {
	Date          string `json:"date"`
	Activity      string `json:"activity"`
	Location      string `json:"location"`
	SRStatusLabel string `json:"sr-status-label"`
}

type shiprocketTrackResponse struct {
	TrackingData struct {
		TrackStatus int                  `json:"track_status"`
		Activities  []shiprocketActivity `json:"shipment_track_activities"`
		Error       string               `json:"error"`
	} `json:"tracking_data"`
}

// FetchTracking implements ports.Gateway.
func (a *ShiprocketAdapter) FetchTracking(ctx context.Context, trackingNumber string) ([]domain.RawCarrierEvent, error) {
	const op = "fetch_tracking"
	var resp shiprocketTrackResponse
	if err := a.callJSON(ctx, op, http.MethodGet, "/v1/external/courier/track/awb/"+url.PathEscape(trackingNumber), nil, &resp); err != nil {
		return nil, err
	}
	if resp.TrackingData.Error != "" {
		return nil, domain.NewCarrierError(ShiprocketName, op, domain.ErrInvalidRequest, errString(resp.TrackingData.Error))
	}

	events := make([]domain.RawCarrierEvent, 0, len(resp.TrackingData.Activities))
	for _, act := range resp.TrackingData.Activities {
		status := act.SRStatusLabel
		if status == "" || strings.EqualFold(status, "NA") {
			status = act.Activity
		}
		events = append(events, a.rawEvent(trackingNumber, status, act.Date, act.Location, act.Activity, nil))
	}
	return events, nil
}

type shiprocketPush struct {
	AWB              flexString `json:"awb"`
	CurrentStatus    string     `json:"current_status"`
	OrderID          flexString `json:"order_id"`
	CurrentTimestamp string     `json:"current_timestamp"`
	Scans            []struct {
		Location string `json:"location"`
	} `json:"scans"`
}

// ParseWebhook implements ports.Gateway for Shiprocket status pushes.
func (a *ShiprocketAdapter) ParseWebhook(r domain.WebhookRequest) ([]domain.RawCarrierEvent, error) {
	const op = "parse_webhook"
	if a.cfg.WebhookToken == "" || subtle.ConstantTimeCompare([]byte(r.Header("x-api-key")), []byte(a.cfg.WebhookToken)) != 1 {
		return nil, domain.NewCarrierError(ShiprocketName, op, domain.ErrWebhookUnauthorized, nil)
	}

	items, err := splitJSONObjects(r.Body)
	if err != nil {
		return nil, domain.NewCarrierError(ShiprocketName, op, domain.ErrInvalidRequest, err)
	}

	events := make([]domain.RawCarrierEvent, 0, len(items))
	for _, item := range items {
		var push shiprocketPush
		if err := json.Unmarshal(item, &push); err != nil {
			return nil, domain.NewCarrierError(ShiprocketName, op, domain.ErrInvalidRequest, fmt.Errorf("decode push: %w", err))
		}
		location := ""
		if n := len(push.Scans); n > 0 {
			location = push.Scans[n-1].Location
		}
		events = append(events, a.rawEvent(string(push.AWB), push.CurrentStatus, push.CurrentTimestamp, location, "", item))
	}
	return events, nil
}

func (a *ShiprocketAdapter) rawEvent(awb, status, at, location, description string, payload json.RawMessage) domain.RawCarrierEvent {
	ts, _ := parseCarrierTime(at, shiprocketTimeLayouts...)
	ev := domain.RawCarrierEvent{
		Carrier:        ShiprocketName,
		TrackingNumber: strings.TrimSpace(awb),
		Status:         strings.TrimSpace(status),
		Location:       location,
		Description:    description,
		Timestamp:      ts,
		Payload:        payload,
	}
	if !ts.IsZero() && ev.TrackingNumber != "" {
		ev.EventID = domain.SyntheticEventID(ShiprocketName, ev.TrackingNumber, ev.Status, ts)
	}
	return ev
}

// NormalizeStatus implements ports.Gateway.
func (a *ShiprocketAdapter) NormalizeStatus(ev domain.RawCarrierEvent) (domain.NormalizedEvent, error) {
	key := strings.ToUpper(strings.Join(strings.Fields(strings.ReplaceAll(ev.Status, "_", " ")), " "))
	if s, ok := shiprocketStatuses[key]; ok {
		return toNormalized(ev, s), nil
	}
	if s, ok := domain.NormalizeCommon(ev.Status); ok {
		return toNormalized(ev, s), nil
	}
	return domain.NormalizedEvent{}, domain.NewCarrierError(ShiprocketName, "normalize_status", domain.ErrUnrecognizedStatus, errString(ev.Status))
}
