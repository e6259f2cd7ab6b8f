package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"order-fulfillment/internal/features/carriers/domain"
)

const maxErrorBody = 512

// istZone is the zone Indian carriers use for unqualified timestamps.
var istZone = time.FixedZone("IST", 5*3600+30*60)

type errString string

func (e errString) Error() string { return string(e) }

// doJSON executes req and decodes a 2xx JSON body into out, mapping failures
// onto the carrier error kinds.
func doJSON(client *http.Client, carrier, op string, req *http.Request, out any) error {
	code, body, err := send(client, carrier, op, req)
	if err != nil {
		return err
	}
	if err := statusError(carrier, op, code, body); err != nil {
		return err
	}
	return decodeBody(carrier, op, body, out)
}

// send performs req and returns the status code and the full body.
func send(client *http.Client, carrier, op string, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, domain.NewCarrierError(carrier, op, domain.ErrCarrierUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, domain.NewCarrierError(carrier, op, domain.ErrCarrierUnavailable, fmt.Errorf("read body: %w", err))
	}
	return resp.StatusCode, body, nil
}

func decodeBody(carrier, op string, body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewCarrierError(carrier, op, domain.ErrCarrierUnavailable, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func statusError(carrier, op string, code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return domain.NewCarrierError(carrier, op, domain.ErrCarrierUnavailable, fmt.Errorf("status %d: %s", code, snippet(body)))
	default:
		return domain.NewCarrierError(carrier, op, domain.ErrInvalidRequest, fmt.Errorf("status %d: %s", code, snippet(body)))
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}

func newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// parseCarrierTime tries each layout in turn. Values without a zone are read as IST.
func parseCarrierTime(value string, layouts ...string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, istZone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

func toNormalized(ev domain.RawCarrierEvent, status domain.NormalizedStatus) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		Carrier:        ev.Carrier,
		EventID:        ev.EventID,
		TrackingNumber: ev.TrackingNumber,
		Status:         status,
		RawStatus:      ev.Status,
		Location:       ev.Location,
		Description:    ev.Description,
		Timestamp:      ev.Timestamp,
		Agent:          ev.Agent,
		Payload:        ev.Payload,
	}
}

// wrapRequestErr reports request-building failures as caller errors.
func wrapRequestErr(carrier, op string, err error) error {
	return domain.NewCarrierError(carrier, op, domain.ErrInvalidRequest, err)
}

// flexString decodes JSON strings and numbers alike; carriers are not
// consistent about quoting AWBs and ids.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// splitJSONObjects accepts a single object or an array of objects.
func splitJSONObjects(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("malformed json")
	}
	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}
