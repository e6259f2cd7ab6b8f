package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotServiceable is a business outcome: the carrier cannot deliver to the pin code.
	ErrNotServiceable = errors.New("destination not serviceable")
	// ErrCarrierUnavailable covers network failures, timeouts and carrier-side 5xx. Retryable.
	ErrCarrierUnavailable = errors.New("carrier unavailable")
	// ErrInvalidRequest means the carrier rejected our input.
	ErrInvalidRequest = errors.New("invalid carrier request")
	// ErrUnknownCarrier is returned for carrier names that are not registered.
	ErrUnknownCarrier = errors.New("unknown carrier")
	// ErrUnrecognizedStatus is returned for carrier status strings outside the mapping.
	ErrUnrecognizedStatus = errors.New("unrecognized carrier status")
	// ErrWebhookUnauthorized is returned when a webhook fails its shared-secret check.
	ErrWebhookUnauthorized = errors.New("webhook unauthorized")
)

// CarrierError describes a failed carrier operation. Kind is one of the
// sentinels above and is matched by errors.Is.
type CarrierError struct {
	Carrier string
	Op      string
	Kind    error
	Err     error
}

// NewCarrierError builds a CarrierError.
func NewCarrierError(carrier, op string, kind, err error) *CarrierError {
	return &CarrierError{Carrier: carrier, Op: op, Kind: kind, Err: err}
}

func (e *CarrierError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v: %v", e.Carrier, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Carrier, e.Op, e.Kind)
}

// Is matches the error kind.
func (e *CarrierError) Is(target error) bool {
	return target == e.Kind
}

func (e *CarrierError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call may succeed.
func (e *CarrierError) Retryable() bool {
	return e.Kind == ErrCarrierUnavailable
}

// IsRetryable reports whether err is a retryable carrier failure.
func IsRetryable(err error) bool {
	var ce *CarrierError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return errors.Is(err, ErrCarrierUnavailable)
}
