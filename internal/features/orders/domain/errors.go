package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is matched by every *TransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrOrderNotFound     = errors.New("order not found")
	// ErrVersionConflict means the order changed between read and write.
	ErrVersionConflict = errors.New("order was modified concurrently")
	// ErrOrderBusy means the per-order lock could not be taken in time.
	ErrOrderBusy     = errors.New("order is busy")
	ErrUnknownStatus = errors.New("unknown order status")
	// ErrForbidden is returned when a customer touches someone else's order.
	ErrForbidden = errors.New("order belongs to another customer")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	From   OrderStatus
	To     OrderStatus
	Actor  ActorKind
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s by %s: %s", e.From, e.To, e.Actor, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
