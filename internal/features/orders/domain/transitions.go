package domain

import (
	"slices"
	"time"
)

var (
	customerOrAdmin = []ActorKind{ActorCustomer, ActorAdmin}
	carrierOrAdmin  = []ActorKind{ActorCarrier, ActorAdmin}
	adminOrSystem   = []ActorKind{ActorAdmin, ActorSystem}
	adminOnly       = []ActorKind{ActorAdmin}
	systemOnly      = []ActorKind{ActorSystem}
)

// edges lists every legal transition and the actors allowed to drive it.
// Carriers may skip forward (a missed out_for_delivery scan is common).
var edges = map[OrderStatus]map[OrderStatus][]ActorKind{
	OrderStatusPendingPayment: {
		OrderStatusConfirmed:     systemOnly,
		OrderStatusPaymentFailed: systemOnly,
		OrderStatusCancelled:     customerOrAdmin,
	},
	OrderStatusConfirmed: {
		OrderStatusProcessing: adminOnly,
		OrderStatusShipped:    adminOrSystem,
		OrderStatusCancelled:  customerOrAdmin,
	},
	OrderStatusProcessing: {
		OrderStatusShipped:   adminOrSystem,
		OrderStatusCancelled: customerOrAdmin,
	},
	OrderStatusShipped: {
		OrderStatusInTransit:      carrierOrAdmin,
		OrderStatusOutForDelivery: carrierOrAdmin,
		OrderStatusDelivered:      carrierOrAdmin,
	},
	OrderStatusInTransit: {
		OrderStatusOutForDelivery: carrierOrAdmin,
		OrderStatusDelivered:      carrierOrAdmin,
	},
	OrderStatusOutForDelivery: {
		OrderStatusDelivered:      carrierOrAdmin,
		OrderStatusFailedDelivery: carrierOrAdmin,
		OrderStatusReturned:       adminOnly,
	},
	OrderStatusDelivered: {
		OrderStatusReturned:       adminOnly,
		OrderStatusFailedDelivery: adminOnly,
	},
	OrderStatusFailedDelivery: {
		OrderStatusReturned: adminOnly,
	},
}

// CanTransition checks reachability and actor authority for from -> to.
func CanTransition(from, to OrderStatus, actor ActorKind) error {
	targets, ok := edges[from]
	if !ok {
		return &TransitionError{From: from, To: to, Actor: actor, Reason: "no transitions from this status"}
	}
	allowed, ok := targets[to]
	if !ok {
		return &TransitionError{From: from, To: to, Actor: actor, Reason: "target not reachable"}
	}
	if !slices.Contains(allowed, actor) {
		return &TransitionError{From: from, To: to, Actor: actor, Reason: "actor not permitted"}
	}
	return nil
}

// NextStatuses lists the targets actor may move an order in from to.
func NextStatuses(from OrderStatus, actor ActorKind) []OrderStatus {
	var out []OrderStatus
	for _, to := range AllStatuses {
		if CanTransition(from, to, actor) == nil {
			out = append(out, to)
		}
	}
	return out
}

// TransitionMeta carries optional data applied with a transition.
type TransitionMeta struct {
	Reason string
	// At is when the change happened at the source; zero means now.
	At time.Time
	// Payment, when set, replaces PaymentInfo in the same write.
	Payment *PaymentInfo
}

// ApplyTransition moves o to target. It returns false without error when o is
// already in target, and leaves o untouched on any error.
func (o *Order) ApplyTransition(target OrderStatus, actor Actor, meta TransitionMeta, now time.Time) (bool, error) {
	if o.Status == target {
		return false, nil
	}
	if err := CanTransition(o.Status, target, actor.Kind); err != nil {
		return false, err
	}
	if target == OrderStatusShipped && !o.Shipping.HasActiveAssignment() {
		return false, &TransitionError{From: o.Status, To: target, Actor: actor.Kind, Reason: "no active delivery assignment"}
	}

	at := meta.At
	if at.IsZero() {
		at = now
	}

	o.History = append(o.History, StatusChange{From: o.Status, To: target, Actor: actor, Reason: meta.Reason, At: now})
	o.Status = target
	if target == OrderStatusDelivered {
		delivered := at
		o.Shipping.ActualDelivery = &delivered
	}
	if meta.Payment != nil {
		o.Payment = *meta.Payment
	}
	return true, nil
}
