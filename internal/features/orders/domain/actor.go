package domain

// ActorKind identifies who is driving a transition.
type ActorKind string

const (
	ActorCustomer ActorKind = "customer"
	ActorAdmin    ActorKind = "admin"
	// ActorCarrier is used for webhook and polling driven changes.
	ActorCarrier ActorKind = "carrier"
	// ActorSystem is used by the payment gate and delivery internals.
	ActorSystem ActorKind = "system"
)

// Actor is passed explicitly with every state change.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

// CarrierActor returns the actor for events from the named carrier.
func CarrierActor(carrier string) Actor {
	return Actor{Kind: ActorCarrier, ID: carrier}
}

// SystemActor returns the actor for internal components.
func SystemActor(component string) Actor {
	return Actor{Kind: ActorSystem, ID: component}
}
