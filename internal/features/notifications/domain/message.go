package domain

// Message is one customer e-mail.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
	// Tag groups messages in the provider's dashboard, e.g. "shipment-delivered".
	Tag string
}
