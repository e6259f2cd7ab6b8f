package adapters

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"order-fulfillment/internal/features/payments/domain"
)

// RazorpayVerifier checks Razorpay checkout signatures.
type RazorpayVerifier struct {
	secret string
}

// NewRazorpayVerifier creates a verifier for the given key secret.
func NewRazorpayVerifier(secret string) *RazorpayVerifier {
	return &RazorpayVerifier{secret: secret}
}

// Name implements ports.Verifier.
func (v *RazorpayVerifier) Name() string {
	return "razorpay"
}

// Verify implements ports.Verifier.
func (v *RazorpayVerifier) Verify(c domain.Confirmation) error {
	if v.secret == "" {
		return domain.ErrGatewayNotConfigured
	}
	if c.GatewayOrderID == "" || c.GatewayPaymentID == "" || c.Signature == "" {
		return domain.ErrPaymentMismatch
	}
	expected := Signature(v.secret, c.GatewayOrderID, c.GatewayPaymentID)
	if !hmac.Equal([]byte(expected), []byte(c.Signature)) {
		return domain.ErrPaymentMismatch
	}
	return nil
}

// Signature is the hex HMAC-SHA256 of "orderID|paymentID" under secret.
func Signature(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
