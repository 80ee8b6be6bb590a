package model

import "time"

// CallbackPayload is the normalized form of one inbound gateway webhook.
// It is transient: produced per callback, consumed by the confirmation
// path, never persisted as-is.
type CallbackPayload struct {
	Gateway    GatewayName
	GatewayRef string // CheckoutRequestID (mpesa) / PaymentIntent id (stripe)
	Raw        map[string]interface{}
	Signature  string
	ReceivedAt time.Time
}

type ResultStatus string

const (
	ResultConfirmed ResultStatus = "confirmed"
	ResultFailed    ResultStatus = "failed"
	ResultTimeout   ResultStatus = "timeout"
)

// PaymentResult is what a gateway adapter extracts from a callback:
// the provider's verdict plus the references needed to settle our record.
type PaymentResult struct {
	Status      ResultStatus
	GatewayRef  string
	GatewayTxID string // provider settlement reference, empty unless confirmed
	Meta        map[string]interface{}
}
