package adapter

import (
	"context"

	"invoicing-platform/internal/domain/model"
)

// PaymentContext carries everything a gateway needs to open a payment
// intent. Adapters translate it into provider-specific requests and must
// not mutate domain records.
type PaymentContext struct {
	PaymentID      string
	SubscriptionID string
	Amount         int64 // minor units
	Currency       string
	Phone          string // M-Pesa subscriber MSISDN
	Email          string
	Reference      string // shown to the payer / account reference
	Description    string
	IdempotencyKey string
}

// GatewayResponse is the provider-agnostic result of initiating a payment.
type GatewayResponse struct {
	GatewayRef   string // handle the later callback is matched on
	ClientSecret string // e.g. Stripe client_secret, empty elsewhere
	Success      bool
	Meta         map[string]interface{}
}

// CancelContext identifies a gateway-side recurring agreement to cancel.
type CancelContext struct {
	SubscriptionID        string
	GatewaySubscriptionID string
	Reason                string
}

// PaymentGateway is the hex port for payment providers. Each adapter is a
// pure translation layer owning its own API calls; there is deliberately
// no shared base logic across gateways.
type PaymentGateway interface {
	Name() model.GatewayName

	// InitiatePayment opens a payment intent with the provider. Retries are
	// only safe when the caller supplies an idempotency key.
	InitiatePayment(ctx context.Context, pc PaymentContext) (*GatewayResponse, error)

	// ConfirmPayment parses a raw callback into a PaymentResult. Routine
	// provider quirks yield a failed result, not an error; an error means
	// the payload is structurally invalid (domain.ErrMalformedCallback).
	ConfirmPayment(ctx context.Context, payload *model.CallbackPayload) (*model.PaymentResult, error)

	// CancelSubscription cancels a recurring agreement on the provider.
	// Gateways without a recurring concept return domain.ErrUnsupportedOperation.
	CancelSubscription(ctx context.Context, cc CancelContext) error

	SupportsRecurring() bool
}
