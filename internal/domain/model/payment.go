package model

import (
	"time"

	"invoicing-platform/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "initiated" // payment request opened with the gateway
	PaymentStatusSuccess   PaymentStatus = "success"   // gateway confirmed the charge
	PaymentStatusFailed    PaymentStatus = "failed"    // gateway reported a definitive failure
	PaymentStatusTimeout   PaymentStatus = "timeout"   // no callback arrived before the payment timeout
)

type GatewayName string

const (
	GatewayMpesa  GatewayName = "mpesa"
	GatewayStripe GatewayName = "stripe"
)

// PayableType identifies what a payment settles.
type PayableType string

const (
	PayableSubscription PayableType = "subscription"
	PayableInvoice      PayableType = "invoice"
)

// Payment records one attempt to collect money through a gateway.
// GatewayRef is the provider handle assigned at initiation (M-Pesa
// CheckoutRequestID, Stripe PaymentIntent id) and is what webhook
// confirmation looks the record up by. GatewayTxID is the provider's
// settlement reference, nil until confirmed.
type Payment struct {
	ID          string
	TenantID    string
	Gateway     GatewayName
	Status      PaymentStatus
	GatewayRef  string
	GatewayTxID *string
	Amount      int64 // minor units, avoids float errors
	Currency    string
	PayableType PayableType
	PayableID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
	Description string
	Meta        map[string]interface{}
}

// NewPayment creates an INITIATED payment bound to a payable entity.
func NewPayment(id, tenantID string, gateway GatewayName, amount int64, currency string, payable PayableType, payableID string) (*Payment, error) {
	if id == "" || tenantID == "" || payableID == "" || amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Payment{
		ID:          id,
		TenantID:    tenantID,
		Gateway:     gateway,
		Status:      PaymentStatusInitiated,
		Amount:      amount,
		Currency:    currency,
		PayableType: payable,
		PayableID:   payableID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Terminal reports whether no further status change is permitted.
func (p *Payment) Terminal() bool {
	return p.Status == PaymentStatusSuccess || p.Status == PaymentStatusFailed || p.Status == PaymentStatusTimeout
}

// CanTransitionPayment encodes the only legal payment moves:
// initiated -> success | failed | timeout.
func CanTransitionPayment(from, to PaymentStatus) bool {
	if from != PaymentStatusInitiated {
		return false
	}
	switch to {
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusTimeout:
		return true
	}
	return false
}
