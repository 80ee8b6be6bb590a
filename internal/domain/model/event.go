package model

import "time"

// EventName identifies a domain event on the bus.
type EventName string

const (
	EventPaymentConfirmed      EventName = "payment.confirmed"
	EventPaymentFailed         EventName = "payment.failed"
	EventSubscriptionActivated EventName = "subscription.activated"
	EventSubscriptionCancelled EventName = "subscription.cancelled"
	EventSubscriptionExpired   EventName = "subscription.expired"
)

// Event carries one domain fact to registered handlers. ID is a ULID so
// events sort by emission time.
type Event struct {
	ID         string
	Name       EventName
	TenantID   string
	OccurredAt time.Time

	// At most one of these is set, depending on Name.
	Payment      *Payment
	Subscription *Subscription
}
