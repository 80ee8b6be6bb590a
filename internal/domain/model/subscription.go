package model

import (
	"time"

	"invoicing-platform/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"   // created, first payment not yet confirmed
	SubscriptionStatusActive    SubscriptionStatus = "active"    // paid for the current cycle
	SubscriptionStatusGrace     SubscriptionStatus = "grace"     // renewal lapsed, still usable until grace_until
	SubscriptionStatusExpired   SubscriptionStatus = "expired"   // grace elapsed without renewal
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled" // explicit user/admin cancellation
)

// Subscription is a recurring billing relationship for one subscriber.
type Subscription struct {
	ID                    string
	TenantID              string
	PlanID                string
	Status                SubscriptionStatus
	Gateway               GatewayName
	GatewaySubscriptionID *string // set only for gateways with a recurring concept
	StartsAt              *time.Time
	NextBillingAt         *time.Time
	GraceUntil            *time.Time
	CancelReason          string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewSubscription creates a PENDING subscription awaiting its first payment.
func NewSubscription(id, tenantID string, plan *Plan, gateway GatewayName) (*Subscription, error) {
	if id == "" || tenantID == "" || plan == nil {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		ID:        id,
		TenantID:  tenantID,
		PlanID:    plan.ID,
		Status:    SubscriptionStatusPending,
		Gateway:   gateway,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Terminal reports whether the subscription can never change status again.
func (s *Subscription) Terminal() bool {
	return s.Status == SubscriptionStatusExpired || s.Status == SubscriptionStatusCancelled
}

// CanTransitionSubscription encodes the subscription lifecycle:
// pending -> active|cancelled; active -> grace|cancelled;
// grace -> active|expired|cancelled. Terminal states admit nothing.
func CanTransitionSubscription(from, to SubscriptionStatus) bool {
	switch from {
	case SubscriptionStatusPending:
		return to == SubscriptionStatusActive || to == SubscriptionStatusCancelled
	case SubscriptionStatusActive:
		return to == SubscriptionStatusGrace || to == SubscriptionStatusCancelled
	case SubscriptionStatusGrace:
		return to == SubscriptionStatusActive || to == SubscriptionStatusExpired || to == SubscriptionStatusCancelled
	}
	return false
}
