package repository

import (
	"context"
	"time"

	"invoicing-platform/internal/domain/model"
)

type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)

	// UpdateStatusIf atomically moves a subscription from one of the expected
	// statuses to the target. startsAt and nextBillingAt keep their stored
	// value when nil; graceUntil is always written, so passing nil clears it.
	// Returns false when the record was no longer in an expected status.
	UpdateStatusIf(ctx context.Context, tx Tx, id string, from []model.SubscriptionStatus, to model.SubscriptionStatus, startsAt, nextBillingAt, graceUntil *time.Time, cancelReason string) (bool, error)

	// ListActiveDueForBilling returns active subscriptions whose
	// next_billing_at has passed (candidates for the grace transition).
	ListActiveDueForBilling(ctx context.Context, tx Tx, asOf time.Time, limit int) ([]*model.Subscription, error)

	// ListGraceLapsed returns grace subscriptions whose grace_until has passed.
	ListGraceLapsed(ctx context.Context, tx Tx, asOf time.Time, limit int) ([]*model.Subscription, error)

	CountByStatus(ctx context.Context, tx Tx) (map[string]int, error)
}
