package repository

import (
	"context"
	"time"

	"invoicing-platform/internal/domain/model"
)

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByGatewayRef(ctx context.Context, tx Tx, gatewayRef string) (*model.Payment, error)

	// UpdateStatusIfInitiated atomically moves a payment to a terminal status
	// only when it is still INITIATED. Returns false when the guard failed,
	// i.e. a concurrent writer won the race; callers treat that as a no-op.
	UpdateStatusIfInitiated(ctx context.Context, tx Tx, id string, status model.PaymentStatus, gatewayTxID *string, paidAt *time.Time) (bool, error)

	// ListInitiatedOlderThan feeds the timeout sweeper.
	ListInitiatedOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)

	CountByStatus(ctx context.Context, tx Tx) (map[string]int, error)
	SumConfirmedByPeriod(ctx context.Context, tx Tx, period string) (int64, error)
}
