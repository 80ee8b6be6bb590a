package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, tenant_id, plan_id, gateway, gateway_subscription_id, status, starts_at, next_billing_at, grace_until, cancel_reason, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (
  id, tenant_id, plan_id, gateway, gateway_subscription_id, status, starts_at, next_billing_at, grace_until, cancel_reason, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
  gateway_subscription_id=$5, status=$6, starts_at=$7, next_billing_at=$8, grace_until=$9, cancel_reason=$10, updated_at=$12;`

	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.TenantID, s.PlanID, s.Gateway, s.GatewaySubscriptionID, s.Status, s.StartsAt, s.NextBillingAt, s.GraceUntil, s.CancelReason, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return domain.ErrAlreadyExists
			}
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

// UpdateStatusIf guards the transition on the current status. grace_until is
// written unconditionally so moving out of GRACE clears the window.
func (r *subscriptionRepo) UpdateStatusIf(
	ctx context.Context, tx repository.Tx, id string,
	from []model.SubscriptionStatus, to model.SubscriptionStatus,
	startsAt, nextBillingAt, graceUntil *time.Time, cancelReason string,
) (bool, error) {
	fromStrs := make([]string, 0, len(from))
	for _, f := range from {
		fromStrs = append(fromStrs, string(f))
	}
	const q = `
    UPDATE subscriptions
       SET status = $2,
           starts_at = COALESCE($3, starts_at),
           next_billing_at = COALESCE($4, next_billing_at),
           grace_until = $5,
           cancel_reason = CASE WHEN $6 = '' THEN cancel_reason ELSE $6 END,
           updated_at = NOW()
     WHERE id = $1
       AND status = ANY($7);`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(to), startsAt, nextBillingAt, graceUntil, cancelReason, fromStrs)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *subscriptionRepo) ListActiveDueForBilling(ctx context.Context, tx repository.Tx, asOf time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE status='active' AND next_billing_at IS NOT NULL AND next_billing_at < $1
 ORDER BY next_billing_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, asOf, limit)
}

func (r *subscriptionRepo) ListGraceLapsed(ctx context.Context, tx repository.Tx, asOf time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE status='grace' AND grace_until IS NOT NULL AND grace_until < $1
 ORDER BY grace_until ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, asOf, limit)
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[string]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		switch err {
		case pgx.ErrNoRows:
			return nil, domain.ErrNotFound
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	if err := row.Scan(&s.ID, &s.TenantID, &s.PlanID, &s.Gateway, &s.GatewaySubscriptionID, &s.Status, &s.StartsAt, &s.NextBillingAt, &s.GraceUntil, &s.CancelReason, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}
