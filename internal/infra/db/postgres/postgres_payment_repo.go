package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, tenant_id, gateway, status, gateway_ref, gateway_tx_id, amount, currency, payable_type, payable_id, created_at, updated_at, paid_at, description, meta`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, tenant_id, gateway, status, gateway_ref, gateway_tx_id, amount, currency, payable_type, payable_id, created_at, updated_at, paid_at, description, meta
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
) ON CONFLICT (id) DO UPDATE SET
  status=$4, gateway_ref=$5, gateway_tx_id=$6, updated_at=$12, paid_at=$13, description=$14, meta=$15;`

	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.TenantID, p.Gateway, p.Status, p.GatewayRef, p.GatewayTxID, p.Amount, p.Currency, p.PayableType, p.PayableID, p.CreatedAt, p.UpdatedAt, p.PaidAt, p.Description, p.Meta)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByGatewayRef(ctx context.Context, tx repository.Tx, gatewayRef string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_ref=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += " LIMIT 1;"
	row, err := pickRow(ctx, r.pool, tx, q, gatewayRef)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

// UpdateStatusIfInitiated atomically updates status only when the current
// status is still 'initiated'. The returned bool reports whether this caller
// won the write.
func (r *paymentRepo) UpdateStatusIfInitiated(
	ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, gatewayTxID *string, paidAt *time.Time,
) (bool, error) {
	const q = `
    UPDATE payments
       SET status = $2,
           gateway_tx_id = COALESCE($3, gateway_tx_id),
           paid_at = COALESCE($4, paid_at),
           updated_at = NOW()
     WHERE id = $1
       AND status = 'initiated';`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(status), gatewayTxID, paidAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) ListInitiatedOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE status='initiated' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
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

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *paymentRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[string]int, error) {
	const q = `SELECT status, COUNT(*) FROM payments GROUP BY status;`
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

func (r *paymentRepo) SumConfirmedByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount),0) FROM payments WHERE status='success' AND paid_at >= DATE_TRUNC($1, NOW());`
	row, err := pickRow(ctx, r.pool, tx, q, period)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	if err := row.Scan(&p.ID, &p.TenantID, &p.Gateway, &p.Status, &p.GatewayRef, &p.GatewayTxID, &p.Amount, &p.Currency, &p.PayableType, &p.PayableID, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt, &p.Description, &p.Meta); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}
