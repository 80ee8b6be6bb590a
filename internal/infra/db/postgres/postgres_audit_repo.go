package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/repository"
)

var _ repository.AuditLogRepository = (*auditRepo)(nil)

// auditRepo is append-only; there is no read path from the application.
type auditRepo struct{ pool *pgxpool.Pool }

func NewAuditRepo(pool *pgxpool.Pool) *auditRepo {
	return &auditRepo{pool: pool}
}

func (r *auditRepo) Append(ctx context.Context, tx repository.Tx, e *model.AuditEntry) error {
	// Redelivered events reuse their entry id; the first write wins.
	const q = `
INSERT INTO audit_log (id, tenant_id, actor, action, entity_type, entity_id, before, after, meta, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO NOTHING;`

	_, err := execSQL(ctx, r.pool, tx, q, e.ID, e.TenantID, e.Actor, e.Action, e.EntityType, e.EntityID, e.Before, e.After, e.Meta, e.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}
