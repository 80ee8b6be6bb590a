package repository

import (
	"context"

	"invoicing-platform/internal/domain/model"
)

// AuditLogRepository is an append-only sink. Implementations must treat
// writes as best-effort; callers ignore append errors beyond logging them.
type AuditLogRepository interface {
	Append(ctx context.Context, tx Tx, entry *model.AuditEntry) error
}
