package collab

import (
	"context"

	"github.com/rs/zerolog"

	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/collab"
	"invoicing-platform/internal/domain/ports/repository"
	"invoicing-platform/internal/infra/logging"
)

var _ collab.InvoiceCreator = (*AuditInvoiceCreator)(nil)

// AuditInvoiceCreator is the in-process stand-in for the invoicing service:
// it records the billing snapshot in the audit log so the cycle is traceable
// until the real collaborator consumes the events. Idempotency comes from
// keying the entry on the payment id.
type AuditInvoiceCreator struct {
	audit repository.AuditLogRepository
	log   *zerolog.Logger
}

func NewAuditInvoiceCreator(audit repository.AuditLogRepository, logger *zerolog.Logger) *AuditInvoiceCreator {
	l := logger.With().Str("component", "InvoiceCreator").Logger()
	return &AuditInvoiceCreator{audit: audit, log: &l}
}

func (c *AuditInvoiceCreator) CreateSnapshot(ctx context.Context, payment *model.Payment, sub *model.Subscription) error {
	log := logging.With(ctx, c.log)
	entry := &model.AuditEntry{
		ID:         "invoice-" + payment.ID,
		TenantID:   payment.TenantID,
		Actor:      "billing",
		Action:     "invoice.snapshot",
		EntityType: "payment",
		EntityID:   payment.ID,
		After: map[string]interface{}{
			"amount":   payment.Amount,
			"currency": payment.Currency,
			"gateway":  string(payment.Gateway),
		},
		CreatedAt: payment.UpdatedAt,
	}
	if sub != nil {
		entry.After["subscription_id"] = sub.ID
		entry.After["plan_id"] = sub.PlanID
		if sub.NextBillingAt != nil {
			entry.After["cycle_until"] = sub.NextBillingAt
		}
	}
	if err := c.audit.Append(ctx, nil, entry); err != nil {
		return err
	}
	log.Info().Str("payment_id", payment.ID).Msg("invoice snapshot recorded")
	return nil
}
