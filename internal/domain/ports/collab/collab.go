package collab

import (
	"context"

	"invoicing-platform/internal/domain/model"
)

// InvoiceCreator is the out-of-scope invoice collaborator: given a confirmed
// payment tied to a subscription it snapshots the billing cycle into an
// invoice. Only the call contract lives here.
type InvoiceCreator interface {
	CreateSnapshot(ctx context.Context, payment *model.Payment, sub *model.Subscription) error
}

// Notifier consumes domain events for reminder/notification dispatch.
// Out of scope beyond the contract.
type Notifier interface {
	Notify(ctx context.Context, ev *model.Event) error
}
