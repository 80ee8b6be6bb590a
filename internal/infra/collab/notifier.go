package collab

import (
	"context"

	"github.com/rs/zerolog"

	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/collab"
)

var _ collab.Notifier = (*LogNotifier)(nil)

// LogNotifier logs lifecycle events where a real dispatcher (email, SMS)
// would send them. Delivery failures are the dispatcher's problem, not the
// billing flow's, so this never returns an error.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	l := logger.With().Str("component", "Notifier").Logger()
	return &LogNotifier{log: &l}
}

func (n *LogNotifier) Notify(_ context.Context, ev *model.Event) error {
	e := n.log.Info().
		Str("event_id", ev.ID).
		Str("event", string(ev.Name)).
		Str("tenant_id", ev.TenantID)
	if ev.Subscription != nil {
		e = e.Str("subscription_id", ev.Subscription.ID).Str("status", string(ev.Subscription.Status))
	}
	if ev.Payment != nil {
		e = e.Str("payment_id", ev.Payment.ID).Str("gateway", string(ev.Payment.Gateway))
	}
	e.Msg("notification dispatched")
	return nil
}
