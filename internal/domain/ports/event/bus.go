package event

import (
	"context"

	"invoicing-platform/internal/domain/model"
)

// Handler consumes one domain event. Handlers must be idempotent: the bus
// delivers at least once and duplicate payment confirmations re-emit.
type Handler func(ctx context.Context, ev *model.Event) error

// Bus dispatches domain events to handlers registered at startup. There is
// no auto-discovery; wiring happens explicitly in cmd/app.
type Bus interface {
	Register(name model.EventName, h Handler)
	Publish(ctx context.Context, ev *model.Event)
}
