package gateway

import (
	"context"
	"fmt"
	"sync"

	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopGateway)(nil)

// NoopGateway is a simple in-memory gateway to use in tests.
type NoopGateway struct {
	GatewayName model.GatewayName
	Recurring   bool

	mu        sync.Mutex
	seq       int64
	intents   map[string]int64 // gateway ref -> amount
	Cancelled []string         // gateway subscription ids cancelled
}

func NewNoopGateway(name model.GatewayName, recurring bool) *NoopGateway {
	return &NoopGateway{
		GatewayName: name,
		Recurring:   recurring,
		intents:     make(map[string]int64),
	}
}

func (g *NoopGateway) Name() model.GatewayName { return g.GatewayName }

func (g *NoopGateway) SupportsRecurring() bool { return g.Recurring }

func (g *NoopGateway) InitiatePayment(ctx context.Context, pc adapter.PaymentContext) (*adapter.GatewayResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	ref := fmt.Sprintf("noop-%d", g.seq)
	g.intents[ref] = pc.Amount
	return &adapter.GatewayResponse{GatewayRef: ref, Success: true}, nil
}

func (g *NoopGateway) ConfirmPayment(ctx context.Context, payload *model.CallbackPayload) (*model.PaymentResult, error) {
	if payload == nil || payload.GatewayRef == "" {
		return nil, domain.ErrMalformedCallback
	}
	status := model.ResultConfirmed
	if v, ok := payload.Raw["fail"].(bool); ok && v {
		status = model.ResultFailed
	}
	return &model.PaymentResult{
		Status:      status,
		GatewayRef:  payload.GatewayRef,
		GatewayTxID: "tx-" + payload.GatewayRef,
	}, nil
}

func (g *NoopGateway) CancelSubscription(ctx context.Context, cc adapter.CancelContext) error {
	if !g.Recurring {
		return domain.ErrUnsupportedOperation
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Cancelled = append(g.Cancelled, cc.GatewaySubscriptionID)
	return nil
}
