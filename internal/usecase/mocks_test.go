//go:build !integration

package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/adapter"
	"invoicing-platform/internal/domain/ports/event"
	"invoicing-platform/internal/domain/ports/repository"
)

// memPaymentRepo is a small in-memory implementation used by unit tests.
// UpdateStatusIfInitiated mirrors the SQL CAS: the guard and the write
// happen under one lock.
type memPaymentRepo struct {
	mu      sync.Mutex
	store   map[string]*model.Payment
	saveErr error
	SaveFn  func(p *model.Payment) error
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{store: make(map[string]*model.Payment)}
}

func (m *memPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if m.SaveFn != nil {
		if err := m.SaveFn(p); err != nil {
			return err
		}
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *memPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPaymentRepo) FindByGatewayRef(ctx context.Context, tx repository.Tx, ref string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.store {
		if p.GatewayRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPaymentRepo) UpdateStatusIfInitiated(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, gatewayTxID *string, paidAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok || p.Status != model.PaymentStatusInitiated {
		return false, nil
	}
	p.Status = status
	if gatewayTxID != nil {
		p.GatewayTxID = gatewayTxID
	}
	if paidAt != nil {
		p.PaidAt = paidAt
	}
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *memPaymentRepo) ListInitiatedOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.store {
		if p.Status == model.PaymentStatusInitiated && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memPaymentRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, p := range m.store {
		out[string(p.Status)]++
	}
	return out, nil
}

func (m *memPaymentRepo) SumConfirmedByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, p := range m.store {
		if p.Status == model.PaymentStatusSuccess {
			sum += p.Amount
		}
	}
	return sum, nil
}

// memSubRepo provides in-memory subscriptions for tests.
type memSubRepo struct {
	mu    sync.Mutex
	store map[string]*model.Subscription
}

func newMemSubRepo() *memSubRepo {
	return &memSubRepo{store: make(map[string]*model.Subscription)}
}

func (m *memSubRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *memSubRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubRepo) UpdateStatusIf(ctx context.Context, tx repository.Tx, id string, from []model.SubscriptionStatus, to model.SubscriptionStatus, startsAt, nextBillingAt, graceUntil *time.Time, cancelReason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if s.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	s.Status = to
	if startsAt != nil {
		s.StartsAt = startsAt
	}
	if nextBillingAt != nil {
		s.NextBillingAt = nextBillingAt
	}
	s.GraceUntil = graceUntil
	if cancelReason != "" {
		s.CancelReason = cancelReason
	}
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *memSubRepo) ListActiveDueForBilling(ctx context.Context, tx repository.Tx, asOf time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.Status == model.SubscriptionStatusActive && s.NextBillingAt != nil && s.NextBillingAt.Before(asOf) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubRepo) ListGraceLapsed(ctx context.Context, tx repository.Tx, asOf time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.Status == model.SubscriptionStatusGrace && s.GraceUntil != nil && s.GraceUntil.Before(asOf) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, s := range m.store {
		out[string(s.Status)]++
	}
	return out, nil
}

// memPlanRepo
type memPlanRepo struct {
	mu    sync.Mutex
	store map[string]*model.Plan
}

func newMemPlanRepo() *memPlanRepo {
	return &memPlanRepo{store: make(map[string]*model.Plan)}
}

func (m *memPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *memPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPlanRepo) List(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Plan
	for _, p := range m.store {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// memAuditRepo records appended entries; appendErr simulates sink failure.
type memAuditRepo struct {
	mu        sync.Mutex
	entries   []*model.AuditEntry
	appendErr error
}

func newMemAuditRepo() *memAuditRepo { return &memAuditRepo{} }

func (m *memAuditRepo) Append(ctx context.Context, tx repository.Tx, e *model.AuditEntry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

// mockTxManager runs the callback directly with a nil tx handle.
type mockTxManager struct{}

func (mockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// recordingBus delivers synchronously and records everything published.
type recordingBus struct {
	mu       sync.Mutex
	handlers map[model.EventName][]event.Handler
	events   []*model.Event
}

func newRecordingBus() *recordingBus {
	return &recordingBus{handlers: make(map[model.EventName][]event.Handler)}
}

func (b *recordingBus) Register(name model.EventName, h event.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

func (b *recordingBus) Publish(ctx context.Context, ev *model.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	hs := b.handlers[ev.Name]
	b.mu.Unlock()
	for _, h := range hs {
		_ = h(ctx, ev)
	}
}

func (b *recordingBus) published(name model.EventName) []*model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*model.Event
	for _, ev := range b.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// mockGateway gives each test full control over the adapter verdicts.
type mockGateway struct {
	name          model.GatewayName
	recurring     bool
	initiateResp  *adapter.GatewayResponse
	initiateErr   error
	confirmResult *model.PaymentResult
	confirmErr    error
	cancelErr     error
	cancelled     []string
}

func (g *mockGateway) Name() model.GatewayName { return g.name }
func (g *mockGateway) SupportsRecurring() bool { return g.recurring }

func (g *mockGateway) InitiatePayment(ctx context.Context, pc adapter.PaymentContext) (*adapter.GatewayResponse, error) {
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	if g.initiateResp != nil {
		return g.initiateResp, nil
	}
	return &adapter.GatewayResponse{GatewayRef: "ref-" + pc.PaymentID, Success: true}, nil
}

func (g *mockGateway) ConfirmPayment(ctx context.Context, payload *model.CallbackPayload) (*model.PaymentResult, error) {
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	if g.confirmResult != nil {
		return g.confirmResult, nil
	}
	return &model.PaymentResult{Status: model.ResultConfirmed, GatewayRef: payload.GatewayRef, GatewayTxID: "tx-1"}, nil
}

func (g *mockGateway) CancelSubscription(ctx context.Context, cc adapter.CancelContext) error {
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancelled = append(g.cancelled, cc.GatewaySubscriptionID)
	return nil
}

// mockInvoiceCreator records snapshot calls.
type mockInvoiceCreator struct {
	mu    sync.Mutex
	calls []string // payment ids
	err   error
}

func (m *mockInvoiceCreator) CreateSnapshot(ctx context.Context, p *model.Payment, s *model.Subscription) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, p.ID)
	return nil
}
