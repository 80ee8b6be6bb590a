//go:build !integration

package web

import (
	"context"
	"time"

	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/adapter"
	"invoicing-platform/internal/infra/retry"
	"invoicing-platform/internal/usecase"
)

// stubSubUC lets each test script the confirm/cancel outcome and records
// what the handlers passed down.
type stubSubUC struct {
	confirmErr      error
	confirmPayloads []*model.CallbackPayload
	cancelErr       error
	cancelled       []string
	sub             *model.Subscription
	getErr          error
	counts          map[string]int
	countsErr       error
	subscribeErr    error
	subscribed      []usecase.SubscribeInput
}

func (s *stubSubUC) Subscribe(ctx context.Context, in usecase.SubscribeInput) (*model.Subscription, *model.Payment, *adapter.GatewayResponse, error) {
	s.subscribed = append(s.subscribed, in)
	if s.subscribeErr != nil {
		return nil, nil, nil, s.subscribeErr
	}
	return &model.Subscription{ID: "sub-1", TenantID: in.TenantID, PlanID: in.PlanID, Status: model.SubscriptionStatusPending},
		&model.Payment{ID: "pay-1", Status: model.PaymentStatusInitiated},
		&adapter.GatewayResponse{GatewayRef: "ref-1"}, nil
}

func (s *stubSubUC) ConfirmPayment(ctx context.Context, gatewayName model.GatewayName, payload *model.CallbackPayload) (*model.Payment, error) {
	s.confirmPayloads = append(s.confirmPayloads, payload)
	if s.confirmErr != nil {
		return nil, s.confirmErr
	}
	return &model.Payment{ID: "pay-1", Gateway: gatewayName, Status: model.PaymentStatusSuccess}, nil
}

func (s *stubSubUC) Cancel(ctx context.Context, subscriptionID, actor, reason string) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, subscriptionID)
	return nil
}

func (s *stubSubUC) Activate(ctx context.Context, payment *model.Payment) error { return nil }

func (s *stubSubUC) MarkGraceDue(ctx context.Context, asOf time.Time) (int, error) { return 0, nil }
func (s *stubSubUC) ExpireLapsed(ctx context.Context, asOf time.Time) (int, error) { return 0, nil }
func (s *stubSubUC) TimeoutStale(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (s *stubSubUC) Get(ctx context.Context, id string) (*model.Subscription, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.sub, nil
}

func (s *stubSubUC) CountByStatus(ctx context.Context) (map[string]int, error) {
	return s.counts, s.countsErr
}

// stubPaymentUC serves the ops read paths.
type stubPaymentUC struct {
	payment     *model.Payment
	getErr      error
	counts      map[string]int
	revenue     int64
	initiateErr error
	initiated   []usecase.InitiateInvoicePaymentInput
}

func (s *stubPaymentUC) InitiateForInvoice(ctx context.Context, in usecase.InitiateInvoicePaymentInput) (*model.Payment, *adapter.GatewayResponse, error) {
	s.initiated = append(s.initiated, in)
	if s.initiateErr != nil {
		return nil, nil, s.initiateErr
	}
	return &model.Payment{ID: "pay-1", TenantID: in.TenantID, Status: model.PaymentStatusInitiated},
		&adapter.GatewayResponse{GatewayRef: "ref-1"}, nil
}

func (s *stubPaymentUC) Get(ctx context.Context, id string) (*model.Payment, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.payment, nil
}

func (s *stubPaymentUC) CountByStatus(ctx context.Context) (map[string]int, error) {
	return s.counts, nil
}

func (s *stubPaymentUC) RevenueByPeriod(ctx context.Context, period string) (int64, error) {
	return s.revenue, nil
}

// recordingRetry captures scheduled retry jobs.
type recordingRetry struct {
	jobs []retry.Job
}

func (r *recordingRetry) Schedule(ctx context.Context, job retry.Job) (bool, error) {
	r.jobs = append(r.jobs, job)
	return true, nil
}
