package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/adapter"
	"invoicing-platform/internal/domain/ports/repository"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// PaymentUseCase creates payment records and exposes read paths for the
// ops API. Confirmation lives on SubscriptionUseCase, which owns all state
// transitions.
type PaymentUseCase interface {
	// InitiateForInvoice opens a one-off payment for an invoice with the
	// gateway routed by the payer's country.
	InitiateForInvoice(ctx context.Context, in InitiateInvoicePaymentInput) (*model.Payment, *adapter.GatewayResponse, error)

	Get(ctx context.Context, id string) (*model.Payment, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	RevenueByPeriod(ctx context.Context, period string) (int64, error)
}

type InitiateInvoicePaymentInput struct {
	TenantID    string
	InvoiceID   string
	Amount      int64
	Currency    string
	Country     string
	Phone       string
	Email       string
	Description string
}

type paymentUC struct {
	payments repository.PaymentRepository
	registry *GatewayRegistry
	log      *zerolog.Logger
}

func NewPaymentUseCase(payments repository.PaymentRepository, registry *GatewayRegistry, logger *zerolog.Logger) *paymentUC {
	l := logger.With().Str("component", "PaymentUC").Logger()
	return &paymentUC{payments: payments, registry: registry, log: &l}
}

func (u *paymentUC) InitiateForInvoice(ctx context.Context, in InitiateInvoicePaymentInput) (*model.Payment, *adapter.GatewayResponse, error) {
	gw, ok := u.registry.RouteCountry(in.Country)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no gateway configured for country %q", domain.ErrInvalidArgument, in.Country)
	}
	p, err := model.NewPayment(uuid.NewString(), in.TenantID, gw.Name(), in.Amount, in.Currency, model.PayableInvoice, in.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	p.Description = in.Description

	resp, err := gw.InitiatePayment(ctx, adapter.PaymentContext{
		PaymentID:      p.ID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Phone:          in.Phone,
		Email:          in.Email,
		Reference:      in.InvoiceID,
		Description:    in.Description,
		IdempotencyKey: p.ID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initiate payment: %w", err)
	}
	p.GatewayRef = resp.GatewayRef

	if err := u.payments.Save(ctx, nil, p); err != nil {
		return nil, nil, err
	}
	u.log.Info().Str("payment_id", p.ID).Str("gateway", string(p.Gateway)).Str("gateway_ref", p.GatewayRef).Msg("payment initiated")
	return p, resp, nil
}

func (u *paymentUC) Get(ctx context.Context, id string) (*model.Payment, error) {
	return u.payments.FindByID(ctx, nil, id)
}

func (u *paymentUC) CountByStatus(ctx context.Context) (map[string]int, error) {
	return u.payments.CountByStatus(ctx, nil)
}

func (u *paymentUC) RevenueByPeriod(ctx context.Context, period string) (int64, error) {
	return u.payments.SumConfirmedByPeriod(ctx, nil, period)
}
