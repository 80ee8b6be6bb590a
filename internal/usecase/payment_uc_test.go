//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"

	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/domain/model"
)

func TestInitiateForInvoice(t *testing.T) {
	ctx := context.Background()

	newDeps := func() (*memPaymentRepo, *mockGateway, *mockGateway, PaymentUseCase) {
		payments := newMemPaymentRepo()
		mpesa := &mockGateway{name: model.GatewayMpesa}
		stripe := &mockGateway{name: model.GatewayStripe, recurring: true}
		uc := NewPaymentUseCase(payments, NewGatewayRegistry(mpesa, stripe), newTestLogger())
		return payments, mpesa, stripe, uc
	}

	t.Run("routes KE to mpesa and persists the initiated record", func(t *testing.T) {
		payments, _, _, uc := newDeps()
		p, resp, err := uc.InitiateForInvoice(ctx, InitiateInvoicePaymentInput{
			TenantID:  "tenant-1",
			InvoiceID: "inv-1",
			Amount:    2500_00,
			Currency:  "KES",
			Country:   "ke",
			Phone:     "254700000000",
		})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if p.Gateway != model.GatewayMpesa {
			t.Errorf("expected mpesa, got %s", p.Gateway)
		}
		if p.PayableType != model.PayableInvoice || p.PayableID != "inv-1" {
			t.Errorf("expected invoice payable, got %s/%s", p.PayableType, p.PayableID)
		}
		if p.GatewayRef != resp.GatewayRef || p.GatewayRef == "" {
			t.Errorf("expected gateway ref on payment, got %q", p.GatewayRef)
		}
		stored, err := payments.FindByID(ctx, nil, p.ID)
		if err != nil {
			t.Fatalf("expected persisted payment: %v", err)
		}
		if stored.Status != model.PaymentStatusInitiated {
			t.Errorf("expected initiated, got %s", stored.Status)
		}
	})

	t.Run("routes everything else to stripe", func(t *testing.T) {
		_, _, _, uc := newDeps()
		p, _, err := uc.InitiateForInvoice(ctx, InitiateInvoicePaymentInput{
			TenantID: "tenant-1", InvoiceID: "inv-2", Amount: 990, Currency: "USD", Country: "US",
		})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if p.Gateway != model.GatewayStripe {
			t.Errorf("expected stripe, got %s", p.Gateway)
		}
	})

	t.Run("gateway failure persists nothing", func(t *testing.T) {
		payments, mpesa, _, uc := newDeps()
		mpesa.initiateErr = errors.New("daraja unreachable")
		_, _, err := uc.InitiateForInvoice(ctx, InitiateInvoicePaymentInput{
			TenantID: "tenant-1", InvoiceID: "inv-3", Amount: 100, Currency: "KES", Country: "KE",
		})
		if err == nil {
			t.Fatal("expected an error")
		}
		counts, _ := payments.CountByStatus(ctx, nil)
		if len(counts) != 0 {
			t.Errorf("expected empty repo, got %v", counts)
		}
	})

	t.Run("rejects a non-positive amount", func(t *testing.T) {
		_, _, _, uc := newDeps()
		_, _, err := uc.InitiateForInvoice(ctx, InitiateInvoicePaymentInput{
			TenantID: "tenant-1", InvoiceID: "inv-4", Amount: 0, Currency: "KES", Country: "KE",
		})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestPaymentReadPaths(t *testing.T) {
	ctx := context.Background()
	payments := newMemPaymentRepo()
	uc := NewPaymentUseCase(payments, NewGatewayRegistry(), newTestLogger())

	seed := func(id string, status model.PaymentStatus, amount int64) {
		p, err := model.NewPayment(id, "tenant-1", model.GatewayStripe, amount, "USD", model.PayableInvoice, "inv-"+id)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		p.Status = status
		if err := payments.Save(ctx, nil, p); err != nil {
			t.Fatalf("seed save: %v", err)
		}
	}
	seed("p1", model.PaymentStatusSuccess, 1000)
	seed("p2", model.PaymentStatusSuccess, 2500)
	seed("p3", model.PaymentStatusFailed, 400)

	counts, err := uc.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[string(model.PaymentStatusSuccess)] != 2 || counts[string(model.PaymentStatusFailed)] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	sum, err := uc.RevenueByPeriod(ctx, "month")
	if err != nil {
		t.Fatalf("revenue: %v", err)
	}
	if sum != 3500 {
		t.Errorf("expected 3500 confirmed revenue, got %d", sum)
	}

	if _, err := uc.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
