package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/adapter"
	"invoicing-platform/internal/domain/ports/collab"
	"invoicing-platform/internal/domain/ports/event"
	"invoicing-platform/internal/domain/ports/repository"
	"invoicing-platform/internal/infra/logging"
	"invoicing-platform/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// SubscriptionUseCase owns the subscription lifecycle. Payment webhooks,
// the retry scheduler and the sweepers all drive state through here; the
// gateway adapters never mutate records themselves.
type SubscriptionUseCase interface {
	// Subscribe creates a PENDING subscription and initiates its first
	// payment on the gateway routed by the payer's country.
	Subscribe(ctx context.Context, in SubscribeInput) (*model.Subscription, *model.Payment, *adapter.GatewayResponse, error)

	// ConfirmPayment applies one gateway callback. Not-found and
	// already-terminal payments are idempotent no-ops, not errors.
	ConfirmPayment(ctx context.Context, gatewayName model.GatewayName, payload *model.CallbackPayload) (*model.Payment, error)

	// Cancel marks a subscription CANCELLED. Local state is authoritative:
	// a gateway-side cancel failure is logged, never blocking.
	Cancel(ctx context.Context, subscriptionID, actor, reason string) error

	// Activate is the PaymentConfirmed listener: idempotent re-activation
	// plus the invoice snapshot for the paid cycle.
	Activate(ctx context.Context, payment *model.Payment) error

	// MarkGraceDue moves active subscriptions with a lapsed billing date
	// into GRACE. ExpireLapsed moves grace subscriptions past grace_until
	// into EXPIRED. Both are driven by the subscription sweeper.
	MarkGraceDue(ctx context.Context, asOf time.Time) (int, error)
	ExpireLapsed(ctx context.Context, asOf time.Time) (int, error)

	// TimeoutStale marks payments still INITIATED past the cutoff as
	// TIMEOUT. A confirmation racing the sweep keeps its win: the CAS
	// makes the first terminal writer authoritative.
	TimeoutStale(ctx context.Context, cutoff time.Time) (int, error)

	Get(ctx context.Context, id string) (*model.Subscription, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type SubscribeInput struct {
	TenantID    string
	PlanID      string
	Country     string
	Phone       string
	Email       string
	Description string
}

type subscriptionUC struct {
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository
	plans    repository.PlanRepository
	audit    repository.AuditLogRepository
	registry *GatewayRegistry
	bus      event.Bus
	invoices collab.InvoiceCreator
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	payments repository.PaymentRepository,
	plans repository.PlanRepository,
	audit repository.AuditLogRepository,
	registry *GatewayRegistry,
	bus event.Bus,
	invoices collab.InvoiceCreator,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{
		subs:     subs,
		payments: payments,
		plans:    plans,
		audit:    audit,
		registry: registry,
		bus:      bus,
		invoices: invoices,
		tm:       tm,
		log:      &l,
	}
}

func (uc *subscriptionUC) Subscribe(ctx context.Context, in SubscribeInput) (*model.Subscription, *model.Payment, *adapter.GatewayResponse, error) {
	plan, err := uc.plans.FindByID(ctx, nil, in.PlanID)
	if err != nil {
		return nil, nil, nil, err
	}
	gw, ok := uc.registry.RouteCountry(in.Country)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: no gateway configured for country %q", domain.ErrInvalidArgument, in.Country)
	}

	sub, err := model.NewSubscription(uuid.NewString(), in.TenantID, plan, gw.Name())
	if err != nil {
		return nil, nil, nil, err
	}
	payment, err := model.NewPayment(uuid.NewString(), in.TenantID, gw.Name(), plan.PriceMinor, plan.Currency, model.PayableSubscription, sub.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	payment.Description = in.Description

	// Gateway call happens outside any transaction; nothing is locked
	// while we wait on the provider.
	resp, err := gw.InitiatePayment(ctx, adapter.PaymentContext{
		PaymentID:      payment.ID,
		SubscriptionID: sub.ID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Phone:          in.Phone,
		Email:          in.Email,
		Reference:      sub.ID,
		Description:    in.Description,
		IdempotencyKey: payment.ID,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initiate payment: %w", err)
	}
	payment.GatewayRef = resp.GatewayRef

	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		return uc.payments.Save(ctx, tx, payment)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	uc.appendAudit(ctx, "subscribe:"+in.TenantID, "subscription.created", sub.TenantID, "subscription", sub.ID, nil, map[string]interface{}{"status": string(sub.Status), "plan_id": plan.ID})
	return sub, payment, resp, nil
}

func (uc *subscriptionUC) ConfirmPayment(ctx context.Context, gatewayName model.GatewayName, payload *model.CallbackPayload) (*model.Payment, error) {
	log := logging.With(ctx, uc.log)
	defer logging.TraceDuration(log, "SubscriptionUC.ConfirmPayment")()

	gw, ok := uc.registry.Get(gatewayName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown gateway %q", domain.ErrInvalidArgument, gatewayName)
	}
	if payload == nil || payload.GatewayRef == "" {
		return nil, fmt.Errorf("%w: empty gateway reference", domain.ErrMalformedCallback)
	}

	p, err := uc.payments.FindByGatewayRef(ctx, nil, payload.GatewayRef)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Unknown reference: safe no-op for at-least-once delivery.
			log.Debug().Str("gateway_ref", payload.GatewayRef).Msg("confirm for unknown payment reference ignored")
			return nil, nil
		}
		return nil, err
	}
	if p.Terminal() {
		log.Debug().Str("payment_id", p.ID).Str("status", string(p.Status)).Msg("confirm for terminal payment is a no-op")
		return p, nil
	}

	res, err := gw.ConfirmPayment(ctx, payload)
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case model.ResultConfirmed:
		return uc.settleConfirmed(ctx, p, res)
	case model.ResultTimeout:
		return uc.settleTerminal(ctx, p, model.PaymentStatusTimeout, model.EventPaymentFailed)
	default:
		return uc.settleTerminal(ctx, p, model.PaymentStatusFailed, model.EventPaymentFailed)
	}
}

// settleConfirmed marks the payment SUCCESS and activates the owning
// subscription, all guarded by the initiated-state CAS so a concurrent
// sweeper or duplicate delivery cannot double-apply.
func (uc *subscriptionUC) settleConfirmed(ctx context.Context, p *model.Payment, res *model.PaymentResult) (*model.Payment, error) {
	log := logging.With(ctx, uc.log)
	now := time.Now()
	var won bool
	var sub *model.Subscription

	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var txID *string
		if res.GatewayTxID != "" {
			txID = &res.GatewayTxID
		}
		var err error
		won, err = uc.payments.UpdateStatusIfInitiated(ctx, tx, p.ID, model.PaymentStatusSuccess, txID, &now)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		if p.PayableType == model.PayableSubscription {
			sub, err = uc.activateWithinTx(ctx, tx, p.PayableID, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !won {
		// Race lost (timeout sweeper or duplicate confirm got there first).
		log.Info().Str("payment_id", p.ID).Msg("confirmation lost the terminal-state race; dropping")
		return uc.payments.FindByID(ctx, nil, p.ID)
	}

	p.Status = model.PaymentStatusSuccess
	p.PaidAt = &now
	p.UpdatedAt = now
	if res.GatewayTxID != "" {
		p.GatewayTxID = &res.GatewayTxID
	}

	metrics.IncPayment(string(p.Gateway), string(p.Status))
	metrics.AddPaymentRevenue(p.Currency, p.Amount)
	uc.appendAudit(ctx, "webhook:"+string(p.Gateway), "payment.confirmed", p.TenantID, "payment", p.ID,
		map[string]interface{}{"status": string(model.PaymentStatusInitiated)},
		map[string]interface{}{"status": string(p.Status), "gateway_tx_id": res.GatewayTxID})

	uc.bus.Publish(ctx, &model.Event{Name: model.EventPaymentConfirmed, TenantID: p.TenantID, OccurredAt: now, Payment: p, Subscription: sub})
	if sub != nil {
		uc.bus.Publish(ctx, &model.Event{Name: model.EventSubscriptionActivated, TenantID: p.TenantID, OccurredAt: now, Payment: p, Subscription: sub})
	}
	return p, nil
}

// activateWithinTx transitions the owning subscription to ACTIVE as part of
// the payment settlement transaction: pending -> active on first payment,
// grace -> active on a late renewal.
func (uc *subscriptionUC) activateWithinTx(ctx context.Context, tx repository.Tx, subID string, now time.Time) (*model.Subscription, error) {
	sub, err := uc.subs.FindByID(ctx, tx, subID)
	if err != nil {
		return nil, err
	}
	if sub.Status == model.SubscriptionStatusActive {
		return sub, nil
	}
	if sub.Terminal() {
		// Payment settled against a cancelled/expired subscription; record
		// the money but leave the lifecycle alone.
		uc.log.Warn().Str("subscription_id", subID).Str("status", string(sub.Status)).Msg("confirmed payment for terminal subscription")
		return sub, nil
	}

	plan, err := uc.plans.FindByID(ctx, tx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	from := sub.Status
	starts := sub.StartsAt
	if starts == nil {
		starts = &now
	}
	next := now.Add(time.Duration(plan.IntervalDays) * 24 * time.Hour)
	ok, err := uc.subs.UpdateStatusIf(ctx, tx, sub.ID,
		[]model.SubscriptionStatus{model.SubscriptionStatusPending, model.SubscriptionStatusGrace},
		model.SubscriptionStatusActive, starts, &next, nil, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else moved it; re-read for the caller.
		return uc.subs.FindByID(ctx, tx, sub.ID)
	}
	sub.Status = model.SubscriptionStatusActive
	sub.StartsAt = starts
	sub.NextBillingAt = &next
	sub.GraceUntil = nil
	sub.UpdatedAt = now
	metrics.IncSubscriptionTransition(string(from), string(sub.Status))
	return sub, nil
}

// settleTerminal applies a FAILED/TIMEOUT verdict. The subscription is left
// untouched: grace handling is the sweeper's job, not the failure's.
func (uc *subscriptionUC) settleTerminal(ctx context.Context, p *model.Payment, status model.PaymentStatus, evName model.EventName) (*model.Payment, error) {
	log := logging.With(ctx, uc.log)
	now := time.Now()
	won, err := uc.payments.UpdateStatusIfInitiated(ctx, nil, p.ID, status, nil, nil)
	if err != nil {
		return nil, err
	}
	if !won {
		log.Info().Str("payment_id", p.ID).Str("to", string(status)).Msg("terminal write lost the race; dropping")
		return uc.payments.FindByID(ctx, nil, p.ID)
	}
	p.Status = status
	p.UpdatedAt = now

	metrics.IncPayment(string(p.Gateway), string(status))
	uc.appendAudit(ctx, "webhook:"+string(p.Gateway), "payment."+string(status), p.TenantID, "payment", p.ID,
		map[string]interface{}{"status": string(model.PaymentStatusInitiated)},
		map[string]interface{}{"status": string(status)})
	uc.bus.Publish(ctx, &model.Event{Name: evName, TenantID: p.TenantID, OccurredAt: now, Payment: p})
	return p, nil
}

func (uc *subscriptionUC) Cancel(ctx context.Context, subscriptionID, actor, reason string) error {
	log := logging.With(ctx, uc.log)
	sub, err := uc.subs.FindByID(ctx, nil, subscriptionID)
	if err != nil {
		return err
	}
	if sub.Status == model.SubscriptionStatusCancelled {
		return nil
	}
	if sub.Status == model.SubscriptionStatusExpired {
		return domain.ErrSubscriptionExpired
	}

	// Gateway-side cancellation is advisory; local state is authoritative.
	if gw, ok := uc.registry.Get(sub.Gateway); ok {
		if !gw.SupportsRecurring() || sub.GatewaySubscriptionID == nil {
			log.Debug().Str("gateway", string(sub.Gateway)).Msg("gateway cancel skipped: no recurring agreement")
		} else if err := gw.CancelSubscription(ctx, adapter.CancelContext{
			SubscriptionID:        sub.ID,
			GatewaySubscriptionID: *sub.GatewaySubscriptionID,
			Reason:                reason,
		}); err != nil {
			if errors.Is(err, domain.ErrUnsupportedOperation) {
				log.Debug().Str("gateway", string(sub.Gateway)).Msg("gateway cancel unsupported; skipped")
			} else {
				log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("gateway cancel failed; local cancel proceeds")
			}
		}
	}

	from := sub.Status
	now := time.Now()
	ok, err := uc.subs.UpdateStatusIf(ctx, nil, sub.ID,
		[]model.SubscriptionStatus{model.SubscriptionStatusPending, model.SubscriptionStatusActive, model.SubscriptionStatusGrace},
		model.SubscriptionStatusCancelled, nil, nil, nil, reason)
	if err != nil {
		return err
	}
	if !ok {
		// Re-check: a concurrent cancel is a no-op, anything else is a conflict.
		cur, ferr := uc.subs.FindByID(ctx, nil, sub.ID)
		if ferr == nil && cur.Status == model.SubscriptionStatusCancelled {
			return nil
		}
		return domain.ErrInvalidTransition
	}
	sub.Status = model.SubscriptionStatusCancelled
	sub.CancelReason = reason
	sub.UpdatedAt = now

	log.Info().Str("subscription_id", sub.ID).Str("actor", actor).Str("reason", reason).Msg("subscription cancelled")
	metrics.IncSubscriptionTransition(string(from), string(sub.Status))
	uc.appendAudit(ctx, actor, "subscription.cancelled", sub.TenantID, "subscription", sub.ID,
		map[string]interface{}{"status": string(from)},
		map[string]interface{}{"status": string(sub.Status), "reason": reason})
	uc.bus.Publish(ctx, &model.Event{Name: model.EventSubscriptionCancelled, TenantID: sub.TenantID, OccurredAt: now, Subscription: sub})
	return nil
}

func (uc *subscriptionUC) Activate(ctx context.Context, payment *model.Payment) error {
	if payment == nil || payment.PayableType != model.PayableSubscription {
		return nil
	}
	sub, err := uc.subs.FindByID(ctx, nil, payment.PayableID)
	if err != nil {
		return err
	}
	if sub.Terminal() {
		return nil
	}
	if sub.Status != model.SubscriptionStatusActive {
		now := time.Now()
		if _, err := uc.activateWithinTx(ctx, nil, sub.ID, now); err != nil {
			return err
		}
		sub, err = uc.subs.FindByID(ctx, nil, sub.ID)
		if err != nil {
			return err
		}
	}
	// Billing snapshot for this cycle; the invoice collaborator is
	// expected to be idempotent per payment.
	if err := uc.invoices.CreateSnapshot(ctx, payment, sub); err != nil {
		uc.log.Error().Err(err).Str("payment_id", payment.ID).Msg("invoice snapshot failed")
		return err
	}
	return nil
}

func (uc *subscriptionUC) MarkGraceDue(ctx context.Context, asOf time.Time) (int, error) {
	due, err := uc.subs.ListActiveDueForBilling(ctx, nil, asOf, 200)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, sub := range due {
		plan, err := uc.plans.FindByID(ctx, nil, sub.PlanID)
		if err != nil {
			uc.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("grace sweep: plan lookup failed")
			continue
		}
		base := asOf
		if sub.NextBillingAt != nil {
			base = *sub.NextBillingAt
		}
		graceUntil := base.Add(time.Duration(plan.GraceDays) * 24 * time.Hour)
		ok, err := uc.subs.UpdateStatusIf(ctx, nil, sub.ID,
			[]model.SubscriptionStatus{model.SubscriptionStatusActive},
			model.SubscriptionStatusGrace, nil, nil, &graceUntil, "")
		if err != nil {
			uc.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("grace sweep: transition failed")
			continue
		}
		if ok {
			n++
			metrics.IncSubscriptionTransition(string(model.SubscriptionStatusActive), string(model.SubscriptionStatusGrace))
		}
	}
	return n, nil
}

func (uc *subscriptionUC) ExpireLapsed(ctx context.Context, asOf time.Time) (int, error) {
	lapsed, err := uc.subs.ListGraceLapsed(ctx, nil, asOf, 200)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, sub := range lapsed {
		ok, err := uc.subs.UpdateStatusIf(ctx, nil, sub.ID,
			[]model.SubscriptionStatus{model.SubscriptionStatusGrace},
			model.SubscriptionStatusExpired, nil, nil, nil, "")
		if err != nil {
			uc.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("expiry sweep: transition failed")
			continue
		}
		if !ok {
			continue
		}
		n++
		sub.Status = model.SubscriptionStatusExpired
		metrics.IncSubscriptionTransition(string(model.SubscriptionStatusGrace), string(sub.Status))
		uc.bus.Publish(ctx, &model.Event{Name: model.EventSubscriptionExpired, TenantID: sub.TenantID, OccurredAt: asOf, Subscription: sub})
	}
	return n, nil
}

func (uc *subscriptionUC) TimeoutStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := uc.payments.ListInitiatedOlderThan(ctx, nil, cutoff, 200)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, p := range stale {
		if _, err := uc.settleTerminal(ctx, p, model.PaymentStatusTimeout, model.EventPaymentFailed); err != nil {
			uc.log.Error().Err(err).Str("payment_id", p.ID).Msg("timeout sweep: settle failed")
			continue
		}
		// settleTerminal re-reads on a lost race, so only count real wins.
		if p.Status == model.PaymentStatusTimeout {
			n++
			metrics.IncPaymentsTimedOut(1)
		}
	}
	return n, nil
}

func (uc *subscriptionUC) Get(ctx context.Context, id string) (*model.Subscription, error) {
	return uc.subs.FindByID(ctx, nil, id)
}

func (uc *subscriptionUC) CountByStatus(ctx context.Context) (map[string]int, error) {
	return uc.subs.CountByStatus(ctx, nil)
}

// appendAudit is best-effort: failures are logged, never propagated.
func (uc *subscriptionUC) appendAudit(ctx context.Context, actor, action, tenantID, entityType, entityID string, before, after map[string]interface{}) {
	entry := &model.AuditEntry{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     before,
		After:      after,
		CreatedAt:  time.Now(),
	}
	if err := uc.audit.Append(ctx, nil, entry); err != nil {
		uc.log.Warn().Err(err).Str("action", action).Str("entity_id", entityID).Msg("audit append failed")
	}
}
