package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoicing-platform/internal/config"
	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/repository"
	"invoicing-platform/internal/infra/adapters/gateway"
	"invoicing-platform/internal/infra/collab"
	pg "invoicing-platform/internal/infra/db/postgres"
	"invoicing-platform/internal/infra/events"
	"invoicing-platform/internal/infra/logging"
	red "invoicing-platform/internal/infra/redis"
	"invoicing-platform/internal/infra/retry"
	"invoicing-platform/internal/infra/sched"
	"invoicing-platform/internal/infra/web"
	"invoicing-platform/internal/usecase"
)

const retryQueueKey = "webhook:retry"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server, ops API and background workers",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// app holds everything the commands wire up. Commands share the bootstrap
// so serve and sweep always agree on repositories and use cases.
type app struct {
	cfg    *config.Config
	log    *zerolog.Logger
	pool   *pgxpool.Pool
	redis  *red.Client
	locker *red.RedisLocker
	queue  *red.DelayedQueue
	bus    *events.Bus

	subUC     usecase.SubscriptionUseCase
	paymentUC usecase.PaymentUseCase
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func mustBootstrap(ctx context.Context) *app {
	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled; stripe signature checks relaxed")
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	locker := red.NewLocker(redisClient)
	queue := red.NewDelayedQueue(redisClient, retryQueueKey)

	// ---- Repositories ----
	payRepo := pg.NewPaymentRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	planRepo := pg.NewPlanRepo(pool)
	auditRepo := pg.NewAuditRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Gateways ----
	mpesa, err := gateway.NewMpesaGateway(cfg.Gateway.Mpesa)
	if err != nil {
		logger.Fatal().Err(err).Msg("mpesa gateway")
	}
	stripe, err := gateway.NewStripeGateway(cfg.Gateway.Stripe)
	if err != nil {
		logger.Fatal().Err(err).Msg("stripe gateway")
	}
	registry := usecase.NewGatewayRegistry(mpesa, stripe)

	// ---- Event bus ----
	bus := events.NewBus(4, logger)

	// ---- Use cases ----
	invoices := collab.NewAuditInvoiceCreator(auditRepo, logger)
	subUC := usecase.NewSubscriptionUseCase(subRepo, payRepo, planRepo, auditRepo, registry, bus, invoices, txManager, logger)
	paymentUC := usecase.NewPaymentUseCase(payRepo, registry, logger)

	// ---- Event handlers ----
	// Confirmation settles the payment; activation of the subscription rides
	// the event so webhook and retry paths both drive it.
	bus.Register(model.EventPaymentConfirmed, func(ctx context.Context, ev *model.Event) error {
		return subUC.Activate(ctx, ev.Payment)
	})
	notifier := collab.NewLogNotifier(logger)
	auditTrail := auditEventRecorder(auditRepo)
	for _, name := range []model.EventName{
		model.EventPaymentConfirmed,
		model.EventPaymentFailed,
		model.EventSubscriptionActivated,
		model.EventSubscriptionCancelled,
		model.EventSubscriptionExpired,
	} {
		bus.Register(name, auditTrail)
		if name != model.EventPaymentConfirmed {
			bus.Register(name, notifier.Notify)
		}
	}

	return &app{
		cfg:       cfg,
		log:       logger,
		pool:      pool,
		redis:     redisClient,
		locker:    locker,
		queue:     queue,
		bus:       bus,
		subUC:     subUC,
		paymentUC: paymentUC,
	}
}

// auditEventRecorder writes one audit row per published event, keyed on the
// event id so redelivery stays a no-op.
func auditEventRecorder(audit repository.AuditLogRepository) func(ctx context.Context, ev *model.Event) error {
	return func(ctx context.Context, ev *model.Event) error {
		entry := &model.AuditEntry{
			ID:        ev.ID,
			TenantID:  ev.TenantID,
			Actor:     "bus",
			Action:    string(ev.Name),
			CreatedAt: ev.OccurredAt,
		}
		switch {
		case ev.Payment != nil:
			entry.EntityType = "payment"
			entry.EntityID = ev.Payment.ID
			entry.After = map[string]interface{}{"status": string(ev.Payment.Status)}
		case ev.Subscription != nil:
			entry.EntityType = "subscription"
			entry.EntityID = ev.Subscription.ID
			entry.After = map[string]interface{}{"status": string(ev.Subscription.Status)}
		}
		return audit.Append(ctx, nil, entry)
	}
}

func runServe(_ *cobra.Command, _ []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := mustBootstrap(ctx)
	defer a.close()

	a.bus.Start(ctx)
	defer a.bus.Stop()

	// ---- Retry scheduler ----
	retrySched := retry.NewScheduler(a.queue, a.subUC, a.cfg.Webhook.MaxRetries, a.cfg.Webhook.RetryBackoffBase, a.log)
	go func() {
		if err := retrySched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error().Err(err).Msg("retry scheduler stopped")
		}
	}()

	// ---- Sweepers ----
	timeoutSweep := sched.NewTimeoutSweeper(a.cfg.Sweep.TimeoutInterval, a.cfg.Webhook.PaymentTimeout, a.subUC, a.locker, a.log)
	go func() { _ = timeoutSweep.Run(ctx) }()
	subSweep := sched.NewSubscriptionSweeper(a.cfg.Sweep.SubscriptionInterval, a.subUC, a.locker, a.log)
	go func() { _ = subSweep.Run(ctx) }()

	// ---- HTTP servers ----
	webhookSrv := web.NewServer(a.cfg, a.subUC, retrySched, a.log)
	go func() {
		if err := webhookSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatal().Err(err).Msg("webhook server")
		}
	}()
	opsSrv := web.NewOpsServer(a.cfg, a.subUC, a.paymentUC, a.log)
	go func() {
		if err := opsSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatal().Err(err).Msg("ops server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	a.log.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := webhookSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("webhook server shutdown")
	}
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("ops server shutdown")
	}
	cancel()
}
