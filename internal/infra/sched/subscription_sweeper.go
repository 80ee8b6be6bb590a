package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/usecase"
)

// SubscriptionSweeper drives the time-based lifecycle edges: active
// subscriptions past their billing date drop to grace, grace subscriptions
// past their window expire.
type SubscriptionSweeper struct {
	interval time.Duration
	subUC    usecase.SubscriptionUseCase
	lock     leaderLock
	log      *zerolog.Logger
}

const subscriptionSweepLockKey = "sweep:subscription_lifecycle"

func NewSubscriptionSweeper(interval time.Duration, subUC usecase.SubscriptionUseCase, lock leaderLock, logger *zerolog.Logger) *SubscriptionSweeper {
	l := logger.With().Str("component", "SubscriptionSweeper").Logger()
	if interval <= 0 {
		interval = time.Minute
	}
	return &SubscriptionSweeper{
		interval: interval,
		subUC:    subUC,
		lock:     lock,
		log:      &l,
	}
}

func (w *SubscriptionSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting subscription sweeper")
	// Run once on startup, then on every tick
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping subscription sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SubscriptionSweeper) sweep(ctx context.Context) {
	if w.lock != nil {
		token, err := w.lock.TryLock(ctx, subscriptionSweepLockKey, w.interval)
		if err != nil {
			if !errors.Is(err, domain.ErrAlreadyExists) {
				w.log.Error().Err(err).Msg("subscription sweep lock error")
			}
			return
		}
		defer func() { _ = w.lock.Unlock(ctx, subscriptionSweepLockKey, token) }()
	}

	now := time.Now()
	graced, err := w.subUC.MarkGraceDue(ctx, now)
	if err != nil {
		w.log.Error().Err(err).Msg("grace sweep error")
	}
	expired, err := w.subUC.ExpireLapsed(ctx, now)
	if err != nil {
		w.log.Error().Err(err).Msg("expiry sweep error")
	}
	if graced > 0 || expired > 0 {
		w.log.Info().Int("graced", graced).Int("expired", expired).Msg("subscription sweep applied")
	}
}
