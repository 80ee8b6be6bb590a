package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/usecase"
)

// leaderLock keeps a sweep pass single-flight across replicas. A nil lock
// means this process always sweeps.
type leaderLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// TimeoutSweeper periodically times out payments that never received a
// gateway callback. Confirmation wins any race: the sweep only flips
// payments still in the initiated state.
type TimeoutSweeper struct {
	interval   time.Duration
	staleAfter time.Duration
	subUC      usecase.SubscriptionUseCase
	lock       leaderLock
	log        *zerolog.Logger
}

const timeoutSweepLockKey = "sweep:payment_timeout"

func NewTimeoutSweeper(interval, staleAfter time.Duration, subUC usecase.SubscriptionUseCase, lock leaderLock, logger *zerolog.Logger) *TimeoutSweeper {
	l := logger.With().Str("component", "TimeoutSweeper").Logger()
	if interval <= 0 {
		interval = time.Minute
	}
	return &TimeoutSweeper{
		interval:   interval,
		staleAfter: staleAfter,
		subUC:      subUC,
		lock:       lock,
		log:        &l,
	}
}

func (w *TimeoutSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting timeout sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping timeout sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *TimeoutSweeper) sweep(ctx context.Context) {
	if w.lock != nil {
		token, err := w.lock.TryLock(ctx, timeoutSweepLockKey, w.interval)
		if err != nil {
			if !errors.Is(err, domain.ErrAlreadyExists) {
				w.log.Error().Err(err).Msg("timeout sweep lock error")
			}
			return
		}
		defer func() { _ = w.lock.Unlock(ctx, timeoutSweepLockKey, token) }()
	}

	cutoff := time.Now().Add(-w.staleAfter)
	n, err := w.subUC.TimeoutStale(ctx, cutoff)
	if err != nil {
		w.log.Error().Err(err).Msg("timeout sweep error")
		return
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("stale payments timed out")
	}
}
