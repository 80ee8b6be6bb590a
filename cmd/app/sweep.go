package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one timeout and lifecycle sweep pass, then exit",
	Long:  "Times out stale initiated payments, moves lapsed subscriptions to grace and expires exhausted grace windows. Useful from cron or for manual catch-up.",
	Run:   runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(_ *cobra.Command, _ []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a := mustBootstrap(ctx)
	defer a.close()
	a.bus.Start(ctx)
	defer a.bus.Stop()

	now := time.Now()

	timedOut, err := a.subUC.TimeoutStale(ctx, now.Add(-a.cfg.Webhook.PaymentTimeout))
	if err != nil {
		a.log.Error().Err(err).Msg("timeout sweep failed")
	}
	graced, err := a.subUC.MarkGraceDue(ctx, now)
	if err != nil {
		a.log.Error().Err(err).Msg("grace sweep failed")
	}
	expired, err := a.subUC.ExpireLapsed(ctx, now)
	if err != nil {
		a.log.Error().Err(err).Msg("expiry sweep failed")
	}

	a.log.Info().
		Int("payments_timed_out", timedOut).
		Int("subscriptions_graced", graced).
		Int("subscriptions_expired", expired).
		Msg("sweep pass complete")
}
