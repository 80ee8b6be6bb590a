package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"invoicing-platform/internal/config"
	"invoicing-platform/internal/domain/model"
	pg "invoicing-platform/internal/infra/db/postgres"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert sample billing plans for local testing",
	Run:   runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(_ *cobra.Command, _ []string) {
	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	planRepo := pg.NewPlanRepo(pool)

	// Fixed IDs keep the command idempotent: re-running updates in place.
	now := time.Now()
	seed := []*model.Plan{
		{ID: "plan-starter-ke", Name: "Starter KE", PriceMinor: 500_00, Currency: "KES", IntervalDays: 30, GraceDays: 3},
		{ID: "plan-business-ke", Name: "Business KE", PriceMinor: 1500_00, Currency: "KES", IntervalDays: 30, GraceDays: 7},
		{ID: "plan-starter-intl", Name: "Starter International", PriceMinor: 9_00, Currency: "USD", IntervalDays: 30, GraceDays: 3},
		{ID: "plan-business-intl", Name: "Business International", PriceMinor: 29_00, Currency: "USD", IntervalDays: 365, GraceDays: 14},
	}

	for _, p := range seed {
		p.CreatedAt = now
		p.UpdatedAt = now
		if err := planRepo.Save(ctx, nil, p); err != nil {
			log.Fatalf("seed plan %s: %v", p.ID, err)
		}
		fmt.Printf("  - %s (%s, %d %s / %dd, grace %dd)\n", p.ID, p.Name, p.PriceMinor, p.Currency, p.IntervalDays, p.GraceDays)
	}
	fmt.Printf("%d plans seeded.\n", len(seed))
}
