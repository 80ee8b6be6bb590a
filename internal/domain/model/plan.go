package model

import "time"

// Plan describes a billing plan a subscription is priced against.
type Plan struct {
	ID           string
	Name         string
	PriceMinor   int64 // minor units of Currency
	Currency     string
	IntervalDays int // billing cycle length
	GraceDays    int // window after a lapsed renewal before expiry
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
