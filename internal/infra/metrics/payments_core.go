package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		paymentsTimedOutTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment terminal transitions by gateway and status.",
		},
		[]string{"gateway", "status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "Total minor-unit value of confirmed payments, labeled by currency.",
		},
		[]string{"currency"},
	)

	paymentsTimedOutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_timed_out_total",
			Help: "Stale initiated payments forced to TIMEOUT by the sweeper.",
		},
	)
)

func IncPayment(gateway, status string) {
	paymentsTotal.WithLabelValues(norm(gateway), norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncPaymentsTimedOut(n int) {
	paymentsTimedOutTotal.Add(float64(n))
}
