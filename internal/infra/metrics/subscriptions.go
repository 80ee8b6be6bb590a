package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(subscriptionTransitionsTotal)
}

var subscriptionTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "subscription_transitions_total",
		Help: "Subscription lifecycle transitions by from/to status.",
	},
	[]string{"from", "to"},
)

func IncSubscriptionTransition(from, to string) {
	subscriptionTransitionsTotal.WithLabelValues(norm(from), norm(to)).Inc()
}
