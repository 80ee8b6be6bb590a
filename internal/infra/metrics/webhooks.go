package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookCallbacksTotal,
		webhookRetriesTotal,
		eventBusPublishedTotal,
	)
}

var (
	webhookCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_callbacks_total",
			Help: "Inbound gateway callbacks by gateway and outcome (confirmed/ignored/malformed/error/noop).",
		},
		[]string{"gateway", "outcome"},
	)

	webhookRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_retries_total",
			Help: "Retry scheduler attempts by outcome (resolved/rescheduled/exhausted/transient).",
		},
		[]string{"outcome"},
	)

	eventBusPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_bus_published_total",
			Help: "Domain events published to the bus.",
		},
		[]string{"event"},
	)
)

func IncWebhookCallback(gateway, outcome string) {
	webhookCallbacksTotal.WithLabelValues(norm(gateway), norm(outcome)).Inc()
}

func IncWebhookRetry(outcome string) {
	webhookRetriesTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncEventPublished(event string) {
	eventBusPublishedTotal.WithLabelValues(norm(event)).Inc()
}
