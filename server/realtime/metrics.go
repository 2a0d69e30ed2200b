package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_connection_status",
			Help: "1 for the current realtime connection status, 0 for the others",
		},
		[]string{"status"},
	)

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_reconnect_attempts_total",
			Help: "Total number of scheduled realtime reconnect attempts",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_received_total",
			Help: "Total number of realtime events received, by event name",
		},
		[]string{"event"},
	)

	SubscriptionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_subscription_errors_total",
			Help: "Total number of failed channel subscriptions",
		},
	)
)

func recordStatus(status Status) {
	for _, s := range allStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		ConnectionStatus.WithLabelValues(string(s)).Set(v)
	}
}
