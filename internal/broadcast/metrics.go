package broadcast

import (
	"time"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	broadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "broadcast",
			Name:      "total",
			Help:      "Broadcasts by audience and result",
		},
		[]string{"audience", "result"},
	)

	broadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "broadcast",
			Name:      "duration_seconds",
			Help:      "Time from validation to recorded history entry",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery outcomes. Sum equals recipients resolved.",
		},
		[]string{"status"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "broadcast",
			Name:      "send_duration_seconds",
			Help:      "Time to hand one message to the push service",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	deactivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "broadcast",
			Name:      "deactivations_total",
			Help:      "Subscriptions deactivated after the push service reported them gone",
		},
		[]string{"result"},
	)
)

func recordBroadcast(audience domain.AudienceKind, result string, duration time.Duration) {
	broadcastsTotal.WithLabelValues(string(audience), result).Inc()
	broadcastDuration.Observe(duration.Seconds())
}

func recordDelivery(status domain.DeliveryStatus) {
	deliveriesTotal.WithLabelValues(string(status)).Inc()
}

func recordSendDuration(d time.Duration) {
	sendDuration.Observe(d.Seconds())
}

func recordDeactivation(result string) {
	deactivationsTotal.WithLabelValues(result).Inc()
}
