package syncmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billsync",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Total webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "billsync",
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// ReconcileTotal counts reconciliation attempts by handler and outcome.
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billsync",
		Subsystem: "reconcile",
		Name:      "total",
		Help:      "Total reconciliation attempts by handler and outcome.",
	}, []string{"handler", "outcome"})

	// SubscriptionsByStatus tracks the number of subscription records per status.
	SubscriptionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "billsync",
		Subsystem: "store",
		Name:      "subscriptions_by_status",
		Help:      "Number of subscription records by status.",
	}, []string{"status"})

	// LapsedActiveRecords tracks records whose paid period has ended while the
	// stored status still grants access.
	LapsedActiveRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "billsync",
		Subsystem: "store",
		Name:      "lapsed_active_records",
		Help:      "Records past current_period_end with a status that still grants access.",
	})
)
