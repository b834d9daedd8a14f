package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of received payment processor webhook events.",
		},
		[]string{"event_type", "status"}, // status: processed|duplicate|invalid_signature|error
	)

	checkoutSessionsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "checkout_sessions_created_total",
			Help:      "Total number of checkout sessions created.",
		},
	)

	paymentsRecordedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "payments_recorded_total",
			Help:      "Total number of payment history records written.",
		},
		[]string{"status"}, // succeeded|failed
	)

	planChangesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "plan_changes_total",
			Help:      "Total number of subscription plan changes.",
		},
	)

	cancellationsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "subscription_cancellations_total",
			Help:      "Total number of subscription cancellations requested.",
		},
		[]string{"mode"}, // period_end|immediate
	)
)
