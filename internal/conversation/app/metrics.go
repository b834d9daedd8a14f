package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesStoredCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conversation",
			Name:      "messages_stored_total",
			Help:      "Total number of conversation messages stored.",
		},
		[]string{"message_type", "direction"}, // direction: user|system
	)

	storeFailuresCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "conversation",
			Name:      "store_failures_total",
			Help:      "Total number of failed message store attempts.",
		},
	)

	searchDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "conversation",
			Name:      "search_duration_seconds",
			Help:      "Duration of conversation search queries.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	cleanupRunsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conversation",
			Name:      "cleanup_runs_total",
			Help:      "Total number of retention cleanup runs.",
		},
		[]string{"status"}, // success|failure|skipped
	)

	cleanupDeletedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "conversation",
			Name:      "cleanup_deleted_messages_total",
			Help:      "Total number of messages removed by retention cleanup.",
		},
	)
)
