package config

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Confirmation engine metrics. Registered on the default registry and served
// from /metrics in server.go.
var (
	ConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mes",
		Subsystem: "confirmation",
		Name:      "confirmations_total",
		Help:      "Production confirmations by outcome (confirmed, rejected, failed, conflict).",
	}, []string{"outcome"})

	ConfirmationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mes",
		Subsystem: "confirmation",
		Name:      "confirmation_duration_seconds",
		Help:      "Wall time of the confirmation posting transaction.",
		Buckets:   prometheus.DefBuckets,
	})

	BatchesProduced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mes",
		Subsystem: "confirmation",
		Name:      "batches_produced_total",
		Help:      "Output batches created by confirmations (after splitting).",
	})

	AuditOutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mes",
		Subsystem: "audit",
		Name:      "outbox_pending",
		Help:      "Audit records waiting for dispatch.",
	})
)
