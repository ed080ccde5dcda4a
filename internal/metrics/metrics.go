package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconciliation metrics (internal/reconciler, spec.md §4.2)
	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailstate_reconciliations_total",
		Help: "Total fetch_messages reconciliation attempts by outcome",
	}, []string{"outcome"}) // first_open, reuse, reconciled, cas_conflict, failure

	ReconciliationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mailstate_reconciliation_duration_seconds",
		Help:    "Time taken to reconcile a mailbox's UidMap against the store",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	CASRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailstate_cas_retries_total",
		Help: "Total compare-and-swap retries on UidMap writes",
	})

	CASConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailstate_cas_conflicts_total",
		Help: "Total compare-and-swap conflicts that exhausted the retry budget",
	})

	// Diff metrics (internal/mailboxstate, spec.md §4.3-4.4)
	DiffDeletions = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mailstate_diff_deletions",
		Help:    "Number of messages found deleted per synchronize_messages pass",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	DiffAdditions = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mailstate_diff_additions",
		Help:    "Number of new messages found per synchronize_messages pass",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	// IDLE metrics (internal/idle, spec.md §4.6)
	IdleSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailstate_idle_sessions_active",
		Help: "Number of sessions currently parked in IDLE",
	})

	IdleSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailstate_idle_sessions_total",
		Help: "Total IDLE sessions by exit reason",
	}, []string{"reason"}) // client_done, timeout, bus_closed, error

	IdleEventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailstate_idle_events_delivered_total",
		Help: "Total change events delivered to IDLE sessions by type",
	}, []string{"type"}) // email, mailbox, email_delivery

	// changebus metrics (internal/changebus)
	BusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailstate_bus_published_total",
		Help: "Total state-change events published to the bus",
	}, []string{"driver"}) // memory, redis

	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailstate_bus_dropped_total",
		Help: "Total events dropped because a subscriber's channel was full",
	}, []string{"driver"})

	BusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailstate_bus_subscribers",
		Help: "Current number of active bus subscriptions",
	})

	// Store metrics (internal/store/sqlite)
	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailstate_store_operation_duration_seconds",
		Help:    "Time taken by a store.Store operation",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"operation"})

	StoreCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailstate_store_circuit_breaker_state",
		Help: "Store circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	// Error metrics, mirroring internal/protocol.Kind
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailstate_errors_total",
		Help: "Total errors by component and protocol.Kind",
	}, []string{"component", "kind"})
)

// RecordReconciliation records one fetch_messages attempt.
func RecordReconciliation(outcome string, durationSeconds float64) {
	ReconciliationsTotal.WithLabelValues(outcome).Inc()
	ReconciliationDuration.Observe(durationSeconds)
}

// RecordDiff records the size of one synchronize_messages diff.
func RecordDiff(additions, deletions int) {
	DiffAdditions.Observe(float64(additions))
	DiffDeletions.Observe(float64(deletions))
}

// RecordIdleStart records an IDLE session starting.
func RecordIdleStart() {
	IdleSessionsActive.Inc()
}

// RecordIdleEnd records an IDLE session ending with the given reason.
func RecordIdleEnd(reason string) {
	IdleSessionsActive.Dec()
	IdleSessionsTotal.WithLabelValues(reason).Inc()
}

// RecordBusPublish records one event published on driver.
func RecordBusPublish(driver string) {
	BusPublished.WithLabelValues(driver).Inc()
}

// RecordBusDrop records one event dropped for a full subscriber channel on driver.
func RecordBusDrop(driver string) {
	BusDropped.WithLabelValues(driver).Inc()
}

// RecordError records an error by component and protocol.Kind string.
func RecordError(component, kind string) {
	Errors.WithLabelValues(component, kind).Inc()
}
