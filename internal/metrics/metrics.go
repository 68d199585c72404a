package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the escrow core. Counters track the invariant-heavy
// paths (allocation races, replayed confirmations) so drift is visible before
// it becomes a reconciliation problem.
var (
	AllocationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "escrow_address_allocations_total",
			Help: "Total number of successfully allocated receive addresses",
		},
	)

	AllocationConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "escrow_address_allocation_conflicts_total",
			Help: "Total number of lost next_index CAS races (retried or surfaced)",
		},
	)

	ConfirmationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_confirmation_events_total",
			Help: "Total confirmation events consumed, by outcome",
		},
		[]string{"outcome"}, // held, replay, underfunded, below_threshold, ignored
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_transitions_total",
			Help: "Total escrow state transitions, by resulting status",
		},
		[]string{"to"},
	)

	SweepRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "escrow_sweep_runs_total",
			Help: "Total expiry/auto-release sweep executions",
		},
	)

	ObserverPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "escrow_observer_poll_duration_seconds",
			Help:    "Duration of one chain observer polling pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	NotificationDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_notification_deliveries_total",
			Help: "Total storefront callback deliveries, by result",
		},
		[]string{"result"}, // delivered, failed
	)
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(
		AllocationsTotal,
		AllocationConflictsTotal,
		ConfirmationEventsTotal,
		TransitionsTotal,
		SweepRunsTotal,
		ObserverPollDuration,
		NotificationDeliveriesTotal,
	)
}
