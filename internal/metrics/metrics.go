package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TournamentTransitions counts tournament status changes by target status and trigger
	TournamentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tournament_engine_tournament_transitions_total",
			Help: "Total number of tournament status transitions",
		},
		[]string{"status", "trigger"},
	)

	// Registrations counts registration attempts by outcome
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tournament_engine_registrations_total",
			Help: "Total number of registration attempts",
		},
		[]string{"result"},
	)

	// MatchesResolved counts decided matches by how they were decided
	MatchesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tournament_engine_matches_resolved_total",
			Help: "Total number of matches decided",
		},
		[]string{"outcome"},
	)

	// SweepDuration measures one deadline sweep
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tournament_engine_sweep_duration_seconds",
			Help:    "Deadline sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SweepErrors counts records the sweeper failed to process, by pass
	SweepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tournament_engine_sweep_errors_total",
			Help: "Total number of per-record sweep failures",
		},
		[]string{"pass"},
	)

	// SweepsSkipped counts ticks skipped because the previous sweep was still running
	SweepsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tournament_engine_sweeps_skipped_total",
			Help: "Total number of sweeper ticks skipped due to overlap",
		},
	)

	// NotificationsDropped counts events a sink failed to accept
	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tournament_engine_notifications_dropped_total",
			Help: "Total number of notifications dropped by a sink",
		},
		[]string{"sink"},
	)

	// StoreOperationDuration measures persistence gateway calls
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tournament_engine_store_operation_duration_seconds",
			Help:    "Persistence operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// ObserveStore records the duration of a persistence operation started at start
func ObserveStore(operation string, start time.Time) {
	StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
