// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wizard_sessions_started_total",
			Help: "Total number of generation sessions started",
		},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_sessions_completed_total",
			Help: "Total number of sessions finished, by terminal status",
		},
		[]string{"status"},
	)

	SlotsAsked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_slots_asked_total",
			Help: "Clarification slots presented to the user, by attribute",
		},
		[]string{"attribute"},
	)

	SlotsDefaulted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_slots_defaulted_total",
			Help: "Slots resolved from lexicon defaults after exhausted retries",
		},
		[]string{"attribute"},
	)

	CapabilityFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_capability_fetches_total",
			Help: "Provider adapter fetches, by result (live, cached, snapshot, stale, error)",
		},
		[]string{"result"},
	)

	ArtifactsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wizard_artifacts_written_total",
			Help: "Generated artifact files written to disk",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "wizard_stage_duration_seconds",
			Help: "Duration of each pipeline stage in seconds",
		},
		[]string{"stage"},
	)
)
