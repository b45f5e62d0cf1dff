package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "matchd"

// Coordinator Prometheus metrics.
var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Coordination cycles by outcome",
		},
		[]string{"outcome"}, // "completed" / "skipped_empty" / "skipped_lease" / "store_unavailable"
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Coordination cycle duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	ScoringRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_requests_total",
			Help:      "Requests sent to scoring sources",
		},
		[]string{"source", "status"}, // "ok" / "unreachable" / "error" / "malformed"
	)

	ScoringRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scoring_request_duration_seconds",
			Help:      "Scoring request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	ScoringMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_matches_total",
			Help:      "Pair scores returned by scoring sources",
		},
		[]string{"source"},
	)

	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Per-side match commits",
		},
		[]string{"side", "status"}, // side: "lost" / "found"; status: "applied" / "unchanged" / "failed"
	)

	PendingCommits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_commits",
			Help:      "Half-applied matches waiting for replay",
		},
	)
)

var registerOnce sync.Once

// RegisterCoordinatorMetrics registers coordinator metrics. Must be called once from main.
func RegisterCoordinatorMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CyclesTotal,
			CycleDuration,
			ScoringRequestsTotal,
			ScoringRequestDuration,
			ScoringMatchesTotal,
			CommitsTotal,
			PendingCommits,
		)
	})
}
