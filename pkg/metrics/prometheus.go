package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "startlimit_decisions_total",
			Help: "Admission decisions by limit tag and verdict",
		},
		[]string{"tag", "verdict"},
	)

	Skipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "startlimit_skipped_total",
			Help: "Declined pairings that could be retried against another machine",
		},
		[]string{"tag"},
	)

	Ignored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "startlimit_ignored_total",
			Help: "Requests withdrawn for the rest of a negotiation pass",
		},
		[]string{"tag"},
	)

	EvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "startlimit_evaluation_errors_total",
			Help: "Predicate or cost evaluation failures treated as not applicable",
		},
		[]string{"tag", "stage"},
	)

	BucketResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "startlimit_bucket_resets_total",
			Help: "Buckets rebuilt empty after an invariant violation",
		},
		[]string{"tag"},
	)

	LiveLimits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "startlimit_live_limits",
			Help: "Number of live limit definitions",
		},
	)

	Expired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "startlimit_expired_total",
			Help: "Limit definitions destroyed by the lifecycle sweeper",
		},
	)

	OutstandingTickets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "startlimit_outstanding_tickets",
			Help: "Tentative admissions awaiting commit or rollback in the current pass",
		},
	)
)

// ForgetTag drops every per-tag series once the tag is destroyed.
func ForgetTag(tag string) {
	labels := prometheus.Labels{"tag": tag}
	Decisions.DeletePartialMatch(labels)
	Skipped.DeletePartialMatch(labels)
	Ignored.DeletePartialMatch(labels)
	EvaluationErrors.DeletePartialMatch(labels)
	BucketResets.DeletePartialMatch(labels)
}
