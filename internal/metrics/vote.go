package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VoteMetrics holds Prometheus metrics for the vote ledger.
// A nil *VoteMetrics is a valid no-op recorder.
type VoteMetrics struct {
	VotesCast       *prometheus.CounterVec
	CastDuration    *prometheus.HistogramVec
	ConflictRetries *prometheus.CounterVec
	Failures        *prometheus.CounterVec
}

// NewVoteMetrics creates and registers vote ledger metrics on the given registry.
func NewVoteMetrics(reg prometheus.Registerer) *VoteMetrics {
	m := &VoteMetrics{
		VotesCast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "Total number of committed vote casts, by target kind and outcome.",
		}, []string{"target", "outcome"}),
		CastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vote_cast_duration_seconds",
			Help:      "Duration of committed vote casts in seconds, including retries.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"target"}),
		ConflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vote_conflict_retries_total",
			Help:      "Total number of casts retried after losing a unique index race.",
		}, []string{"target"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vote_failures_total",
			Help:      "Total number of failed vote casts, by target kind and error kind.",
		}, []string{"target", "kind"}),
	}

	reg.MustRegister(m.VotesCast, m.CastDuration, m.ConflictRetries, m.Failures)
	return m
}

func (m *VoteMetrics) ObserveCast(targetKind string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.VotesCast.WithLabelValues(targetKind, outcome).Inc()
	m.CastDuration.WithLabelValues(targetKind).Observe(duration.Seconds())
}

func (m *VoteMetrics) IncConflictRetry(targetKind string) {
	if m == nil {
		return
	}
	m.ConflictRetries.WithLabelValues(targetKind).Inc()
}

func (m *VoteMetrics) IncFailure(targetKind string, kind string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(targetKind, kind).Inc()
}
