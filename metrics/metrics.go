// Package metrics exposes Prometheus instrumentation for the governance engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for governance runs. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Runs accepted from the bus
	RunsStarted prometheus.Counter

	// Terminal runs by final outcome
	RunOutcomes *prometheus.CounterVec

	// Runs routed to a reviewer
	Escalations prometheus.Counter

	// Scorer call latency by result
	AssessmentLatency *prometheus.HistogramVec

	// Scorer retries after a transient failure
	AssessmentRetries prometheus.Counter

	// Decisions dropped by reason: duplicate, late, unknown
	DecisionsDiscarded *prometheus.CounterVec

	// Runs expired by the reaper or a late decision
	Expirations prometheus.Counter
}

// New registers all metrics on reg; a nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "atlas_runs_started_total",
			Help: "Total governance runs created",
		}),
		RunOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_run_outcomes_total",
			Help: "Total terminal governance runs by final outcome",
		}, []string{"outcome"}),
		Escalations: factory.NewCounter(prometheus.CounterOpts{
			Name: "atlas_escalations_total",
			Help: "Total runs suspended for human review",
		}),
		AssessmentLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atlas_assessment_duration_seconds",
			Help:    "Duration of risk scorer calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"result"}),
		AssessmentRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "atlas_assessment_retries_total",
			Help: "Total risk scorer retries after transient failures",
		}),
		DecisionsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_decisions_discarded_total",
			Help: "Total reviewer decisions discarded by reason",
		}, []string{"reason"}),
		Expirations: factory.NewCounter(prometheus.CounterOpts{
			Name: "atlas_expirations_total",
			Help: "Total runs expired without a timely decision",
		}),
	}
}

func (m *Metrics) IncRunStarted() {
	if m != nil {
		m.RunsStarted.Inc()
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	if m != nil {
		m.RunOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncEscalation() {
	if m != nil {
		m.Escalations.Inc()
	}
}

// ObserveAssessment records one scorer call; result is "ok" or "error".
func (m *Metrics) ObserveAssessment(result string, d time.Duration) {
	if m != nil {
		m.AssessmentLatency.WithLabelValues(result).Observe(d.Seconds())
	}
}

func (m *Metrics) IncAssessmentRetry() {
	if m != nil {
		m.AssessmentRetries.Inc()
	}
}

func (m *Metrics) IncDecisionDiscarded(reason string) {
	if m != nil {
		m.DecisionsDiscarded.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncExpiration() {
	if m != nil {
		m.Expirations.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
