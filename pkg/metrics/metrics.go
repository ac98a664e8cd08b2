// Package metrics holds the Prometheus collectors shared by the negotiation runtime.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "negotiator"

type Metrics struct {
	registry *prometheus.Registry

	Turns            *prometheus.CounterVec
	ForcedExits      *prometheus.CounterVec
	ClassifierResult *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	Interrupts       *prometheus.CounterVec
	BenchmarkUpdates prometheus.Counter
	PipelineSteps    *prometheus.CounterVec
	CallDuration     prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Negotiation turns processed, by resulting phase.",
		}, []string{"phase"}),
		ForcedExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_exits_total",
			Help:      "Policy-driven call exits, by reason.",
		}, []string{"reason"}),
		ClassifierResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_results_total",
			Help:      "Intent classifications, by source (llm, heuristic).",
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hitl_cache_lookups_total",
			Help:      "HITL cache lookups, by result (hit, miss, error).",
		}, []string{"result"}),
		Interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hitl_interrupts_total",
			Help:      "Human interrupts, by outcome (created, answered, timeout, cancelled).",
		}, []string{"outcome"}),
		BenchmarkUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "benchmark_updates_total",
			Help:      "Times the session benchmark price improved.",
		}),
		PipelineSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_steps_total",
			Help:      "Orchestration steps executed, by step and outcome.",
		}, []string{"step", "outcome"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Vendor call duration.",
			Buckets:   []float64{15, 30, 60, 120, 240, 480},
		}),
	}

	m.registry.MustRegister(
		m.Turns,
		m.ForcedExits,
		m.ClassifierResult,
		m.CacheLookups,
		m.Interrupts,
		m.BenchmarkUpdates,
		m.PipelineSteps,
		m.CallDuration,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The recorders below accept a nil receiver so components can run without metrics.

func (m *Metrics) TurnProcessed(phase string) {
	if m != nil {
		m.Turns.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) ForcedExit(reason string) {
	if m != nil {
		m.ForcedExits.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Classified(source string) {
	if m != nil {
		m.ClassifierResult.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) CacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Interrupt(outcome string) {
	if m != nil {
		m.Interrupts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) BenchmarkImproved() {
	if m != nil {
		m.BenchmarkUpdates.Inc()
	}
}

func (m *Metrics) Step(step, outcome string) {
	if m != nil {
		m.PipelineSteps.WithLabelValues(step, outcome).Inc()
	}
}

func (m *Metrics) CallFinished(d time.Duration) {
	if m != nil {
		m.CallDuration.Observe(d.Seconds())
	}
}
