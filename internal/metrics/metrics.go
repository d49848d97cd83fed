// Package metrics holds the Prometheus instruments for proof runs and event streams.
// Every recording method is safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/lean-prover/internal/models"
)

const namespace = "lean_prover"

type Metrics struct {
	Registry *prometheus.Registry

	runs              *prometheus.CounterVec
	attempts          *prometheus.CounterVec
	retries           *prometheus.CounterVec
	verifyDuration    prometheus.Histogram
	events            *prometheus.CounterVec
	activeStreams     prometheus.Gauge
	clientDisconnects prometheus.Counter
}

// New registers all instruments on a fresh registry. Pass withRuntime to also expose Go
// runtime and process collectors.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Proof runs by terminal result",
		}, []string{"result"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "attempts_total",
			Help:      "Verification attempts by outcome",
		}, []string{"outcome"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "Generation retries by failure kind",
		}, []string{"kind"}),
		verifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lean",
			Name:      "verify_duration_seconds",
			Help:      "Lean checker wall time per candidate",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Stream events delivered by type",
		}, []string{"type"}),
		activeStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Event streams currently open",
		}),
		clientDisconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "client_disconnects_total",
			Help:      "Streams abandoned because the consumer went away",
		}),
	}
}

// RecordRun counts a finished report; the label is "success" or the failure reason.
func (m *Metrics) RecordRun(r *models.Report) {
	if m == nil || r == nil {
		return
	}
	label := "success"
	if !r.Success {
		label = string(r.FailureReason)
	}
	m.runs.WithLabelValues(label).Inc()
}

func (m *Metrics) RecordAttempt(o models.VerificationOutcome) {
	if m == nil {
		return
	}
	label := "accepted"
	if !o.Accepted {
		label = string(o.Failure)
	}
	m.attempts.WithLabelValues(label).Inc()
	m.verifyDuration.Observe(o.Elapsed.Seconds())
}

func (m *Metrics) RecordRetry(kind string, attempt int, delay time.Duration) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordEvent(t models.EventType) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(t)).Inc()
}

// StreamOpened marks a stream as active and returns the func that closes it.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}

func (m *Metrics) RecordDisconnect() {
	if m == nil {
		return
	}
	m.clientDisconnects.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
