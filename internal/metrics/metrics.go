// Package metrics exposes Prometheus instruments for boundary calls.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MJE43/eden-env/internal/bridge"
	"github.com/MJE43/eden-env/internal/nested"
)

// Call outcomes used as the "outcome" label.
const (
	OutcomeOK            = "ok"
	OutcomeTypeMismatch  = "type_mismatch"
	OutcomeShapeMismatch = "shape_mismatch"
	OutcomeEngineError   = "engine_error"
	OutcomeError         = "error"
)

// Metrics holds the instruments on their own registry.
type Metrics struct {
	registry *prometheus.Registry
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	active   prometheus.Gauge
}

// New creates the instruments and registers them, along with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eden_boundary_calls_total",
			Help: "Boundary calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eden_boundary_call_seconds",
			Help:    "Boundary call latency, conversion plus engine time.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eden_active_envs",
			Help: "Environments currently open.",
		}),
	}
	m.registry.MustRegister(
		m.calls,
		m.latency,
		m.active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Outcome classifies a boundary call error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, nested.ErrRagged):
		return OutcomeShapeMismatch
	case errors.Is(err, nested.ErrTypeMismatch):
		return OutcomeTypeMismatch
	case bridge.IsEngineError(err):
		return OutcomeEngineError
	}
	return OutcomeError
}

// ObserveCall records one call to op that started at start.
func (m *Metrics) ObserveCall(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(op, Outcome(err)).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// EnvOpened and EnvClosed track the active environment gauge.
func (m *Metrics) EnvOpened() {
	if m != nil {
		m.active.Inc()
	}
}

func (m *Metrics) EnvClosed() {
	if m != nil {
		m.active.Dec()
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
