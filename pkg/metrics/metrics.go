// Package metrics exposes the daemon's Prometheus collectors.
//
// Every daemon owns its own registry so tests and embedded uses never
// collide on the global one. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mockctl"

// Transition results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	engineRunning  prometheus.Gauge
	rollbacks      prometheus.Counter
	engineRequests *prometheus.CounterVec
	recordings     prometheus.Gauge
}

// New creates collectors registered on a fresh registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Toggle transitions applied by the control surface.",
		}, []string{"operation", "result"}),
		engineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_running",
			Help:      "1 while the mock engine is serving.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_rollbacks_total",
			Help:      "Desired states rolled back after a failed read-back.",
		}),
		engineRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Requests served by the mock engine by outcome.",
		}, []string{"outcome"}),
		recordings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recordings",
			Help:      "Recorded missing requests currently held.",
		}),
	}
	reg.MustRegister(
		m.transitions,
		m.engineRunning,
		m.rollbacks,
		m.engineRequests,
		m.recordings,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Transition counts one applied transition.
func (m *Metrics) Transition(operation string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.transitions.WithLabelValues(operation, result).Inc()
}

// EngineRunning sets the running gauge.
func (m *Metrics) EngineRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.engineRunning.Set(1)
	} else {
		m.engineRunning.Set(0)
	}
}

// Rollback counts one reconciler rollback.
func (m *Metrics) Rollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

// EngineRequest counts one engine request by outcome.
func (m *Metrics) EngineRequest(outcome string) {
	if m == nil {
		return
	}
	m.engineRequests.WithLabelValues(outcome).Inc()
}

// Recordings sets the recordings gauge.
func (m *Metrics) Recordings(count int) {
	if m == nil {
		return
	}
	m.recordings.Set(float64(count))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
