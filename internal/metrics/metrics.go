// Package metrics registers the Prometheus collectors both binaries expose
// at /metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector this service registers.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	TransitionsTotal *prometheus.CounterVec
	TickDuration     prometheus.Histogram
	EngineStateGauge *prometheus.GaugeVec
}

// New constructs and registers a fresh Metrics against registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rucat_http_requests_total",
			Help: "Total HTTP requests handled by the API server.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rucat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rucat_engine_transitions_total",
			Help: "Total engine state transitions committed by the monitor.",
		}, []string{"from", "to"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rucat_monitor_tick_duration_seconds",
			Help:    "Duration of one monitor reconcile tick.",
			Buckets: prometheus.DefBuckets,
		}),
		EngineStateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rucat_engines_in_state",
			Help: "Number of engines currently observed in each state.",
		}, []string{"state"}),
	}
	registerer.MustRegister(m.RequestsTotal, m.RequestDuration, m.TransitionsTotal, m.TickDuration, m.EngineStateGauge)
	return m
}

// ObserveTransition records a committed state transition.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveTickDuration records how long one monitor tick took.
func (m *Metrics) ObserveTickDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(d.Seconds())
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// SetEngineStateCount updates the engines-per-state gauge.
func (m *Metrics) SetEngineStateCount(state string, count int) {
	if m == nil {
		return
	}
	m.EngineStateGauge.WithLabelValues(state).Set(float64(count))
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
)

// Default returns a process-wide Metrics registered against the default
// Prometheus registry, lazily created on first use. Both binaries call
// SetDefault during startup with a registry-bound instance; Default falls
// back to a self-registered one (useful in tests) if SetDefault was never
// called.
func Default() *Metrics {
	defaultOnce.Do(func() {
		if defaultM == nil {
			defaultM = New(prometheus.DefaultRegisterer)
		}
	})
	return defaultM
}

// SetDefault installs m as the process-wide default, for use by cmd/* during
// startup before any other package calls Default().
func SetDefault(m *Metrics) {
	defaultM = m
}
