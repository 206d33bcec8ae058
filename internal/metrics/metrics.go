// Package metrics exposes Prometheus collectors for gating round trips, commands, and notifications.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "msgbridge"

// Gate outcomes.
const (
	OutcomeAnswered       = "answered"
	OutcomeError          = "error"
	OutcomeNotImplemented = "not_implemented"
	OutcomeNotBool        = "not_bool"
	OutcomeTimeout        = "timeout"
	OutcomeCanceled       = "canceled"
	OutcomeUnavailable    = "unavailable"
)

// CodeOK labels commands that succeeded.
const CodeOK = "ok"

// Metrics holds the bridge collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	gateRequests  *prometheus.CounterVec
	gateWait      *prometheus.HistogramVec
	commands      *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New registers the bridge collectors plus the Go runtime and process collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		gateRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_requests_total",
			Help:      "Synchronous gating requests by method and outcome.",
		}, []string{"method", "outcome"}),
		gateWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gate_wait_seconds",
			Help:      "Time spent blocked waiting for a gating answer.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"method"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Runtime commands handled by method and result code.",
		}, []string{"method", "code"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Fire-and-forget lifecycle notifications sent to the runtime.",
		}, []string{"method"}),
	}
	m.registry.MustRegister(
		m.gateRequests,
		m.gateWait,
		m.commands,
		m.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterCacheSize exposes the cached message count through size.
func (m *Metrics) RegisterCacheSize(size func() int) {
	if m == nil || size == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cached_messages",
		Help:      "Messages currently held in the bridge cache.",
	}, func() float64 { return float64(size()) }))
}

// ObserveGate records one gating round trip.
func (m *Metrics) ObserveGate(method, outcome string, waited time.Duration) {
	if m == nil {
		return
	}
	m.gateRequests.WithLabelValues(method, outcome).Inc()
	m.gateWait.WithLabelValues(method).Observe(waited.Seconds())
}

// ObserveCommand records one handled runtime command.
func (m *Metrics) ObserveCommand(method, code string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(method, code).Inc()
}

// ObserveNotification records one lifecycle notification.
func (m *Metrics) ObserveNotification(method string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(method).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
