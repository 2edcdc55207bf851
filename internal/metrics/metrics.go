// Package metrics exposes dispatch loop counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "simpilot"

// Metrics holds the collectors of one dispatch loop on its own registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	datagrams          *prometheus.CounterVec
	parseWarnings      prometheus.Counter
	conflicts          *prometheus.CounterVec
	controllerErrors   *prometheus.CounterVec
	commandsSent       prometheus.Counter
	sendErrors         prometheus.Counter
	sessions           prometheus.Counter
	tickDuration       prometheus.Gauge
	enabledControllers prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		datagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_total",
			Help:      "Datagrams received, by message kind.",
		}, []string{"kind"}),
		parseWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_warnings_total",
			Help:      "Datagrams with unknown keys or malformed values.",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_conflicts_total",
			Help:      "Command fields dropped because an earlier controller set them, by losing controller.",
		}, []string{"controller"}),
		controllerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_errors_total",
			Help:      "Controller invocations that failed or panicked.",
		}, []string{"controller"}),
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Command datagrams transmitted.",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Commands that could not be encoded or sent.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Simulator sessions started.",
		}),
		tickDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Simulation time between the last two accepted frames.",
		}),
		enabledControllers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enabled_controllers",
			Help:      "Controllers currently enabled.",
		}),
	}

	m.registry.MustRegister(
		m.datagrams,
		m.parseWarnings,
		m.conflicts,
		m.controllerErrors,
		m.commandsSent,
		m.sendErrors,
		m.sessions,
		m.tickDuration,
		m.enabledControllers,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Datagram(kind string) {
	if m != nil {
		m.datagrams.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ParseWarning() {
	if m != nil {
		m.parseWarnings.Inc()
	}
}

func (m *Metrics) Conflict(controller string) {
	if m != nil {
		m.conflicts.WithLabelValues(controller).Inc()
	}
}

func (m *Metrics) ControllerError(controller string) {
	if m != nil {
		m.controllerErrors.WithLabelValues(controller).Inc()
	}
}

func (m *Metrics) CommandSent() {
	if m != nil {
		m.commandsSent.Inc()
	}
}

func (m *Metrics) SendError() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) TickDuration(seconds float64) {
	if m != nil {
		m.tickDuration.Set(seconds)
	}
}

func (m *Metrics) EnabledControllers(n int) {
	if m != nil {
		m.enabledControllers.Set(float64(n))
	}
}
