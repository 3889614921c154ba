// Package telemetry exports the controller state as Prometheus metrics and
// MQTT messages.
package telemetry

import (
	"net/http"

	"github.com/itohio/golevel/pkg/control"
	"github.com/itohio/golevel/pkg/meter"
	"github.com/itohio/golevel/pkg/tank"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "tank_"

	resultFresh = "fresh"
	resultStale = "stale"
)

// Metrics holds the controller collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	height         *prometheus.GaugeVec
	filling        *prometheus.GaugeVec
	draining       *prometheus.GaugeVec
	controlEnabled *prometheus.GaugeVec

	valveCommands     *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	transportRequests *prometheus.CounterVec
	signalsDropped    *prometheus.CounterVec
}

// NewMetrics creates and registers the controller metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		height: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "height_cm",
				Help: "Smoothed liquid height in centimetres",
			},
			[]string{"tank"},
		),
		filling: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "filling",
				Help: "1 while the measurement loop considers the tank filling",
			},
			[]string{"tank"},
		),
		draining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "draining",
				Help: "1 while the measurement loop considers the tank draining",
			},
			[]string{"tank"},
		),
		controlEnabled: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "control_enabled",
				Help: "1 while the measurement loop has control enabled",
			},
			[]string{"tank"},
		),
		valveCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "valve_commands_total",
				Help: "Valve commands applied by the actuators",
			},
			[]string{"tank", "command"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "control_transitions_total",
				Help: "Completed supervisor transitions by target state",
			},
			[]string{"state"},
		),
		transportRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "transport_requests_total",
				Help: "Transport height requests by tank and reading freshness",
			},
			[]string{"tank", "result"},
		),
		signalsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "signals_dropped_total",
				Help: "Valve commands that did not reach an actuator mailbox",
			},
			[]string{"tank"},
		),
	}

	m.registry.MustRegister(
		m.height,
		m.filling,
		m.draining,
		m.controlEnabled,
		m.valveCommands,
		m.transitions,
		m.transportRequests,
		m.signalsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Pre-create label sets so series exist before the first event.
	for _, id := range tank.IDs {
		for _, cmd := range tank.Commands {
			m.valveCommands.WithLabelValues(id.String(), cmd.String())
		}
		m.transportRequests.WithLabelValues(id.String(), resultFresh)
		m.transportRequests.WithLabelValues(id.String(), resultStale)
		m.signalsDropped.WithLabelValues(id.String())
	}
	m.transitions.WithLabelValues(control.Enabled.String())
	m.transitions.WithLabelValues(control.Disabled.String())

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSnapshot records the result of a measurement cycle.
func (m *Metrics) ObserveSnapshot(s meter.Snapshot) {
	label := s.Tank.String()
	m.height.WithLabelValues(label).Set(float64(s.Height))
	m.filling.WithLabelValues(label).Set(boolValue(s.Filling))
	m.draining.WithLabelValues(label).Set(boolValue(s.Draining))
	m.controlEnabled.WithLabelValues(label).Set(boolValue(s.ControlEnabled))
	if s.Dropped > 0 {
		m.signalsDropped.WithLabelValues(label).Add(float64(s.Dropped))
	}
}

// ObserveCommand records a valve command applied by an actuator.
func (m *Metrics) ObserveCommand(id tank.ID, cmd tank.ValveCommand) {
	m.valveCommands.WithLabelValues(id.String(), cmd.String()).Inc()
}

// ObserveTransition records a completed supervisor transition.
func (m *Metrics) ObserveTransition(st control.State) {
	m.transitions.WithLabelValues(st.String()).Inc()
}

// ObserveRequest records a transport request for one tank.
func (m *Metrics) ObserveRequest(id tank.ID, fresh bool) {
	result := resultStale
	if fresh {
		result = resultFresh
	}
	m.transportRequests.WithLabelValues(id.String(), result).Inc()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
