package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// namespace prefixes every metric name.
const namespace = "graylogic_camera"

// Command results used as the "result" label.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the Prometheus collectors for the camera bridge.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Metrics struct {
	registry *prometheus.Registry

	commands    *prometheus.CounterVec
	available   *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	events      *prometheus.CounterVec
	errorCount  *prometheus.GaugeVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Camera API commands by camera, command and result.",
		}, []string{"camera", "command", "result"}),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available",
			Help:      "1 if the camera is available, 0 otherwise.",
		}, []string{"camera"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Availability transitions by camera and new state.",
		}, []string{"camera", "state"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events received from camera event streams by camera and code.",
		}, []string{"camera", "code"}),
		errorCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_errors",
			Help:      "Current consecutive command error count per camera.",
		}, []string{"camera"}),
	}

	m.registry.MustRegister(
		m.commands,
		m.available,
		m.transitions,
		m.events,
		m.errorCount,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCommand counts a camera command by outcome.
func (m *Metrics) ObserveCommand(camera, command string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.commands.WithLabelValues(camera, command, result).Inc()
}

// SetErrorCount records the camera's consecutive error count.
func (m *Metrics) SetErrorCount(camera string, count int) {
	m.errorCount.WithLabelValues(camera).Set(float64(count))
}

// SetAvailable records the current availability without counting a transition.
func (m *Metrics) SetAvailable(camera string, available bool) {
	m.available.WithLabelValues(camera).Set(boolToFloat(available))
}

// ObserveTransition records an availability edge.
func (m *Metrics) ObserveTransition(camera string, available bool) {
	m.SetAvailable(camera, available)
	m.transitions.WithLabelValues(camera, stateLabel(available)).Inc()
}

// ObserveEvent counts a camera event.
func (m *Metrics) ObserveEvent(camera, code string) {
	m.events.WithLabelValues(camera, code).Inc()
}

func stateLabel(available bool) string {
	if available {
		return "online"
	}
	return "offline"
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
