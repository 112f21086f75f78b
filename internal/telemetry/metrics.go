// Package telemetry exposes Prometheus metrics and the optional
// observability HTTP endpoint.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts executor activity. All record methods are safe to
// call on a nil receiver, so metrics stay optional throughout.
type Metrics struct {
	commandDuration     *prometheus.HistogramVec
	evals               *prometheus.CounterVec
	persistenceFailures prometheus.Counter
	customTools         prometheus.Gauge
	discoveredTools     prometheus.Gauge
}

// NewMetrics registers the executor metrics with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tclmcp_command_duration_seconds",
				Help:    "Duration of executor commands in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"command", "status"},
		),
		evals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tclmcp_script_evals_total",
				Help: "Total number of interpreter evaluations",
			},
			[]string{"status"},
		),
		persistenceFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tclmcp_persistence_failures_total",
				Help: "Total number of best-effort persistence failures",
			},
		),
		customTools: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tclmcp_custom_tools",
				Help: "Current number of registered custom tools",
			},
		),
		discoveredTools: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tclmcp_discovered_tools",
				Help: "Current number of discovered filesystem tools",
			},
		),
	}
}

func (m *Metrics) ObserveCommand(command string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.commandDuration.WithLabelValues(command, statusLabel(err)).Observe(duration.Seconds())
}

func (m *Metrics) ObserveEval(err error) {
	if m == nil {
		return
	}
	m.evals.WithLabelValues(statusLabel(err)).Inc()
}

func (m *Metrics) ObservePersistenceFailure() {
	if m == nil {
		return
	}
	m.persistenceFailures.Inc()
}

func (m *Metrics) SetToolCounts(custom, discovered int) {
	if m == nil {
		return
	}
	m.customTools.Set(float64(custom))
	m.discoveredTools.Set(float64(discovered))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
