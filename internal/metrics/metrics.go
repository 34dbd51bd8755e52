// Package metrics provides Prometheus instrumentation for the gateway.
//
// Key metrics:
//   - live connections and handshake outcomes
//   - inbound events by name and outcome
//   - broadcasts by scope and dropped outbound messages
//   - scheduler tick durations and per-tenant dashboard failures
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "pulse"

// Metrics holds every gateway collector. The zero value is not usable; use New.
type Metrics struct {
	Connections       prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	AuthRejections    *prometheus.CounterVec
	Events            *prometheus.CounterVec
	Broadcasts        *prometheus.CounterVec
	DroppedMessages   prometheus.Counter
	TickDuration      *prometheus.HistogramVec
	DashboardFailures prometheus.Counter
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Currently registered connections.",
		}),
		ConnectionsTotal: newCounter("gateway", "connections_total", "Connections accepted since start."),
		AuthRejections:   newCounterVec("gateway", "auth_rejections_total", "Handshakes refused, by reason.", []string{"reason"}),
		Events:           newCounterVec("router", "events_total", "Inbound client events, by event and outcome.", []string{"event", "outcome"}),
		Broadcasts:       newCounterVec("gateway", "broadcasts_total", "Outbound broadcasts, by scope.", []string{"scope"}),
		DroppedMessages:  newCounter("gateway", "dropped_messages_total", "Outbound messages dropped because a client buffer was full or closed."),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks, by job.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"job"}),
		DashboardFailures: newCounter("scheduler", "dashboard_failures_total", "Per-tenant dashboard snapshots replaced by a degraded payload."),
	}
	if reg != nil {
		reg.MustRegister(
			m.Connections,
			m.ConnectionsTotal,
			m.AuthRejections,
			m.Events,
			m.Broadcasts,
			m.DroppedMessages,
			m.TickDuration,
			m.DashboardFailures,
		)
	}
	return m
}

// NewRegistry returns a registry pre-loaded with Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
