// Package metrics holds the Prometheus collectors exported by the listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signalbox"

// Metrics is a private registry plus the collectors signalbox updates.
type Metrics struct {
	Registry *prometheus.Registry

	Updates          *prometheus.CounterVec // by kind: message, callback, ignored
	Routes           *prometheus.CounterVec // by route: command, shorthand, prefix, default, error
	ApprovalOutcomes *prometheus.CounterVec // by outcome: responded, already_resolved, not_found, invalid
	TransportErrors  prometheus.Counter
	MaintenanceRuns  prometheus.Counter
	SessionsRemoved  prometheus.Counter
	ActiveSessions   prometheus.Gauge
	Cursor           prometheus.Gauge
}

// New creates and registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Inbound chat updates processed by the listener.",
		}, []string{"kind"}),
		Routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routed_messages_total",
			Help:      "Operator messages by the router path that handled them.",
		}, []string{"route"}),
		ApprovalOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_callbacks_total",
			Help:      "Approval button presses by outcome.",
		}, []string{"outcome"}),
		TransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Failed long-poll calls to the chat platform.",
		}),
		MaintenanceRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Completed maintenance passes.",
		}),
		SessionsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_removed_total",
			Help:      "Sessions unregistered by dead or stale cleanup.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Active sessions at the last maintenance pass or status request.",
		}),
		Cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "update_cursor",
			Help:      "Last persisted transport update ID.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Updates,
		m.Routes,
		m.ApprovalOutcomes,
		m.TransportErrors,
		m.MaintenanceRuns,
		m.SessionsRemoved,
		m.ActiveSessions,
		m.Cursor,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
