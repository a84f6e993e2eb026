// Package metrics exposes the consume daemon's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gauges/counters the daemon updates every tick.
type Metrics struct {
	Registry *prometheus.Registry

	TicksTotal        prometheus.Counter
	ActiveChildren    *prometheus.GaugeVec
	CompletionsByKind *prometheus.CounterVec
	ReadyTasks        prometheus.Gauge
	BlockedTasks      prometheus.Gauge
}

// New constructs and registers the metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel",
			Name:      "ticks_total",
			Help:      "Total number of consume loop ticks processed.",
		}),
		ActiveChildren: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fuel",
			Name:      "active_children",
			Help:      "Number of live agent subprocesses, by agent.",
		}, []string{"agent"}),
		CompletionsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuel",
			Name:      "completions_total",
			Help:      "Completions processed, by classification.",
		}, []string{"classification"}),
		ReadyTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fuel",
			Name:      "ready_tasks",
			Help:      "Number of tasks currently ready to run.",
		}),
		BlockedTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fuel",
			Name:      "blocked_tasks",
			Help:      "Number of tasks currently blocked.",
		}),
	}

	reg.MustRegister(m.TicksTotal, m.ActiveChildren, m.CompletionsByKind, m.ReadyTasks, m.BlockedTasks)
	return m
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
