// Package metrics defines the Prometheus collectors shared by the
// orchestrator and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every scaffoldd collector.
type Metrics struct {
	SessionsCreated prometheus.Counter
	ActiveSessions  prometheus.Gauge
	EventsEmitted   prometheus.Counter
	ModuleRuns      *prometheus.CounterVec
	StepsExecuted   *prometheus.CounterVec
	DeliveryTotal   *prometheus.CounterVec
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scaffoldd",
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scaffoldd",
			Name:      "sessions_active",
			Help:      "Sessions currently registered.",
		}),
		EventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scaffoldd",
			Name:      "events_emitted_total",
			Help:      "Progress events published to session streams.",
		}),
		ModuleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scaffoldd",
			Name:      "module_runs_total",
			Help:      "Compliance module executions by module and outcome.",
		}, []string{"module", "outcome"}),
		StepsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scaffoldd",
			Name:      "steps_executed_total",
			Help:      "Plan steps executed by outcome.",
		}, []string{"outcome"}),
		DeliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scaffoldd",
			Name:      "deliveries_total",
			Help:      "Sessions reaching a terminal state by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.SessionsCreated,
		m.ActiveSessions,
		m.EventsEmitted,
		m.ModuleRuns,
		m.StepsExecuted,
		m.DeliveryTotal,
	)
	return m
}

// NewTest creates metrics on a private registry for tests.
func NewTest() *Metrics {
	return New(prometheus.NewRegistry())
}
