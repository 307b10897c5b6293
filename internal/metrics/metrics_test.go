package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[f.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[f.GetName()] += m.GetGauge().GetValue()
			}
		}
	}
	return values
}

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionsCreated.Inc()
	m.ActiveSessions.Set(3)
	m.EventsEmitted.Add(5)
	m.ModuleRuns.WithLabelValues("security-baseline", "passed").Inc()
	m.StepsExecuted.WithLabelValues("succeeded").Inc()
	m.DeliveryTotal.WithLabelValues("completed").Inc()

	values := gatherValues(t, reg)
	assert.Equal(t, float64(1), values["scaffoldd_sessions_created_total"])
	assert.Equal(t, float64(3), values["scaffoldd_sessions_active"])
	assert.Equal(t, float64(5), values["scaffoldd_events_emitted_total"])
	assert.Equal(t, float64(1), values["scaffoldd_module_runs_total"])
	assert.Equal(t, float64(1), values["scaffoldd_steps_executed_total"])
	assert.Equal(t, float64(1), values["scaffoldd_deliveries_total"])
}

func TestNewTestUsesPrivateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	a := NewTest()
	a.SessionsCreated.Inc()
	a.SessionsCreated.Inc()

	values := gatherValues(t, reg)
	assert.Equal(t, float64(0), values["scaffoldd_sessions_created_total"])
}
