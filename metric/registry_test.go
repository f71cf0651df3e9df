package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())

	// Core metrics must be gatherable without touching any component.
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRegisterAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2000",
		Subsystem: "test",
		Name:      "events_total",
		Help:      "test counter",
	})

	require.NoError(t, registry.RegisterCounter("hub", "events", counter))

	// Duplicate key is rejected
	err := registry.RegisterCounter("hub", "events", counter)
	require.Error(t, err)

	assert.True(t, registry.Unregister("hub", "events"))
	assert.False(t, registry.Unregister("hub", "events"))
}

func TestIndependentRegistries(t *testing.T) {
	// Two registries must not conflict - each owns a private prometheus
	// registry so parallel tests can instantiate full pipelines.
	a := NewMetricsRegistry()
	b := NewMetricsRegistry()

	a.CoreMetrics().RecordLineReceived()
	a.CoreMetrics().RecordParseError("bad_shape")
	b.CoreMetrics().RecordNATSStatus(true)

	_, err := a.PrometheusRegistry().Gather()
	require.NoError(t, err)
	_, err = b.PrometheusRegistry().Gather()
	require.NoError(t, err)
}
