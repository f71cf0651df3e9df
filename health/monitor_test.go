package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorUpdateAndGet(t *testing.T) {
	m := NewMonitor()

	m.UpdateHealthy("ingest", "reading decoder")
	m.UpdateUnhealthy("store", "snapshot failing")

	status, ok := m.Get("ingest")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())
	assert.Equal(t, "ingest", status.Component)

	_, ok = m.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, 2, m.Count())
}

func TestAggregateHealth(t *testing.T) {
	m := NewMonitor()

	m.UpdateHealthy("ingest", "ok")
	m.UpdateHealthy("hub", "ok")

	agg := m.AggregateHealth("p2000")
	assert.True(t, agg.IsHealthy())
	assert.Len(t, agg.SubStatuses, 2)
	// Stable ordering by component name
	assert.Equal(t, "hub", agg.SubStatuses[0].Component)

	m.UpdateDegraded("store", "flush retrying")
	agg = m.AggregateHealth("p2000")
	assert.True(t, agg.IsDegraded())

	m.UpdateUnhealthy("ingest", "stream lost")
	agg = m.AggregateHealth("p2000")
	assert.True(t, agg.IsUnhealthy())
}

func TestAggregateEmpty(t *testing.T) {
	m := NewMonitor()
	agg := m.AggregateHealth("p2000")
	assert.True(t, agg.IsHealthy())
}

func TestRemove(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("gateway", "ok")
	m.Remove("gateway")
	_, ok := m.Get("gateway")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())
}
