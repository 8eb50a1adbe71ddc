package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentMetricsRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAgentMetrics(reg)

	m.RecordTick(TickPublished)
	m.RecordTick(TickPublished)
	m.RecordTick(TickSkipped)
	m.RecordCollect(3 * time.Millisecond)
	m.BlockedSamples.Inc()
	m.Peers.Set(2)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Ticks.WithLabelValues(TickPublished)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Ticks.WithLabelValues(TickSkipped)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Ticks.WithLabelValues(TickFailed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BlockedSamples))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Peers))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "healthdash_agent_ticks_total")
	assert.Contains(t, names, "healthdash_agent_collect_duration_seconds")
}

func TestAgentMetricsWithoutRegistry(t *testing.T) {
	m := NewAgentMetrics(nil)
	m.RecordTick(TickFailed)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Ticks.WithLabelValues(TickFailed)))
}

func TestProviderMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProviderMetrics(reg)

	m.SetConnected(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Connected))
	m.SetConnected(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Connected))

	m.SamplesReceived.Add(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.SamplesReceived))

	// A second registration on the same registry must fail loudly.
	assert.Panics(t, func() { NewProviderMetrics(reg) })
}
