package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestObserveDecisionCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDecision("BLOCK", 2*time.Millisecond)
	m.ObserveDecision("BLOCK", 1*time.Millisecond)
	m.ObserveDecision("ALLOW", 1*time.Millisecond)

	mf := gather(t, reg, "tradegate_decisions_total")
	require.NotNil(t, mf)

	counts := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		counts[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, 2.0, counts["BLOCK"])
	assert.Equal(t, 1.0, counts["ALLOW"])
}

func TestSafeModeLevelGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetSafeModeLevel(3)
	mf := gather(t, reg, "tradegate_safemode_level")
	require.NotNil(t, mf)
	assert.Equal(t, 3.0, mf.GetMetric()[0].GetGauge().GetValue())

	m.SetSlippagePaused(true)
	mf = gather(t, reg, "tradegate_slippage_paused")
	require.NotNil(t, mf)
	assert.Equal(t, 1.0, mf.GetMetric()[0].GetGauge().GetValue())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDecision("ALLOW", time.Millisecond)
	m.ObserveGateBlock("throttle", "cooldown_active")
	m.SetSafeModeLevel(1)
	m.SetSlippagePaused(false)
}
