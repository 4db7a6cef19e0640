package safemode

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/audit"
	"github.com/sawpanic/tradegate/internal/persist"
)

var t0 = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

var calm = Inputs{SpreadBps: 5, DepthRatio: 1.0, LatencyMs: 50}

// stressed scores exactly onto the ALERT cut with defaults:
// spread tier2*w2 + latency tier2*w1 = 6.
var stressed = Inputs{SpreadBps: 45, DepthRatio: 1.0, LatencyMs: 450}

func TestUpgradeIsImmediate(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)

	res := m.Evaluate(stressed, t0)
	assert.Equal(t, LevelAlert, res.Level)
	assert.True(t, res.Changed)
	assert.ElementsMatch(t, []string{"spread", "latency"}, res.Reasons)
}

func TestVacuumBonusWhenSpreadAndDepthCoOccur(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)

	// spread tier2*2 + depth tier2*2 + vacuum bonus 3 = 11 -> HIGH_ALERT.
	res := m.Evaluate(Inputs{SpreadBps: 45, DepthRatio: 0.45, LatencyMs: 50}, t0)
	assert.Equal(t, LevelHighAlert, res.Level)
	assert.Contains(t, res.Reasons, "liquidity_vacuum")
}

func TestDowngradeNeedsDwellAndStability(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)
	require.Equal(t, LevelAlert, m.Evaluate(stressed, t0).Level)

	// Calm reading right away: inside min dwell, no downgrade.
	res := m.Evaluate(calm, t0.Add(30*time.Second))
	assert.Equal(t, LevelAlert, res.Level)

	// Past min dwell but the lower level has only just been re-observed:
	// the stability clock restarts whenever the computed level moves.
	m2 := NewMonitor(DefaultConfig(), nil, nil)
	require.Equal(t, LevelAlert, m2.Evaluate(stressed, t0).Level)
	m2.Evaluate(calm, t0.Add(3*time.Minute)) // starts stability window
	res = m2.Evaluate(calm, t0.Add(3*time.Minute+30*time.Second))
	assert.Equal(t, LevelAlert, res.Level, "stable window not yet elapsed")

	res = m2.Evaluate(calm, t0.Add(5*time.Minute))
	assert.Equal(t, LevelNormal, res.Level)
	assert.True(t, res.Changed)
}

func TestStabilityClockResetsWhenComputedLevelMoves(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)
	require.Equal(t, LevelAlert, m.Evaluate(stressed, t0).Level)

	// spread tier1*2 + latency tier1*1 = 3 -> PRE_ALERT
	preAlert := Inputs{SpreadBps: 25, DepthRatio: 1.0, LatencyMs: 200}

	m.Evaluate(preAlert, t0.Add(3*time.Minute))                    // stable-below = PRE_ALERT
	m.Evaluate(calm, t0.Add(3*time.Minute+40*time.Second))         // computed moves to NORMAL: clock resets
	res := m.Evaluate(calm, t0.Add(3*time.Minute+100*time.Second)) // only 60s stable at NORMAL
	assert.Equal(t, LevelAlert, res.Level)

	res = m.Evaluate(calm, t0.Add(6*time.Minute))
	assert.Equal(t, LevelNormal, res.Level)
}

func TestTradingHaltShortCircuitsToCritical(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)

	res := m.Evaluate(Inputs{TradingHalt: true, DepthRatio: 1.0}, t0)
	assert.Equal(t, LevelCritical, res.Level)
	assert.Contains(t, res.Reasons, "trading_halt")
	assert.True(t, res.Actions.BlockNewEntries)
}

func TestLatencyOutageShortCircuitsToCritical(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)
	res := m.Evaluate(Inputs{LatencyMs: 6000, DepthRatio: 1.0}, t0)
	assert.Equal(t, LevelCritical, res.Level)
	assert.Contains(t, res.Reasons, "latency_outage")
}

func TestForcedOverrideWinsUntilExpiry(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)

	m.Force(LevelHighAlert, "degradation_monitor", t0.Add(10*time.Minute))

	res := m.Evaluate(calm, t0)
	assert.Equal(t, LevelHighAlert, res.Level)
	assert.True(t, res.Forced)

	// After expiry the computed level takes over again (downgrade needs the
	// usual hysteresis, so run it past both windows).
	m.Evaluate(calm, t0.Add(11*time.Minute))
	res = m.Evaluate(calm, t0.Add(15*time.Minute))
	assert.Equal(t, LevelNormal, res.Level)
	assert.False(t, res.Forced)
}

func TestForcedOverridePersistsAcrossRestart(t *testing.T) {
	store := persist.NewFileStore(t.TempDir())
	m := NewMonitor(DefaultConfig(), store, nil)
	m.Force(LevelCritical, "manual", time.Time{})

	m2 := NewMonitor(DefaultConfig(), store, nil)
	res := m2.Evaluate(calm, t0)
	assert.Equal(t, LevelCritical, res.Level)
	assert.True(t, res.Forced)

	m2.ClearForce()
	m3 := NewMonitor(DefaultConfig(), store, nil)
	assert.Nil(t, m3.Snapshot().Forced)
}

func TestLevelChangeEmitsAuditEvent(t *testing.T) {
	var buf bytes.Buffer
	m := NewMonitor(DefaultConfig(), nil, audit.NewWriterLogger(&buf))

	m.Evaluate(stressed, t0)

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "safemode_level_change")
	assert.Contains(t, out, `"to":"ALERT"`)
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestMissingActionEntryFailsClosed(t *testing.T) {
	cfg := DefaultConfig()
	delete(cfg.Actions, "ALERT")
	m := NewMonitor(cfg, nil, nil)

	res := m.Evaluate(stressed, t0)
	assert.Equal(t, 0.0, res.Actions.SizeMultiplier)
	assert.True(t, res.Actions.BlockNewEntries)
}

func TestParseLevelRoundTrip(t *testing.T) {
	for _, l := range []Level{LevelNormal, LevelPreAlert, LevelAlert, LevelHighAlert, LevelCritical} {
		parsed, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}
	_, err := ParseLevel("bogus")
	assert.Error(t, err)
}
