package adverse

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/audit"
	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/persist"
)

var t0 = time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)

// toxicFill is instantly filled and instantly underwater: 100 -> 99.80 on a
// buy is -20 bps.
func toxicFill() Fill {
	return Fill{
		Symbol:        "SPY",
		Side:          trade.Buy,
		FillPrice:     100.00,
		PostFillPrice: 99.80,
		FillSpeedSec:  0.1,
		LatencyMs:     50,
	}
}

func cleanFill() Fill {
	return Fill{
		Symbol:        "SPY",
		Side:          trade.Buy,
		FillPrice:     100.00,
		PostFillPrice: 100.05,
		FillSpeedSec:  5.0,
		LatencyMs:     50,
	}
}

func TestFastAdverseFillIsDetected(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)

	m.RecordFill(toxicFill(), t0)

	obs := m.Snapshot().Fills
	require.Len(t, obs, 1)
	assert.True(t, obs[0].Detected)
	assert.InDelta(t, -20, obs[0].AdjustedMoveBps, 1e-6)
}

func TestSellSideMoveIsDirectionAdjusted(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)

	// Price rising after a sell is adverse.
	f := toxicFill()
	f.Side = trade.Sell
	f.PostFillPrice = 100.20
	m.RecordFill(f, t0)

	obs := m.Snapshot().Fills
	assert.InDelta(t, -20, obs[0].AdjustedMoveBps, 1e-6)
	assert.True(t, obs[0].Detected)
}

func TestScoreArmsSuppressionWindow(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)

	// All-toxic window: 40 + 40 = 80 -> pause_passive.
	var res Result
	for i := 0; i < 5; i++ {
		res = m.RecordFill(toxicFill(), t0)
	}
	assert.Equal(t, ActionPausePassive, res.Action)
	assert.False(t, res.AllowPassive)
	assert.True(t, res.AllowEntries)

	// Live window wins pre-trade, even before recomputing a score.
	check := m.CheckEntry(t0.Add(10 * time.Minute))
	assert.Equal(t, ActionPausePassive, check.Action)
	assert.Equal(t, "pause_passive_active", check.Reason)

	// Window expires after the configured 30 minutes.
	check = m.CheckEntry(t0.Add(31 * time.Minute))
	assert.NotEqual(t, "pause_passive_active", check.Reason)
}

func TestExternalSignalsPushScoreToBlock(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)

	f := toxicFill()
	f.ExternalAdverseProb = 0.9 // +15
	f.Toxicity = 0.9            // +15

	var res Result
	for i := 0; i < 3; i++ {
		res = m.RecordFill(f, t0)
	}
	// 80 + 30 = 110 -> block_entries.
	assert.Equal(t, ActionBlockEntries, res.Action)
	assert.False(t, res.AllowEntries)

	check := m.CheckEntry(t0.Add(5 * time.Minute))
	assert.Equal(t, ActionBlockEntries, check.Action)
	assert.False(t, check.AllowEntries)
}

func TestCleanWindowAllowsEverything(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)
	for i := 0; i < 10; i++ {
		m.RecordFill(cleanFill(), t0)
	}

	check := m.CheckEntry(t0)
	assert.Equal(t, ActionNone, check.Action)
	assert.True(t, check.AllowEntries)
	assert.True(t, check.AllowPassive)
	assert.Equal(t, 0.0, check.Score)
}

func TestWindowIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 5
	m := NewMonitor(cfg, nil, nil)

	for i := 0; i < 20; i++ {
		m.RecordFill(cleanFill(), t0)
	}
	assert.Len(t, m.Snapshot().Fills, 5)
}

func TestSuppressionSurvivesRestart(t *testing.T) {
	store := persist.NewFileStore(t.TempDir())
	m := NewMonitor(DefaultConfig(), store, nil)

	for i := 0; i < 5; i++ {
		m.RecordFill(toxicFill(), t0)
	}
	require.True(t, m.Snapshot().PausePassiveUntil.After(t0))

	m2 := NewMonitor(DefaultConfig(), store, nil)
	check := m2.CheckEntry(t0.Add(10 * time.Minute))
	assert.Equal(t, ActionPausePassive, check.Action)
}

func TestEveryFillEmitsAuditLine(t *testing.T) {
	var buf bytes.Buffer
	m := NewMonitor(DefaultConfig(), nil, audit.NewWriterLogger(&buf))

	m.RecordFill(toxicFill(), t0)
	m.RecordFill(cleanFill(), t0.Add(time.Minute))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"detected":true`)
	assert.Contains(t, lines[0], `"adverse_fill"`)
	assert.Contains(t, lines[1], `"detected":false`)
}
