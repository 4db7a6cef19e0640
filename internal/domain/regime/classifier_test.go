package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/persist"
	"github.com/sawpanic/tradegate/internal/timeutil"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.ConfirmPeriods = 3
	cfg.MinDwell = 0
	return cfg
}

var eventFeatures = Features{EventActive: true}

func TestSwitchRequiresConfirmationStreak(t *testing.T) {
	c := NewClassifier(fastConfig(), nil)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	start := c.Snapshot().Label

	// First two qualifying cycles hold the committed label.
	for i := 0; i < 2; i++ {
		det := c.Update(eventFeatures, now.Add(time.Duration(i)*time.Minute))
		assert.Equal(t, start, det.Label, "cycle %d must not switch yet", i)
		assert.True(t, det.TransitionZone)
		assert.Equal(t, trade.RegimeEventDominated, det.Candidate)
	}

	// Third confirmation commits.
	det := c.Update(eventFeatures, now.Add(2*time.Minute))
	assert.Equal(t, trade.RegimeEventDominated, det.Label)
	assert.False(t, det.TransitionZone)
}

func TestSwitchRequiresMinimumDwell(t *testing.T) {
	cfg := fastConfig()
	cfg.MinDwell = timeutil.Duration(time.Hour)
	c := NewClassifier(cfg, nil)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	start := c.Snapshot().Label
	for i := 0; i < 10; i++ {
		det := c.Update(eventFeatures, now.Add(time.Duration(i)*time.Minute))
		assert.Equal(t, start, det.Label)
		assert.True(t, det.TransitionZone)
	}

	// Past the dwell window the streak is already long enough.
	det := c.Update(eventFeatures, now.Add(2*time.Hour))
	assert.Equal(t, trade.RegimeEventDominated, det.Label)
}

func TestInterruptedStreakResets(t *testing.T) {
	c := NewClassifier(fastConfig(), nil)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	start := c.Snapshot().Label

	c.Update(eventFeatures, now)
	c.Update(eventFeatures, now.Add(time.Minute))

	// An in-line cycle (candidate == committed) clears the pending streak.
	c.Update(Features{}, now.Add(2*time.Minute))

	det := c.Update(eventFeatures, now.Add(3*time.Minute))
	assert.Equal(t, start, det.Label)
	assert.Equal(t, 1, c.Snapshot().ConfirmCount)
}

func TestConfidenceBoundsAndSwitchPenalty(t *testing.T) {
	cfg := fastConfig()
	cfg.SwitchPenalty = 40
	c := NewClassifier(cfg, nil)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	var det Detection
	for i := 0; i < 3; i++ {
		det = c.Update(eventFeatures, now.Add(time.Duration(i)*time.Minute))
	}
	require.Equal(t, trade.RegimeEventDominated, det.Label)

	assert.GreaterOrEqual(t, det.Confidence, 0.0)
	assert.LessOrEqual(t, det.Confidence, 100.0)

	// Right after a switch the stability penalty applies.
	afterSwitch := c.Update(eventFeatures, now.Add(4*time.Minute))
	noPenalty := cfg
	noPenalty.SwitchPenalty = 0
	clean := NewClassifier(noPenalty, nil)
	for i := 0; i < 4; i++ {
		clean.Update(eventFeatures, now.Add(time.Duration(i)*time.Minute))
	}
	cleanDet := clean.Update(eventFeatures, now.Add(4*time.Minute))
	assert.Less(t, afterSwitch.Confidence, cleanDet.Confidence)
}

func TestScoresSumPerLabel(t *testing.T) {
	c := NewClassifier(fastConfig(), nil)
	f := Features{
		VolDivergenceZ:    2.5, // vol expansion vote
		CrossAssetRiskOff: true,
	}
	det := c.Update(f, time.Now())

	cfg := fastConfig()
	want := cfg.VolDivergenceWeight + cfg.CrossAssetWeight
	assert.InDelta(t, want, det.Scores[trade.RegimeVolatilityExpansion], 1e-9)
}

func TestStateSurvivesRestart(t *testing.T) {
	store := persist.NewFileStore(t.TempDir())
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	c := NewClassifier(fastConfig(), store)
	for i := 0; i < 3; i++ {
		c.Update(eventFeatures, now.Add(time.Duration(i)*time.Minute))
	}
	require.Equal(t, trade.RegimeEventDominated, c.Snapshot().Label)

	reloaded := NewClassifier(fastConfig(), store)
	assert.Equal(t, trade.RegimeEventDominated, reloaded.Snapshot().Label)
	assert.Equal(t, now.Add(2*time.Minute).UTC(), reloaded.Snapshot().EnteredAt.UTC())
}

func TestControlsDownscaleOnLowConfidence(t *testing.T) {
	full := ControlsFor(trade.RegimeDirectionalExpansion, 80)
	half := ControlsFor(trade.RegimeDirectionalExpansion, 40)

	assert.Equal(t, 1.0, full.StrategyWeights["momentum"])
	assert.Equal(t, 0.5, half.StrategyWeights["momentum"])
	assert.Equal(t, full.Posture, half.Posture)
}

func TestControlsUnknownRegimeFailsClosed(t *testing.T) {
	c := ControlsFor(trade.Regime("made_up"), 90)
	assert.Empty(t, c.StrategyWeights)
	assert.Equal(t, "passive", c.Posture)
}
