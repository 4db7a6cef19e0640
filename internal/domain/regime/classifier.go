package regime

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/persist"
	"github.com/sawpanic/tradegate/internal/stats"
)

const stateKey = "regime"

// Classifier runs the voter ensemble and the committed-label state machine.
type Classifier struct {
	mu    sync.Mutex
	cfg   Config
	state State
	store persist.Store // optional
}

// NewClassifier loads any persisted state from store (which may be nil).
// With no prior state the committed label starts at volatility_compression,
// the least permissive default for the eligibility mask.
func NewClassifier(cfg Config, store persist.Store) *Classifier {
	c := &Classifier{cfg: cfg, store: store}
	c.state = State{Label: trade.RegimeVolatilityCompression}
	if store != nil {
		var s State
		if found, err := store.Load(stateKey, &s); err == nil && found && s.Label != "" {
			c.state = s
		}
	}
	return c
}

// Update runs one classification cycle and returns the committed label plus
// transition diagnostics.
func (c *Classifier) Update(f Features, now time.Time) Detection {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.EnteredAt.IsZero() {
		c.state.EnteredAt = now
	}

	votes := c.castVotes(f)
	scores := map[trade.Regime]float64{}
	for _, r := range trade.AllRegimes {
		scores[r] = 0
	}
	for _, v := range votes {
		if v.Weight > 0 && v.Label != "" {
			scores[v.Label] += v.Weight
		}
	}

	candidate := c.state.Label
	best := scores[c.state.Label]
	for _, r := range trade.AllRegimes {
		if scores[r] > best {
			best = scores[r]
			candidate = r
		}
	}

	transition := false
	switch {
	case candidate == c.state.Label:
		c.state.Pending = ""
		c.state.ConfirmCount = 0

	case scores[candidate] > scores[c.state.Label]+c.cfg.HysteresisDelta:
		if c.state.Pending == candidate {
			c.state.ConfirmCount++
		} else {
			c.state.Pending = candidate
			c.state.ConfirmCount = 1
		}
		dwellOK := now.Sub(c.state.EnteredAt) >= c.cfg.MinDwell.Std()
		if c.state.ConfirmCount >= c.cfg.ConfirmPeriods && c.cfg.ConfirmPeriods > 0 && dwellOK {
			log.Info().
				Str("from", string(c.state.Label)).
				Str("to", string(candidate)).
				Int("confirm_count", c.state.ConfirmCount).
				Msg("regime switch committed")
			c.state.Label = candidate
			c.state.EnteredAt = now
			c.state.Pending = ""
			c.state.ConfirmCount = 0
			c.recordSwitch(now)
		} else {
			transition = true
		}

	default:
		// Candidate leads but not by enough to challenge.
		c.state.Pending = ""
		c.state.ConfirmCount = 0
	}

	confidence := c.confidence(votes, scores, now)
	det := Detection{
		Label:          c.state.Label,
		Confidence:     confidence,
		TransitionZone: transition,
		Scores:         scores,
		Votes:          votes,
		At:             now,
	}
	if transition {
		det.Candidate = c.state.Pending
	}

	c.persistState()
	return det
}

// Snapshot returns a copy of the current state for inspection.
func (c *Classifier) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.SwitchTimes = append([]time.Time(nil), c.state.SwitchTimes...)
	return s
}

func (c *Classifier) castVotes(f Features) []Vote {
	votes := make([]Vote, 0, 6)

	// Volatility divergence: expanding vol vs compressing vol.
	v := Vote{Voter: "vol_divergence"}
	if z := f.VolDivergenceZ; math.Abs(z) >= c.cfg.VolDivergenceZThreshold && c.cfg.VolDivergenceZThreshold > 0 {
		v.Weight = c.cfg.VolDivergenceWeight
		v.Clarity = math.Abs(z) - c.cfg.VolDivergenceZThreshold
		if z > 0 {
			v.Label = trade.RegimeVolatilityExpansion
		} else {
			v.Label = trade.RegimeVolatilityCompression
		}
	}
	votes = append(votes, v)

	// Trend persistence: strong directional move vs rangebound drift.
	v = Vote{Voter: "trend_persistence"}
	if abs := math.Abs(f.TrendPersistence); abs >= c.cfg.TrendStrongThreshold {
		v.Weight = c.cfg.TrendWeight
		v.Label = trade.RegimeDirectionalExpansion
		v.Clarity = abs - c.cfg.TrendStrongThreshold
	} else if abs <= c.cfg.TrendWeakThreshold {
		v.Weight = c.cfg.TrendWeight
		v.Label = trade.RegimeDirectionalCompression
		v.Clarity = c.cfg.TrendWeakThreshold - abs
	}
	votes = append(votes, v)

	// Range expansion / compression.
	v = Vote{Voter: "range"}
	if f.RangeRatio >= c.cfg.RangeExpansionRatio && c.cfg.RangeExpansionRatio > 0 {
		v.Weight = c.cfg.RangeWeight
		v.Label = trade.RegimeVolatilityExpansion
		v.Clarity = f.RangeRatio - c.cfg.RangeExpansionRatio
	} else if f.RangeRatio > 0 && f.RangeRatio <= c.cfg.RangeCompressionRatio {
		v.Weight = c.cfg.RangeWeight
		v.Label = trade.RegimeVolatilityCompression
		v.Clarity = c.cfg.RangeCompressionRatio - f.RangeRatio
	}
	votes = append(votes, v)

	// Liquidity stress: wide spread or thin depth.
	v = Vote{Voter: "liquidity_stress"}
	wideSpread := c.cfg.VacuumSpreadBps > 0 && f.SpreadBps >= c.cfg.VacuumSpreadBps
	thinDepth := f.DepthRatio > 0 && f.DepthRatio <= c.cfg.VacuumDepthRatio
	if wideSpread || thinDepth {
		v.Weight = c.cfg.LiquidityWeight
		v.Label = trade.RegimeLiquidityVacuum
		if wideSpread {
			v.Clarity = (f.SpreadBps - c.cfg.VacuumSpreadBps) / c.cfg.VacuumSpreadBps
		}
	}
	votes = append(votes, v)

	// Scheduled event window.
	v = Vote{Voter: "event_flag"}
	if f.EventActive {
		v.Weight = c.cfg.EventWeight
		v.Label = trade.RegimeEventDominated
		v.Clarity = 1
	}
	votes = append(votes, v)

	// Cross-asset risk-off.
	v = Vote{Voter: "cross_asset_risk"}
	if f.CrossAssetRiskOff {
		v.Weight = c.cfg.CrossAssetWeight
		v.Label = trade.RegimeVolatilityExpansion
		v.Clarity = 1
	}
	votes = append(votes, v)

	return votes
}

// confidence blends voter agreement, time in regime, and signal clarity,
// minus a penalty for recent switch churn.
func (c *Classifier) confidence(votes []Vote, scores map[trade.Regime]float64, now time.Time) float64 {
	castWeight, claritySum, castCount := 0.0, 0.0, 0
	for _, v := range votes {
		if v.Weight > 0 {
			castWeight += v.Weight
			claritySum += v.Clarity
			castCount++
		}
	}

	agreement := 0.0
	if castWeight > 0 {
		agreement = scores[c.state.Label] / castWeight * 100
	}

	timeScore := 0.0
	if c.cfg.TimeInRegimeFull > 0 {
		timeScore = stats.Clamp(float64(now.Sub(c.state.EnteredAt))/float64(c.cfg.TimeInRegimeFull.Std()), 0, 1) * 100
	}

	clarity := 0.0
	if castCount > 0 && c.cfg.ClarityFullScale > 0 {
		clarity = stats.Clamp(claritySum/float64(castCount)/c.cfg.ClarityFullScale, 0, 1) * 100
	}

	penalty := float64(c.recentSwitches(now)) * c.cfg.SwitchPenalty

	blended := agreement*c.cfg.AgreementBlend +
		timeScore*c.cfg.TimeInRegimeBlend +
		clarity*c.cfg.ClarityBlend -
		penalty
	return stats.Clamp(blended, 0, 100)
}

func (c *Classifier) recordSwitch(now time.Time) {
	c.state.SwitchTimes = append(c.state.SwitchTimes, now)
	c.pruneSwitches(now)
}

func (c *Classifier) recentSwitches(now time.Time) int {
	c.pruneSwitches(now)
	return len(c.state.SwitchTimes)
}

func (c *Classifier) pruneSwitches(now time.Time) {
	if c.cfg.SwitchPenaltyWindow <= 0 {
		return
	}
	cutoff := now.Add(-c.cfg.SwitchPenaltyWindow.Std())
	kept := c.state.SwitchTimes[:0]
	for _, t := range c.state.SwitchTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.state.SwitchTimes = kept
}

func (c *Classifier) persistState() {
	if c.store == nil {
		return
	}
	if err := c.store.Save(stateKey, c.state); err != nil {
		log.Warn().Err(err).Msg("regime state save failed")
	}
}
