// Package throttle applies per-regime daily trade caps and inter-trade
// cooldowns. The trading-day boundary is the configured reset time in the
// configured timezone, not calendar midnight: a trade before the reset time
// belongs to the previous trading day.
package throttle

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/persist"
	"github.com/sawpanic/tradegate/internal/timeutil"
)

const stateKey = "throttle"

// Config holds the per-regime caps and cooldowns. A regime missing from
// MaxTradesPerDay gets a cap of 0, which blocks (fail closed).
type Config struct {
	Timezone  string `yaml:"timezone"`
	ResetTime string `yaml:"reset_time"` // "09:30"

	MaxTradesPerDay map[trade.Regime]int               `yaml:"max_trades_per_day"`
	Cooldown        map[trade.Regime]timeutil.Duration `yaml:"cooldown"`

	UrgencyCooldownMult map[trade.Urgency]float64 `yaml:"urgency_cooldown_mult"`
}

func DefaultConfig() Config {
	return Config{
		Timezone:  "America/New_York",
		ResetTime: "09:30",
		MaxTradesPerDay: map[trade.Regime]int{
			trade.RegimeDirectionalExpansion:   12,
			trade.RegimeDirectionalCompression: 8,
			trade.RegimeVolatilityExpansion:    6,
			trade.RegimeVolatilityCompression:  8,
			trade.RegimeLiquidityVacuum:        2,
			trade.RegimeEventDominated:         2,
		},
		Cooldown: map[trade.Regime]timeutil.Duration{
			trade.RegimeDirectionalExpansion:   timeutil.Duration(5 * time.Minute),
			trade.RegimeDirectionalCompression: timeutil.Duration(10 * time.Minute),
			trade.RegimeVolatilityExpansion:    timeutil.Duration(15 * time.Minute),
			trade.RegimeVolatilityCompression:  timeutil.Duration(10 * time.Minute),
			trade.RegimeLiquidityVacuum:        timeutil.Duration(30 * time.Minute),
			trade.RegimeEventDominated:         timeutil.Duration(30 * time.Minute),
		},
		UrgencyCooldownMult: map[trade.Urgency]float64{
			trade.UrgencyLow:    1.5,
			trade.UrgencyNormal: 1.0,
			trade.UrgencyHigh:   0.5,
		},
	}
}

// State is the persisted per-regime day record.
type State struct {
	DayKey    string                     `json:"day_key"`
	Counts    map[trade.Regime]int       `json:"counts"`
	LastTrade map[trade.Regime]time.Time `json:"last_trade"`
}

// Result reports the admission decision with the effective (scaled) limits.
type Result struct {
	Allowed           bool          `json:"allowed"`
	Reason            string        `json:"reason"`
	Count             int           `json:"count"`
	EffectiveCap      int           `json:"effective_cap"`
	EffectiveCooldown time.Duration `json:"effective_cooldown"`
	NextAllowedAt     time.Time     `json:"next_allowed_at,omitempty"`
}

// Throttle owns the per-regime counters.
type Throttle struct {
	mu        sync.Mutex
	cfg       Config
	loc       *time.Location
	resetMins int
	state     State
	store     persist.Store
}

// New validates the clock config eagerly.
func New(cfg Config, store persist.Store) (*Throttle, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("throttle timezone: %w", err)
	}
	reset, err := time.Parse("15:04", cfg.ResetTime)
	if err != nil {
		return nil, fmt.Errorf("throttle reset_time: %w", err)
	}

	th := &Throttle{
		cfg:       cfg,
		loc:       loc,
		resetMins: reset.Hour()*60 + reset.Minute(),
		state:     emptyState(""),
		store:     store,
	}
	if store != nil {
		var s State
		if found, err := store.Load(stateKey, &s); err == nil && found && s.Counts != nil {
			th.state = s
		}
	}
	return th, nil
}

func emptyState(dayKey string) State {
	return State{
		DayKey:    dayKey,
		Counts:    map[trade.Regime]int{},
		LastTrade: map[trade.Regime]time.Time{},
	}
}

// DayKey computes the trading-day key for now: times before the daily reset
// belong to the previous day.
func (th *Throttle) DayKey(now time.Time) string {
	local := now.In(th.loc)
	if local.Hour()*60+local.Minute() < th.resetMins {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format("2006-01-02")
}

// CanTrade checks the scaled daily cap and cooldown for regime. The
// safe-mode multipliers shrink the cap and stretch the cooldown; urgency
// applies its own cooldown multiplier on top. A positive cap multiplier
// always leaves a floor of one trade; exactly zero blocks outright.
func (th *Throttle) CanTrade(regime trade.Regime, urgency trade.Urgency, capMult, cooldownMult float64, now time.Time) Result {
	th.mu.Lock()
	defer th.mu.Unlock()

	th.rollover(now)

	baseCap := th.cfg.MaxTradesPerDay[regime] // missing regime -> 0, blocks
	effCap := 0
	if capMult > 0 && baseCap > 0 {
		// A positive multiplier never scales the cap below one trade.
		effCap = int(math.Floor(float64(baseCap) * capMult))
		if effCap < 1 {
			effCap = 1
		}
	}

	urgMult, ok := th.cfg.UrgencyCooldownMult[urgency]
	if !ok {
		urgMult = 1.0
	}
	effCooldown := time.Duration(float64(th.cfg.Cooldown[regime]) * cooldownMult * urgMult)

	count := th.state.Counts[regime]
	res := Result{Count: count, EffectiveCap: effCap, EffectiveCooldown: effCooldown}

	if effCap <= 0 {
		res.Reason = "daily_cap_zero"
		return res
	}
	if count >= effCap {
		res.Reason = "daily_cap_reached"
		return res
	}

	if last, traded := th.state.LastTrade[regime]; traded && effCooldown > 0 {
		next := last.Add(effCooldown)
		if now.Before(next) {
			res.Reason = "cooldown_active"
			res.NextAllowedAt = next
			return res
		}
	}

	res.Allowed = true
	res.Reason = "ok"
	return res
}

// RecordTrade increments the regime counter. Call only after a trade is
// actually taken.
func (th *Throttle) RecordTrade(regime trade.Regime, now time.Time) {
	th.mu.Lock()
	defer th.mu.Unlock()

	th.rollover(now)
	th.state.Counts[regime]++
	th.state.LastTrade[regime] = now
	th.persist()
}

// Snapshot returns a copy of the current day record.
func (th *Throttle) Snapshot() State {
	th.mu.Lock()
	defer th.mu.Unlock()

	s := emptyState(th.state.DayKey)
	for k, v := range th.state.Counts {
		s.Counts[k] = v
	}
	for k, v := range th.state.LastTrade {
		s.LastTrade[k] = v
	}
	return s
}

func (th *Throttle) rollover(now time.Time) {
	key := th.DayKey(now)
	if th.state.DayKey == key {
		return
	}
	if th.state.DayKey != "" {
		log.Info().Str("from", th.state.DayKey).Str("to", key).Msg("throttle day rollover")
	}
	th.state = emptyState(key)
	th.persist()
}

func (th *Throttle) persist() {
	if th.store == nil {
		return
	}
	if err := th.store.Save(stateKey, th.state); err != nil {
		log.Warn().Err(err).Msg("throttle state save failed")
	}
}
