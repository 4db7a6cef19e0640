// Package slippage tracks realized execution cost against hourly and daily
// USD budgets. Any single catastrophic fill or an exhausted budget engages a
// persistent pause that only an explicit operator resume clears.
package slippage

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/persist"
	"github.com/sawpanic/tradegate/internal/stats"
)

const stateKey = "slippage"

// Config holds the realized-cost budgets.
type Config struct {
	// MaxAcceptableBps is the per-trade slippage expectation; a single fill
	// worse than MaxAcceptableBps*SevereMultiplier trips the kill switch.
	MaxAcceptableBps float64 `yaml:"max_acceptable_bps"`
	SevereMultiplier float64 `yaml:"severe_multiplier"`

	// Daily budget is min(DailyBudgetUSD, DailyBudgetEquityPct * equity).
	DailyBudgetUSD       float64 `yaml:"daily_budget_usd"`
	DailyBudgetEquityPct float64 `yaml:"daily_budget_equity_pct"`
	HourlyBudgetUSD      float64 `yaml:"hourly_budget_usd"`

	RecentWindow int `yaml:"recent_window"` // bounded bps history length
}

func DefaultConfig() Config {
	return Config{
		MaxAcceptableBps:     15,
		SevereMultiplier:     3.0,
		DailyBudgetUSD:       2_000,
		DailyBudgetEquityPct: 0.005,
		HourlyBudgetUSD:      500,
		RecentWindow:         100,
	}
}

// State is the persisted accumulator record. Window starts are absolute
// timestamps so budgets survive restarts correctly.
type State struct {
	HourStart time.Time `json:"hour_start"`
	HourlyUSD float64   `json:"hourly_usd"`
	DayStart  time.Time `json:"day_start"`
	DailyUSD  float64   `json:"daily_usd"`

	RecentBps []float64 `json:"recent_bps,omitempty"`

	Paused      bool   `json:"paused"`
	PauseReason string `json:"pause_reason,omitempty"`
}

// FillCost describes one realized fill for RecordFill.
type FillCost struct {
	Symbol        string     `json:"symbol"`
	Side          trade.Side `json:"side"`
	ExpectedPrice float64    `json:"expected_price"`
	FillPrice     float64    `json:"fill_price"`
	Qty           float64    `json:"qty"`
	Equity        float64    `json:"equity"`
}

// Result reports the tracker outcome for one fill.
type Result struct {
	SlippageBps float64 `json:"slippage_bps"`
	SlippageUSD float64 `json:"slippage_usd"`
	HourlyUSD   float64 `json:"hourly_usd"`
	DailyUSD    float64 `json:"daily_usd"`
	Paused      bool    `json:"paused"`
	PauseReason string  `json:"pause_reason,omitempty"`
}

// Stats are the rolling per-trade slippage statistics.
type Stats struct {
	Count     int     `json:"count"`
	MeanBps   float64 `json:"mean_bps"`
	MedianBps float64 `json:"median_bps"`
	P90Bps    float64 `json:"p90_bps"`
}

// Tracker owns the accumulators and the kill switch.
type Tracker struct {
	mu    sync.Mutex
	cfg   Config
	state State
	store persist.Store
}

func NewTracker(cfg Config, store persist.Store) *Tracker {
	t := &Tracker{cfg: cfg, store: store}
	if store != nil {
		var s State
		if found, err := store.Load(stateKey, &s); err == nil && found {
			t.state = s
		}
	}
	return t
}

// Paused reports whether the kill switch is engaged.
func (t *Tracker) Paused() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Paused, t.state.PauseReason
}

// Resume clears the kill switch. This is the explicit out-of-band operator
// action; nothing in the tracker auto-recovers.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Paused {
		log.Info().Str("reason", t.state.PauseReason).Msg("slippage kill switch cleared")
	}
	t.state.Paused = false
	t.state.PauseReason = ""
	t.persist()
}

// RecordFill folds one realized fill into the accumulators and may engage
// the kill switch. Direction-adjusted: paying up on a buy or getting hit
// down on a sell is positive slippage.
func (t *Tracker) RecordFill(f FillCost, now time.Time) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.roll(now)

	bps := slippageBps(f)
	usd := bps / 10000 * f.ExpectedPrice * f.Qty

	// Only positive slippage consumes budget; price improvement does not
	// refund it.
	if usd > 0 {
		t.state.HourlyUSD += usd
		t.state.DailyUSD += usd
	}

	t.state.RecentBps = append(t.state.RecentBps, bps)
	if n := len(t.state.RecentBps); t.cfg.RecentWindow > 0 && n > t.cfg.RecentWindow {
		t.state.RecentBps = t.state.RecentBps[n-t.cfg.RecentWindow:]
	}

	if !t.state.Paused {
		if reason, tripped := t.checkTriggers(bps, f.Equity); tripped {
			t.state.Paused = true
			t.state.PauseReason = reason
			log.Warn().
				Str("reason", reason).
				Float64("slippage_bps", bps).
				Float64("daily_usd", t.state.DailyUSD).
				Msg("slippage kill switch engaged")
		}
	}

	t.persist()
	return Result{
		SlippageBps: bps,
		SlippageUSD: usd,
		HourlyUSD:   t.state.HourlyUSD,
		DailyUSD:    t.state.DailyUSD,
		Paused:      t.state.Paused,
		PauseReason: t.state.PauseReason,
	}
}

// RecentStats returns mean, median and p90 of the rolling bps history.
func (t *Tracker) RecentStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Count:     len(t.state.RecentBps),
		MeanBps:   stats.Mean(t.state.RecentBps),
		MedianBps: stats.Median(t.state.RecentBps),
		P90Bps:    stats.Percentile(t.state.RecentBps, 90),
	}
}

// Snapshot returns a copy of the persisted state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	s.RecentBps = append([]float64(nil), t.state.RecentBps...)
	return s
}

func (t *Tracker) checkTriggers(bps, equity float64) (string, bool) {
	if t.cfg.MaxAcceptableBps > 0 && t.cfg.SevereMultiplier > 0 &&
		bps > t.cfg.MaxAcceptableBps*t.cfg.SevereMultiplier {
		return "severe_single_trade_slippage", true
	}

	daily := t.cfg.DailyBudgetUSD
	if t.cfg.DailyBudgetEquityPct > 0 && equity > 0 {
		if pct := equity * t.cfg.DailyBudgetEquityPct; pct < daily || daily <= 0 {
			daily = pct
		}
	}
	if daily > 0 && t.state.DailyUSD >= daily {
		return "daily_budget_exhausted", true
	}
	if t.cfg.HourlyBudgetUSD > 0 && t.state.HourlyUSD >= t.cfg.HourlyBudgetUSD {
		return "hourly_budget_exhausted", true
	}
	return "", false
}

// roll resets elapsed accumulator windows.
func (t *Tracker) roll(now time.Time) {
	if t.state.HourStart.IsZero() || now.Sub(t.state.HourStart) >= time.Hour {
		t.state.HourStart = now
		t.state.HourlyUSD = 0
	}
	if t.state.DayStart.IsZero() || now.Sub(t.state.DayStart) >= 24*time.Hour {
		t.state.DayStart = now
		t.state.DailyUSD = 0
	}
}

// slippageBps is positive when the fill is worse than expected for the
// order's side.
func slippageBps(f FillCost) float64 {
	if f.ExpectedPrice <= 0 || f.FillPrice <= 0 {
		return 0
	}
	raw := (f.FillPrice - f.ExpectedPrice) / f.ExpectedPrice * 10000
	if f.Side == trade.Sell {
		raw = -raw
	}
	return raw
}

func (t *Tracker) persist() {
	if t.store == nil {
		return
	}
	if err := t.store.Save(stateKey, t.state); err != nil {
		log.Warn().Err(err).Msg("slippage state save failed")
	}
}
