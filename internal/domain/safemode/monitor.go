// Package safemode scores market stress into an integer and maps it onto an
// ordered response ladder (NORMAL .. CRITICAL). Upgrades apply immediately;
// downgrades wait out a minimum dwell time plus a stable-at-lower-score
// window so noisy conditions cannot flap the level. Trading halts and
// latency outages short-circuit straight to CRITICAL.
package safemode

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/audit"
	"github.com/sawpanic/tradegate/internal/persist"
	"github.com/sawpanic/tradegate/internal/timeutil"
)

const stateKey = "safemode"

// Inputs are the pre-fetched stress measurements for one evaluation.
type Inputs struct {
	SpreadBps       float64 `json:"spread_bps"`
	DepthRatio      float64 `json:"depth_ratio"` // current depth / normal depth
	VolatilityZ     float64 `json:"volatility_z"`
	VenueRejectRate float64 `json:"venue_reject_rate"` // 0..1
	LatencyMs       float64 `json:"latency_ms"`
	EventWindow     bool    `json:"event_window"`
	TradingHalt     bool    `json:"trading_halt"`
}

// Tiers bucket one input into pre-alert/alert/high-alert severities. For
// ascending inputs (spread, vol, rejects, latency) a value at or above the
// tier qualifies; for depth ratio the comparison is inverted.
type Tiers struct {
	PreAlert  float64 `yaml:"pre_alert"`
	Alert     float64 `yaml:"alert"`
	HighAlert float64 `yaml:"high_alert"`
	Weight    int     `yaml:"weight"`
}

// Actions are the concrete knobs a level maps to.
type Actions struct {
	SizeMultiplier     float64 `yaml:"size_multiplier" json:"size_multiplier"`
	CooldownMultiplier float64 `yaml:"cooldown_multiplier" json:"cooldown_multiplier"`
	DisablePassive     bool    `yaml:"disable_passive" json:"disable_passive"`
	ForceIOC           bool    `yaml:"force_ioc" json:"force_ioc"`
	ForceDirectRouting bool    `yaml:"force_direct_routing" json:"force_direct_routing"`
	CancelResting      bool    `yaml:"cancel_resting" json:"cancel_resting"`
	AvoidDarkPools     bool    `yaml:"avoid_dark_pools" json:"avoid_dark_pools"`
	BlockNewEntries    bool    `yaml:"block_new_entries" json:"block_new_entries"`
}

// Config holds scoring weights, level thresholds, hysteresis windows and the
// per-level action table.
type Config struct {
	Spread     Tiers `yaml:"spread"`
	Depth      Tiers `yaml:"depth"` // descending: lower ratio is worse
	Volatility Tiers `yaml:"volatility"`
	RejectRate Tiers `yaml:"reject_rate"`
	Latency    Tiers `yaml:"latency"`

	VacuumBonus int `yaml:"vacuum_bonus"` // wide spread + thin depth co-occur
	EventBonus  int `yaml:"event_bonus"`

	LatencyOutageMs float64 `yaml:"latency_outage_ms"`

	// Score cut points for each level.
	PreAlertScore  int `yaml:"pre_alert_score"`
	AlertScore     int `yaml:"alert_score"`
	HighAlertScore int `yaml:"high_alert_score"`
	CriticalScore  int `yaml:"critical_score"`

	MinTimeInLevel timeutil.Duration `yaml:"min_time_in_level"`
	ExitStableFor  timeutil.Duration `yaml:"exit_stable_for"`

	// Action table keyed by level name. A level missing from the table
	// fails closed: size multiplier 0 blocks everything.
	Actions map[string]Actions `yaml:"actions"`
}

func DefaultConfig() Config {
	return Config{
		Spread:     Tiers{PreAlert: 20, Alert: 40, HighAlert: 80, Weight: 2},
		Depth:      Tiers{PreAlert: 0.7, Alert: 0.5, HighAlert: 0.3, Weight: 2},
		Volatility: Tiers{PreAlert: 1.5, Alert: 2.5, HighAlert: 3.5, Weight: 1},
		RejectRate: Tiers{PreAlert: 0.02, Alert: 0.05, HighAlert: 0.15, Weight: 2},
		Latency:    Tiers{PreAlert: 150, Alert: 400, HighAlert: 1000, Weight: 1},

		VacuumBonus: 3,
		EventBonus:  2,

		LatencyOutageMs: 5000,

		PreAlertScore:  3,
		AlertScore:     6,
		HighAlertScore: 10,
		CriticalScore:  15,

		MinTimeInLevel: timeutil.Duration(2 * time.Minute),
		ExitStableFor:  timeutil.Duration(90 * time.Second),

		Actions: map[string]Actions{
			"NORMAL":    {SizeMultiplier: 1.0, CooldownMultiplier: 1.0},
			"PRE_ALERT": {SizeMultiplier: 0.75, CooldownMultiplier: 1.25},
			"ALERT":     {SizeMultiplier: 0.5, CooldownMultiplier: 1.5, DisablePassive: true, AvoidDarkPools: true},
			"HIGH_ALERT": {
				SizeMultiplier: 0.25, CooldownMultiplier: 2.0,
				DisablePassive: true, ForceIOC: true, ForceDirectRouting: true,
				CancelResting: true, AvoidDarkPools: true,
			},
			"CRITICAL": {
				SizeMultiplier: 0, CooldownMultiplier: 4.0,
				DisablePassive: true, ForceIOC: true, ForceDirectRouting: true,
				CancelResting: true, AvoidDarkPools: true, BlockNewEntries: true,
			},
		},
	}
}

// ForcedOverride is an operator-written level pin. It bypasses hysteresis
// and wins over the computed level until cleared or expired.
type ForcedOverride struct {
	Level     Level     `json:"level"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
}

// State is the persisted monitor memory.
type State struct {
	Level       Level           `json:"level"`
	EnteredAt   time.Time       `json:"entered_at"`
	StableBelow Level           `json:"stable_below"`
	StableSince time.Time       `json:"stable_since,omitempty"`
	Forced      *ForcedOverride `json:"forced,omitempty"`
	LastScore   int             `json:"last_score"`
}

// Result is one evaluation outcome.
type Result struct {
	Level    Level    `json:"level"`
	Score    int      `json:"score"`
	Actions  Actions  `json:"actions"`
	Reasons  []string `json:"reasons,omitempty"`
	Forced   bool     `json:"forced"`
	Changed  bool     `json:"changed"`
	Previous Level    `json:"previous"`
}

// Monitor owns the leveled stress state machine.
type Monitor struct {
	mu    sync.Mutex
	cfg   Config
	state State
	store persist.Store
	aud   *audit.Logger
}

func NewMonitor(cfg Config, store persist.Store, aud *audit.Logger) *Monitor {
	m := &Monitor{cfg: cfg, store: store, aud: aud}
	if store != nil {
		var s State
		if found, err := store.Load(stateKey, &s); err == nil && found {
			m.state = s
		}
	}
	return m
}

// Evaluate scores the inputs and advances the level state machine.
func (m *Monitor) Evaluate(in Inputs, now time.Time) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.EnteredAt.IsZero() {
		m.state.EnteredAt = now
	}
	previous := m.state.Level

	// Operator override wins until it expires or is cleared.
	if f := m.state.Forced; f != nil {
		if f.ExpiresAt.IsZero() || now.Before(f.ExpiresAt) {
			m.applyLevel(f.Level, now, "forced:"+f.Reason)
			m.persist()
			return m.result(previous, m.state.LastScore, true, []string{"forced:" + f.Reason})
		}
		m.state.Forced = nil
	}

	score, reasons := m.score(in)
	computed := m.levelFor(score)

	// Immediate CRITICAL short circuits, bypassing score and hysteresis.
	if in.TradingHalt {
		computed = LevelCritical
		reasons = append(reasons, "trading_halt")
	} else if m.cfg.LatencyOutageMs > 0 && in.LatencyMs >= m.cfg.LatencyOutageMs {
		computed = LevelCritical
		reasons = append(reasons, "latency_outage")
	}

	m.state.LastScore = score

	switch {
	case computed == LevelCritical && m.state.Level != LevelCritical:
		m.applyLevel(LevelCritical, now, reasonString(reasons))

	case computed > m.state.Level:
		// Upgrades apply immediately.
		m.applyLevel(computed, now, reasonString(reasons))

	case computed < m.state.Level:
		m.maybeDowngrade(computed, now, reasons)

	default:
		// Holding level: any pending downgrade track resets.
		m.state.StableSince = time.Time{}
	}

	m.persist()
	return m.result(previous, score, false, reasons)
}

// maybeDowngrade applies the two-part hysteresis: minimum dwell in the
// current level, and the lower computed level continuously observed for the
// exit-stable window.
func (m *Monitor) maybeDowngrade(computed Level, now time.Time, reasons []string) {
	if m.state.StableSince.IsZero() || computed != m.state.StableBelow {
		m.state.StableBelow = computed
		m.state.StableSince = now
		return
	}

	dwellOK := now.Sub(m.state.EnteredAt) >= m.cfg.MinTimeInLevel.Std()
	stableOK := now.Sub(m.state.StableSince) >= m.cfg.ExitStableFor.Std()
	if dwellOK && stableOK {
		m.applyLevel(computed, now, reasonString(reasons))
	}
}

func (m *Monitor) applyLevel(level Level, now time.Time, reason string) {
	if level == m.state.Level {
		return
	}
	log.Info().
		Str("from", m.state.Level.String()).
		Str("to", level.String()).
		Str("reason", reason).
		Msg("safe-mode level change")
	m.aud.Emit("safemode_level_change", "", map[string]any{
		"from":   m.state.Level.String(),
		"to":     level.String(),
		"score":  m.state.LastScore,
		"reason": reason,
	})
	m.state.Level = level
	m.state.EnteredAt = now
	m.state.StableSince = time.Time{}
}

// Force pins the level until expiry (zero = until cleared), bypassing
// hysteresis on the next evaluation.
func (m *Monitor) Force(level Level, reason string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Forced = &ForcedOverride{Level: level, Reason: reason, ExpiresAt: expiresAt}
	m.persist()
}

// ClearForce removes any operator override.
func (m *Monitor) ClearForce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Forced = nil
	m.persist()
}

// Snapshot returns a copy of the persisted state.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	if m.state.Forced != nil {
		f := *m.state.Forced
		s.Forced = &f
	}
	return s
}

// ActionsFor returns the action set for a level; missing table entries fail
// closed with a zero size multiplier.
func (m *Monitor) ActionsFor(level Level) Actions {
	if a, ok := m.cfg.Actions[level.String()]; ok {
		return a
	}
	return Actions{SizeMultiplier: 0, CooldownMultiplier: 1, BlockNewEntries: true}
}

func (m *Monitor) result(previous Level, score int, forced bool, reasons []string) Result {
	return Result{
		Level:    m.state.Level,
		Score:    score,
		Actions:  m.ActionsFor(m.state.Level),
		Reasons:  reasons,
		Forced:   forced,
		Changed:  m.state.Level != previous,
		Previous: previous,
	}
}

func (m *Monitor) score(in Inputs) (int, []string) {
	score := 0
	var reasons []string

	add := func(name string, tier int, weight int) {
		if tier > 0 {
			score += tier * weight
			reasons = append(reasons, name)
		}
	}

	spreadTier := ascendingTier(in.SpreadBps, m.cfg.Spread)
	add("spread", spreadTier, m.cfg.Spread.Weight)

	depthTier := descendingTier(in.DepthRatio, m.cfg.Depth)
	add("depth", depthTier, m.cfg.Depth.Weight)

	add("volatility", ascendingTier(in.VolatilityZ, m.cfg.Volatility), m.cfg.Volatility.Weight)
	add("reject_rate", ascendingTier(in.VenueRejectRate, m.cfg.RejectRate), m.cfg.RejectRate.Weight)
	add("latency", ascendingTier(in.LatencyMs, m.cfg.Latency), m.cfg.Latency.Weight)

	// Liquidity-vacuum bonus: wide spread and thin depth together.
	if spreadTier >= 2 && depthTier >= 2 {
		score += m.cfg.VacuumBonus
		reasons = append(reasons, "liquidity_vacuum")
	}
	if in.EventWindow {
		score += m.cfg.EventBonus
		reasons = append(reasons, "event_window")
	}
	return score, reasons
}

func (m *Monitor) levelFor(score int) Level {
	switch {
	case m.cfg.CriticalScore > 0 && score >= m.cfg.CriticalScore:
		return LevelCritical
	case m.cfg.HighAlertScore > 0 && score >= m.cfg.HighAlertScore:
		return LevelHighAlert
	case m.cfg.AlertScore > 0 && score >= m.cfg.AlertScore:
		return LevelAlert
	case m.cfg.PreAlertScore > 0 && score >= m.cfg.PreAlertScore:
		return LevelPreAlert
	default:
		return LevelNormal
	}
}

// ascendingTier returns 0..3 for inputs where bigger is worse. A zero input
// is treated as unknown and scores nothing.
func ascendingTier(v float64, t Tiers) int {
	if v <= 0 {
		return 0
	}
	switch {
	case t.HighAlert > 0 && v >= t.HighAlert:
		return 3
	case t.Alert > 0 && v >= t.Alert:
		return 2
	case t.PreAlert > 0 && v >= t.PreAlert:
		return 1
	default:
		return 0
	}
}

// descendingTier is for depth ratio, where smaller is worse.
func descendingTier(v float64, t Tiers) int {
	if v <= 0 {
		// Unknown depth scores nothing rather than faking an outage.
		return 0
	}
	switch {
	case v <= t.HighAlert:
		return 3
	case v <= t.Alert:
		return 2
	case v <= t.PreAlert:
		return 1
	default:
		return 0
	}
}

func reasonString(reasons []string) string {
	if len(reasons) == 0 {
		return "score"
	}
	s := reasons[0]
	for _, r := range reasons[1:] {
		s += "," + r
	}
	return s
}

func (m *Monitor) persist() {
	if m.store == nil {
		return
	}
	if err := m.store.Save(stateKey, m.state); err != nil {
		log.Warn().Err(err).Msg("safe-mode state save failed")
	}
}
