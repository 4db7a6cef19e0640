// Package adverse watches realized fills for toxicity: fills that complete
// suspiciously fast or immediately move against the position suggest we are
// being picked off. Sustained toxicity suppresses passive posting or blocks
// new entries for a timed window that survives restarts.
package adverse

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/audit"
	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/persist"
)

const stateKey = "adverse"

// Action is the monitor's response ladder, weakest to strongest.
type Action string

const (
	ActionNone           Action = "none"
	ActionWarn           Action = "warn"
	ActionAggressiveOnly Action = "aggressive_only"
	ActionPausePassive   Action = "pause_passive"
	ActionBlockEntries   Action = "block_entries"
)

// Config holds the scoring weights and suppression windows.
type Config struct {
	WindowSize int `yaml:"window_size"` // bounded fill history length

	// FastFillSec flags fills faster than this as suspicious.
	FastFillSec float64 `yaml:"fast_fill_sec"`
	// AdverseMoveBps flags direction-adjusted post-fill moves worse than
	// -AdverseMoveBps.
	AdverseMoveBps float64 `yaml:"adverse_move_bps"`

	FastWeight    float64 `yaml:"fast_weight"`    // points at 100% fast fills
	AdverseWeight float64 `yaml:"adverse_weight"` // points at 100% adverse fills

	// Latency-to-score mapping.
	LatencyWarnMs  float64 `yaml:"latency_warn_ms"`
	LatencyBadMs   float64 `yaml:"latency_bad_ms"`
	LatencyWarnPts float64 `yaml:"latency_warn_pts"`
	LatencyBadPts  float64 `yaml:"latency_bad_pts"`

	// External signal bonuses.
	ExternalProbThreshold float64 `yaml:"external_prob_threshold"`
	ExternalProbBonus     float64 `yaml:"external_prob_bonus"`
	ToxicityThreshold     float64 `yaml:"toxicity_threshold"`
	ToxicityBonus         float64 `yaml:"toxicity_bonus"`

	// Score thresholds, increasing.
	WarnScore           float64 `yaml:"warn_score"`
	AggressiveOnlyScore float64 `yaml:"aggressive_only_score"`
	PausePassiveScore   float64 `yaml:"pause_passive_score"`
	BlockEntriesScore   float64 `yaml:"block_entries_score"` // 0 disables

	AggressiveOnlyMinutes int `yaml:"aggressive_only_minutes"`
	PausePassiveMinutes   int `yaml:"pause_passive_minutes"`
	BlockEntriesMinutes   int `yaml:"block_entries_minutes"`
}

func DefaultConfig() Config {
	return Config{
		WindowSize:     50,
		FastFillSec:    0.5,
		AdverseMoveBps: 10,

		FastWeight:    40,
		AdverseWeight: 40,

		LatencyWarnMs:  250,
		LatencyBadMs:   800,
		LatencyWarnPts: 5,
		LatencyBadPts:  15,

		ExternalProbThreshold: 0.7,
		ExternalProbBonus:     15,
		ToxicityThreshold:     0.8,
		ToxicityBonus:         15,

		WarnScore:           30,
		AggressiveOnlyScore: 50,
		PausePassiveScore:   65,
		BlockEntriesScore:   85,

		AggressiveOnlyMinutes: 15,
		PausePassiveMinutes:   30,
		BlockEntriesMinutes:   30,
	}
}

// Fill is one realized fill observation for RecordFill. PostFillPrice is
// sampled a fixed horizon after the fill by the caller.
type Fill struct {
	Symbol        string     `json:"symbol"`
	Side          trade.Side `json:"side"`
	FillPrice     float64    `json:"fill_price"`
	PostFillPrice float64    `json:"post_fill_price"`
	FillSpeedSec  float64    `json:"fill_speed_sec"`
	LatencyMs     float64    `json:"latency_ms"`

	// Optional external signals.
	ExternalAdverseProb float64 `json:"external_adverse_prob,omitempty"`
	Toxicity            float64 `json:"toxicity,omitempty"`
}

// Observation is the stored, direction-adjusted form of a fill.
type Observation struct {
	Symbol          string    `json:"symbol"`
	FillSpeedSec    float64   `json:"fill_speed_sec"`
	AdjustedMoveBps float64   `json:"adjusted_move_bps"` // negative = against us
	LatencyMs       float64   `json:"latency_ms"`
	Detected        bool      `json:"detected"`
	At              time.Time `json:"at"`
}

// State is the persisted monitor record.
type State struct {
	Fills []Observation `json:"fills"`

	AggressiveOnlyUntil time.Time `json:"aggressive_only_until,omitempty"`
	PausePassiveUntil   time.Time `json:"pause_passive_until,omitempty"`
	BlockEntriesUntil   time.Time `json:"block_entries_until,omitempty"`

	LastScore  float64 `json:"last_score"`
	LastAction Action  `json:"last_action,omitempty"`
	LastReason string  `json:"last_reason,omitempty"`
}

// Result is a pre-trade check outcome.
type Result struct {
	Action        Action    `json:"action"`
	Score         float64   `json:"score"`
	Reason        string    `json:"reason"`
	Until         time.Time `json:"until,omitempty"`
	AllowEntries  bool      `json:"allow_entries"`
	AllowPassive  bool      `json:"allow_passive"`
	DetectedCount int       `json:"detected_count"`
}

// Monitor owns the rolling fill window and suppression timers.
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

// CheckEntry is the pre-trade gate: live suppression states win, strongest
// first; otherwise the current window score decides.
func (m *Monitor) CheckEntry(now time.Time) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Before(m.state.BlockEntriesUntil) {
		return Result{
			Action: ActionBlockEntries, Reason: "block_entries_active",
			Until: m.state.BlockEntriesUntil, Score: m.state.LastScore,
		}
	}
	if now.Before(m.state.PausePassiveUntil) {
		return Result{
			Action: ActionPausePassive, Reason: "pause_passive_active",
			Until: m.state.PausePassiveUntil, Score: m.state.LastScore,
			AllowEntries: true,
		}
	}
	if now.Before(m.state.AggressiveOnlyUntil) {
		return Result{
			Action: ActionAggressiveOnly, Reason: "aggressive_only_active",
			Until: m.state.AggressiveOnlyUntil, Score: m.state.LastScore,
			AllowEntries: true,
		}
	}

	score, detected := m.score(0, 0)
	action := m.actionFor(score)
	return Result{
		Action:        action,
		Score:         score,
		Reason:        "score",
		AllowEntries:  action != ActionBlockEntries,
		AllowPassive:  action == ActionNone || action == ActionWarn,
		DetectedCount: detected,
	}
}

// RecordFill folds one realized fill into the window, recomputes the score,
// arms suppression windows on threshold crossings, and always appends an
// audit event.
func (m *Monitor) RecordFill(f Fill, now time.Time) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	obs := Observation{
		Symbol:          f.Symbol,
		FillSpeedSec:    f.FillSpeedSec,
		AdjustedMoveBps: adjustedMoveBps(f),
		LatencyMs:       f.LatencyMs,
		At:              now,
	}
	obs.Detected = f.FillSpeedSec < m.cfg.FastFillSec && obs.AdjustedMoveBps < -m.cfg.AdverseMoveBps

	m.state.Fills = append(m.state.Fills, obs)
	if n := len(m.state.Fills); m.cfg.WindowSize > 0 && n > m.cfg.WindowSize {
		m.state.Fills = m.state.Fills[n-m.cfg.WindowSize:]
	}

	score, detected := m.score(f.ExternalAdverseProb, f.Toxicity)
	action := m.actionFor(score)
	reason := "score"

	switch action {
	case ActionAggressiveOnly:
		m.state.AggressiveOnlyUntil = now.Add(time.Duration(m.cfg.AggressiveOnlyMinutes) * time.Minute)
		reason = "aggressive_only_threshold"
	case ActionPausePassive:
		m.state.PausePassiveUntil = now.Add(time.Duration(m.cfg.PausePassiveMinutes) * time.Minute)
		reason = "pause_passive_threshold"
	case ActionBlockEntries:
		m.state.BlockEntriesUntil = now.Add(time.Duration(m.cfg.BlockEntriesMinutes) * time.Minute)
		reason = "block_entries_threshold"
	}

	m.state.LastScore = score
	m.state.LastAction = action
	m.state.LastReason = reason
	m.persist()

	m.aud.Emit("adverse_fill", f.Symbol, map[string]any{
		"fill_speed_sec":    f.FillSpeedSec,
		"adjusted_move_bps": obs.AdjustedMoveBps,
		"latency_ms":        f.LatencyMs,
		"detected":          obs.Detected,
		"score":             score,
		"action":            string(action),
		"reason":            reason,
	})

	return Result{
		Action:        action,
		Score:         score,
		Reason:        reason,
		AllowEntries:  action != ActionBlockEntries,
		AllowPassive:  action == ActionNone || action == ActionWarn,
		DetectedCount: detected,
	}
}

// Snapshot returns a copy of the persisted state.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Fills = append([]Observation(nil), m.state.Fills...)
	return s
}

// adjustedMoveBps signs the post-fill move so negative is always against
// the position: price dropping after a buy, or rising after a sell.
func adjustedMoveBps(f Fill) float64 {
	if f.FillPrice <= 0 || f.PostFillPrice <= 0 {
		return 0
	}
	moveBps := (f.PostFillPrice - f.FillPrice) / f.FillPrice * 10000
	if f.Side == trade.Sell {
		moveBps = -moveBps
	}
	return moveBps
}

// score computes the weighted rolling-window toxicity score plus the
// external-signal bonuses. Caller holds the lock.
func (m *Monitor) score(externalProb, toxicity float64) (float64, int) {
	n := len(m.state.Fills)
	if n == 0 {
		return bonusOnly(m.cfg, externalProb, toxicity), 0
	}

	fast, adversarial, detected := 0, 0, 0
	latencySum := 0.0
	for _, o := range m.state.Fills {
		if o.FillSpeedSec < m.cfg.FastFillSec {
			fast++
		}
		if o.AdjustedMoveBps < -m.cfg.AdverseMoveBps {
			adversarial++
		}
		if o.Detected {
			detected++
		}
		latencySum += o.LatencyMs
	}

	score := float64(fast) / float64(n) * m.cfg.FastWeight
	score += float64(adversarial) / float64(n) * m.cfg.AdverseWeight

	avgLatency := latencySum / float64(n)
	switch {
	case m.cfg.LatencyBadMs > 0 && avgLatency >= m.cfg.LatencyBadMs:
		score += m.cfg.LatencyBadPts
	case m.cfg.LatencyWarnMs > 0 && avgLatency >= m.cfg.LatencyWarnMs:
		score += m.cfg.LatencyWarnPts
	}

	score += bonusOnly(m.cfg, externalProb, toxicity)
	return score, detected
}

func bonusOnly(cfg Config, externalProb, toxicity float64) float64 {
	bonus := 0.0
	if cfg.ExternalProbThreshold > 0 && externalProb >= cfg.ExternalProbThreshold {
		bonus += cfg.ExternalProbBonus
	}
	if cfg.ToxicityThreshold > 0 && toxicity >= cfg.ToxicityThreshold {
		bonus += cfg.ToxicityBonus
	}
	return bonus
}

func (m *Monitor) actionFor(score float64) Action {
	switch {
	case m.cfg.BlockEntriesScore > 0 && score >= m.cfg.BlockEntriesScore:
		return ActionBlockEntries
	case score >= m.cfg.PausePassiveScore && m.cfg.PausePassiveScore > 0:
		return ActionPausePassive
	case score >= m.cfg.AggressiveOnlyScore && m.cfg.AggressiveOnlyScore > 0:
		return ActionAggressiveOnly
	case score >= m.cfg.WarnScore && m.cfg.WarnScore > 0:
		return ActionWarn
	default:
		return ActionNone
	}
}

func (m *Monitor) persist() {
	if m.store == nil {
		return
	}
	if err := m.store.Save(stateKey, m.state); err != nil {
		log.Warn().Err(err).Msg("adverse-selection state save failed")
	}
}
