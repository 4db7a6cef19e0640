// Package regime classifies the market into one of six mutually-exclusive
// labels using weighted voters and an anti-flap state machine: a candidate
// label must out-score the committed one by a hysteresis delta, sustain
// itself for a confirmation streak, and the engine must have dwelt in the
// committed label for a minimum duration before a switch commits.
package regime

import (
	"time"

	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/timeutil"
)

// Features are the pre-computed market inputs one classification cycle
// consumes. The classifier never fetches data itself.
type Features struct {
	// VolDivergenceZ is the realized-vs-baseline volatility divergence as a
	// z-score (positive = vol expanding).
	VolDivergenceZ float64 `json:"vol_divergence_z"`

	// TrendPersistence is a -1..1 directional persistence measure.
	TrendPersistence float64 `json:"trend_persistence"`

	// RangeRatio compares the current bar range to its trailing average
	// (>1 = expansion, <1 = compression).
	RangeRatio float64 `json:"range_ratio"`

	// Liquidity stress inputs.
	SpreadBps  float64 `json:"spread_bps"`
	DepthRatio float64 `json:"depth_ratio"` // current depth / normal depth

	// EventActive marks a scheduled macro/event window.
	EventActive bool `json:"event_active"`

	// CrossAssetRiskOff marks a correlated risk-off move in reference assets.
	CrossAssetRiskOff bool `json:"cross_asset_risk_off"`
}

// Vote is one voter's contribution: a weighted vote for exactly one label,
// or an abstention (zero Weight).
type Vote struct {
	Voter   string       `json:"voter"`
	Label   trade.Regime `json:"label,omitempty"`
	Weight  float64      `json:"weight"`
	Clarity float64      `json:"clarity"` // distance beyond the voter's threshold
}

// Detection is the classifier output for one cycle.
type Detection struct {
	Label          trade.Regime             `json:"label"`
	Confidence     float64                  `json:"confidence"` // 0..100
	TransitionZone bool                     `json:"transition_zone"`
	Candidate      trade.Regime             `json:"candidate,omitempty"`
	Scores         map[trade.Regime]float64 `json:"scores"`
	Votes          []Vote                   `json:"votes"`
	At             time.Time                `json:"at"`
}

// State is the classifier's cross-cycle memory. It is persisted so a restart
// does not reset the dwell clock or the confirmation streak.
type State struct {
	Label        trade.Regime `json:"label"`
	EnteredAt    time.Time    `json:"entered_at"`
	Pending      trade.Regime `json:"pending,omitempty"`
	ConfirmCount int          `json:"confirm_count"`

	// SwitchTimes is the rolling record of recent commits, used for the
	// stability penalty in the confidence blend.
	SwitchTimes []time.Time `json:"switch_times,omitempty"`
}

// Controls are the downstream hints derived from the committed label.
type Controls struct {
	StrategyWeights map[string]float64 `json:"strategy_weights"`
	Posture         string             `json:"posture"` // passive | normal | aggressive
}

// Config holds every classifier threshold. All fields have working defaults
// from DefaultConfig; zero values fail closed (no switches, zero weights).
type Config struct {
	// Voter weights; a voter with weight 0 is disabled.
	VolDivergenceWeight float64 `yaml:"vol_divergence_weight"`
	TrendWeight         float64 `yaml:"trend_weight"`
	RangeWeight         float64 `yaml:"range_weight"`
	LiquidityWeight     float64 `yaml:"liquidity_weight"`
	EventWeight         float64 `yaml:"event_weight"`
	CrossAssetWeight    float64 `yaml:"cross_asset_weight"`

	// Voter thresholds.
	VolDivergenceZThreshold float64 `yaml:"vol_divergence_z_threshold"`
	TrendStrongThreshold    float64 `yaml:"trend_strong_threshold"`
	TrendWeakThreshold      float64 `yaml:"trend_weak_threshold"`
	RangeExpansionRatio     float64 `yaml:"range_expansion_ratio"`
	RangeCompressionRatio   float64 `yaml:"range_compression_ratio"`
	VacuumSpreadBps         float64 `yaml:"vacuum_spread_bps"`
	VacuumDepthRatio        float64 `yaml:"vacuum_depth_ratio"`

	// Transition hysteresis.
	HysteresisDelta float64           `yaml:"hysteresis_delta"`
	ConfirmPeriods  int               `yaml:"confirm_periods"`
	MinDwell        timeutil.Duration `yaml:"min_dwell"`

	// Confidence blend.
	AgreementBlend      float64           `yaml:"agreement_blend"`
	TimeInRegimeBlend   float64           `yaml:"time_in_regime_blend"`
	ClarityBlend        float64           `yaml:"clarity_blend"`
	TimeInRegimeFull    timeutil.Duration `yaml:"time_in_regime_full"`
	ClarityFullScale    float64           `yaml:"clarity_full_scale"`
	SwitchPenalty       float64           `yaml:"switch_penalty"` // points per recent switch
	SwitchPenaltyWindow timeutil.Duration `yaml:"switch_penalty_window"`
}

// DefaultConfig returns the classifier defaults.
func DefaultConfig() Config {
	return Config{
		VolDivergenceWeight: 1.0,
		TrendWeight:         1.0,
		RangeWeight:         0.8,
		LiquidityWeight:     1.2,
		EventWeight:         1.5,
		CrossAssetWeight:    0.6,

		VolDivergenceZThreshold: 1.5,
		TrendStrongThreshold:    0.6,
		TrendWeakThreshold:      0.2,
		RangeExpansionRatio:     1.5,
		RangeCompressionRatio:   0.6,
		VacuumSpreadBps:         40,
		VacuumDepthRatio:        0.4,

		HysteresisDelta: 0.3,
		ConfirmPeriods:  3,
		MinDwell:        timeutil.Duration(15 * time.Minute),

		AgreementBlend:      0.45,
		TimeInRegimeBlend:   0.20,
		ClarityBlend:        0.35,
		TimeInRegimeFull:    timeutil.Duration(2 * time.Hour),
		ClarityFullScale:    1.0,
		SwitchPenalty:       10,
		SwitchPenaltyWindow: timeutil.Duration(6 * time.Hour),
	}
}
