// Package eligibility implements the static regime×strategy allow/deny
// mask. Evaluation is a pure function: prohibit entries always win, an allow
// list (when present) is exhaustive, and a regime with no entries falls back
// to the configured default policy.
package eligibility

import (
	"path"

	"github.com/sawpanic/tradegate/internal/domain/trade"
)

// Config is the mask plus its confidence floor. Strategy entries may be
// exact ids or glob patterns ("mom_*").
type Config struct {
	// ConfidenceFloor blocks everything when the classifier confidence is
	// below it, regardless of mask content.
	ConfidenceFloor float64 `yaml:"confidence_floor"`

	// Allow lists strategies permitted per regime. A regime present here is
	// exhaustive: strategies not matching are blocked.
	Allow map[trade.Regime][]string `yaml:"allow"`

	// Prohibit lists strategies denied per regime. Prohibit wins over allow.
	Prohibit map[trade.Regime][]string `yaml:"prohibit"`

	// DefaultAllow is the policy for regimes with no entries at all.
	DefaultAllow bool `yaml:"default_allow"`
}

func DefaultConfig() Config {
	return Config{
		ConfidenceFloor: 25,
		Prohibit: map[trade.Regime][]string{
			trade.RegimeLiquidityVacuum: {"*"},
			trade.RegimeEventDominated:  {"breakout*", "momentum*"},
		},
		DefaultAllow: true,
	}
}

// Evaluate applies the mask to one request.
func Evaluate(cfg Config, regime trade.Regime, strategy string, confidence float64, qty int) trade.Decision {
	if confidence < cfg.ConfidenceFloor {
		return trade.Block("regime_confidence_below_floor", map[string]any{
			"confidence": confidence,
			"floor":      cfg.ConfidenceFloor,
		})
	}

	if pattern, hit := match(cfg.Prohibit[regime], strategy); hit {
		return trade.Block("strategy_prohibited_in_regime", map[string]any{
			"regime":  string(regime),
			"pattern": pattern,
		})
	}

	if allowList, exists := cfg.Allow[regime]; exists {
		if _, hit := match(allowList, strategy); !hit {
			return trade.Block("strategy_not_in_regime_allowlist", map[string]any{
				"regime": string(regime),
			})
		}
		return trade.Allow(qty)
	}

	known := len(cfg.Prohibit[regime]) > 0
	if !known {
		// Regime absent from both tables: default policy decides.
		if !cfg.DefaultAllow {
			return trade.Block("regime_default_prohibit", map[string]any{
				"regime": string(regime),
			})
		}
	}
	return trade.Allow(qty)
}

// match reports whether strategy matches any entry, exact or glob.
func match(patterns []string, strategy string) (string, bool) {
	for _, p := range patterns {
		if p == strategy {
			return p, true
		}
		if ok, err := path.Match(p, strategy); err == nil && ok {
			return p, true
		}
	}
	return "", false
}
