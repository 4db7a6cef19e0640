package regime

import "github.com/sawpanic/tradegate/internal/domain/trade"

// controlsTable maps each committed label to its strategy weight mask and
// execution posture hint.
var controlsTable = map[trade.Regime]Controls{
	trade.RegimeDirectionalExpansion: {
		StrategyWeights: map[string]float64{"momentum": 1.0, "breakout": 0.8, "meanrev": 0.2},
		Posture:         "aggressive",
	},
	trade.RegimeDirectionalCompression: {
		StrategyWeights: map[string]float64{"momentum": 0.3, "breakout": 0.3, "meanrev": 1.0},
		Posture:         "passive",
	},
	trade.RegimeVolatilityExpansion: {
		StrategyWeights: map[string]float64{"momentum": 0.6, "breakout": 1.0, "meanrev": 0.3},
		Posture:         "normal",
	},
	trade.RegimeVolatilityCompression: {
		StrategyWeights: map[string]float64{"momentum": 0.4, "breakout": 0.5, "meanrev": 0.8},
		Posture:         "passive",
	},
	trade.RegimeLiquidityVacuum: {
		StrategyWeights: map[string]float64{"momentum": 0.1, "breakout": 0.0, "meanrev": 0.2},
		Posture:         "passive",
	},
	trade.RegimeEventDominated: {
		StrategyWeights: map[string]float64{"momentum": 0.2, "breakout": 0.2, "meanrev": 0.1},
		Posture:         "passive",
	},
}

// ControlsFor returns the control hints for a label. Weights are halved when
// confidence is below 50 so low-conviction regimes size down automatically.
// Unknown labels get zero weights (fail closed).
func ControlsFor(label trade.Regime, confidence float64) Controls {
	base, ok := controlsTable[label]
	if !ok {
		return Controls{StrategyWeights: map[string]float64{}, Posture: "passive"}
	}

	scale := 1.0
	if confidence < 50 {
		scale = 0.5
	}
	weights := make(map[string]float64, len(base.StrategyWeights))
	for k, w := range base.StrategyWeights {
		weights[k] = w * scale
	}
	return Controls{StrategyWeights: weights, Posture: base.Posture}
}
