// Package portfolio sizes exposure-increasing orders against concentration,
// leverage and VaR budgets, and hard-halts all trading past the drawdown
// limit. Every binding constraint proposes a maximum quantity; the tightest
// one wins, ties broken by check order.
package portfolio

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/persist"
)

const stateKey = "portfolio"

// Config holds the sizing limits. A regime missing from GrossLeverageCap
// gets a cap of 0, which blocks (fail closed).
type Config struct {
	// HardDrawdown is the peak-to-trough NAV loss fraction that halts all
	// trading, reduces included.
	HardDrawdown float64 `yaml:"hard_drawdown"`

	// SymbolConcentration caps one symbol's exposure as a NAV fraction.
	SymbolConcentration float64 `yaml:"symbol_concentration"`

	GrossLeverageCap map[trade.Regime]float64 `yaml:"gross_leverage_cap"`

	// VaR95BudgetFrac caps portfolio VaR95 as a NAV fraction; a positive
	// snapshot-level VaR95Limit overrides it.
	VaR95BudgetFrac float64 `yaml:"var95_budget_frac"`
}

func DefaultConfig() Config {
	return Config{
		HardDrawdown:        0.15,
		SymbolConcentration: 0.05,
		GrossLeverageCap: map[trade.Regime]float64{
			trade.RegimeDirectionalExpansion:   2.0,
			trade.RegimeDirectionalCompression: 2.0,
			trade.RegimeVolatilityExpansion:    1.5,
			trade.RegimeVolatilityCompression:  2.0,
			trade.RegimeLiquidityVacuum:        1.0,
			trade.RegimeEventDominated:         1.0,
		},
		VaR95BudgetFrac: 0.03,
	}
}

// State is the persisted high-water mark used for drawdown.
type State struct {
	PeakNAV float64 `json:"peak_nav"`
}

type candidate struct {
	maxQty  int
	reason  string
	details map[string]any
}

// Gate owns the peak-NAV record.
type Gate struct {
	mu    sync.Mutex
	cfg   Config
	state State
	store persist.Store
}

func NewGate(cfg Config, store persist.Store) *Gate {
	g := &Gate{cfg: cfg, store: store}
	if store != nil {
		var s State
		if found, err := store.Load(stateKey, &s); err == nil && found {
			g.state = s
		}
	}
	return g
}

// PeakNAV returns the current high-water mark.
func (g *Gate) PeakNAV() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.PeakNAV
}

// Evaluate runs the drawdown, concentration, leverage and VaR checks in
// order. Only BUY orders are resized; SELLs pass every check except the
// drawdown halt.
func (g *Gate) Evaluate(req trade.Request) trade.Decision {
	nav := req.Portfolio.NAV
	if nav <= 0 {
		return trade.Block("nav_unavailable", nil)
	}

	peak := g.updatePeak(nav)

	// Check 1: drawdown hard halt blocks everything, reduces included.
	if peak > 0 && g.cfg.HardDrawdown > 0 {
		drawdown := (peak - nav) / peak
		if drawdown >= g.cfg.HardDrawdown {
			log.Warn().
				Float64("drawdown", drawdown).
				Float64("peak_nav", peak).
				Float64("nav", nav).
				Msg("drawdown hard halt")
			return trade.Halt("drawdown_hard_halt", map[string]any{
				"drawdown":   drawdown,
				"hard_limit": g.cfg.HardDrawdown,
				"peak_nav":   peak,
				"nav":        nav,
			})
		}
	}

	if req.Side != trade.Buy {
		return trade.Allow(req.Qty)
	}

	price := req.Quote.MidPrice()
	if price <= 0 {
		// Unknown price: the dollar-based checks cannot run safely.
		return trade.Block("price_unavailable", nil)
	}

	var candidates []candidate

	// Check 2: symbol concentration.
	if g.cfg.SymbolConcentration > 0 {
		capUSD := nav * g.cfg.SymbolConcentration
		exposure := req.Portfolio.SymbolExposure(req.Symbol)
		if headroom := capUSD - exposure; float64(req.Qty)*price > headroom {
			candidates = append(candidates, candidate{
				maxQty: int(math.Floor(headroom / price)),
				reason: "symbol_concentration",
				details: map[string]any{
					"cap_usd":      capUSD,
					"exposure_usd": exposure,
					"headroom_usd": headroom,
				},
			})
		}
	}

	// Check 3: gross leverage, bucketed by regime. Missing bucket -> 0.
	levCap := g.cfg.GrossLeverageCap[req.Regime]
	{
		capUSD := nav * levCap
		if headroom := capUSD - req.Portfolio.GrossExposure; float64(req.Qty)*price > headroom {
			candidates = append(candidates, candidate{
				maxQty: int(math.Floor(headroom / price)),
				reason: "gross_leverage",
				details: map[string]any{
					"leverage_cap": levCap,
					"gross_usd":    req.Portfolio.GrossExposure,
					"headroom_usd": headroom,
				},
			})
		}
	}

	// Check 4: VaR95 budget, from the caller-supplied full-size increment.
	if req.MarginalVaR95 > 0 && req.Qty > 0 {
		budget := req.Portfolio.VaR95Limit
		if budget <= 0 {
			budget = nav * g.cfg.VaR95BudgetFrac
		}
		perUnit := req.MarginalVaR95 / float64(req.Qty)
		if headroom := budget - req.Portfolio.VaR95; req.MarginalVaR95 > headroom && perUnit > 0 {
			candidates = append(candidates, candidate{
				maxQty: int(math.Floor(headroom / perUnit)),
				reason: "var95_budget",
				details: map[string]any{
					"budget_usd":   budget,
					"current_var":  req.Portfolio.VaR95,
					"headroom_usd": headroom,
				},
			})
		}
	}

	if len(candidates) == 0 {
		return trade.Allow(req.Qty)
	}

	// Tightest candidate wins; first match on ties.
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.maxQty < winner.maxQty {
			winner = c
		}
	}

	if winner.maxQty <= 0 {
		return trade.Block(winner.reason, winner.details)
	}
	if winner.maxQty >= req.Qty {
		return trade.Allow(req.Qty)
	}
	return trade.Resize(winner.maxQty, winner.reason, winner.details)
}

// updatePeak raises and persists the high-water mark when NAV makes a new
// high, and returns the effective peak.
func (g *Gate) updatePeak(nav float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if nav > g.state.PeakNAV {
		g.state.PeakNAV = nav
		if g.store != nil {
			if err := g.store.Save(stateKey, g.state); err != nil {
				log.Warn().Err(err).Msg("peak NAV save failed")
			}
		}
	}
	return g.state.PeakNAV
}
