package pipeline

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain/adverse"
	"github.com/sawpanic/tradegate/internal/domain/slippage"
	"github.com/sawpanic/tradegate/internal/domain/trade"
)

// FillReport is a realized execution reported back after the fact. It feeds
// the post-fill monitors: the throttle trade count, the adverse-selection
// window, and the slippage budget.
type FillReport struct {
	Symbol string       `json:"symbol"`
	Side   trade.Side   `json:"side"`
	Regime trade.Regime `json:"regime,omitempty"`
	Qty    float64      `json:"qty"`

	ExpectedPrice float64 `json:"expected_price"`
	FillPrice     float64 `json:"fill_price"`
	PostFillPrice float64 `json:"post_fill_price,omitempty"`
	FillSpeedSec  float64 `json:"fill_speed_sec,omitempty"`
	LatencyMs     float64 `json:"latency_ms,omitempty"`
	Equity        float64 `json:"equity,omitempty"`

	ExternalAdverseProb float64 `json:"external_adverse_prob,omitempty"`
	Toxicity            float64 `json:"toxicity,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// At returns the report time, defaulting to now.
func (f FillReport) At() time.Time {
	if f.Timestamp.IsZero() {
		return time.Now()
	}
	return f.Timestamp
}

// FillOutcome is what each monitor made of the fill. Nil sections mean the
// monitor is not configured.
type FillOutcome struct {
	TradeCounted bool             `json:"trade_counted"`
	Adverse      *adverse.Result  `json:"adverse_selection,omitempty"`
	Slippage     *slippage.Result `json:"slippage,omitempty"`
}

// RecordFill routes one realized fill to every configured post-fill monitor.
func (p *Pipeline) RecordFill(rep FillReport) FillOutcome {
	now := rep.At()
	var out FillOutcome

	if p.Throttle != nil && rep.Regime != "" {
		p.Throttle.RecordTrade(rep.Regime, now)
		out.TradeCounted = true
	}
	if p.Adverse != nil {
		res := p.Adverse.RecordFill(adverse.Fill{
			Symbol:              rep.Symbol,
			Side:                rep.Side,
			FillPrice:           rep.FillPrice,
			PostFillPrice:       rep.PostFillPrice,
			FillSpeedSec:        rep.FillSpeedSec,
			LatencyMs:           rep.LatencyMs,
			ExternalAdverseProb: rep.ExternalAdverseProb,
			Toxicity:            rep.Toxicity,
		}, now)
		out.Adverse = &res
	}
	if p.Slippage != nil {
		res := p.Slippage.RecordFill(slippage.FillCost{
			Symbol:        rep.Symbol,
			Side:          rep.Side,
			ExpectedPrice: rep.ExpectedPrice,
			FillPrice:     rep.FillPrice,
			Qty:           rep.Qty,
			Equity:        rep.Equity,
		}, now)
		out.Slippage = &res
		p.Metrics.SetSlippagePaused(res.Paused)
	}

	log.Info().
		Str("symbol", rep.Symbol).
		Float64("fill_price", rep.FillPrice).
		Bool("trade_counted", out.TradeCounted).
		Msg("fill recorded")
	return out
}
