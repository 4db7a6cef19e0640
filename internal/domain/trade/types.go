// Package trade defines the shared contract between the risk gates: the
// proposed-order request that flows down the pipeline and the Decision every
// gate returns.
package trade

import (
	"time"

	"github.com/sawpanic/tradegate/internal/stats"
)

// Side of the proposed order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Regime is the committed market-state label produced by the classifier.
type Regime string

const (
	RegimeDirectionalExpansion   Regime = "directional_expansion"
	RegimeDirectionalCompression Regime = "directional_compression"
	RegimeVolatilityExpansion    Regime = "volatility_expansion"
	RegimeVolatilityCompression  Regime = "volatility_compression"
	RegimeLiquidityVacuum        Regime = "liquidity_vacuum"
	RegimeEventDominated         Regime = "event_dominated"
)

// AllRegimes lists every label, in a stable order.
var AllRegimes = []Regime{
	RegimeDirectionalExpansion,
	RegimeDirectionalCompression,
	RegimeVolatilityExpansion,
	RegimeVolatilityCompression,
	RegimeLiquidityVacuum,
	RegimeEventDominated,
}

// Urgency tier supplied by the strategy.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyNormal Urgency = "NORMAL"
	UrgencyHigh   Urgency = "HIGH"
)

// Action is the decision outcome. HALT is reserved for kill-switch class
// blocks (drawdown, slippage pause) that require operator intervention.
type Action string

const (
	ActionAllow  Action = "ALLOW"
	ActionResize Action = "RESIZE"
	ActionBlock  Action = "BLOCK"
	ActionHalt   Action = "HALT"
)

// Decision is the universal gate output. Qty is always 0 when Allowed is
// false. A Decision is produced fresh per evaluation and never mutated after
// return.
type Decision struct {
	Allowed bool           `json:"allowed"`
	Qty     int            `json:"qty"`
	Reason  string         `json:"reason"`
	Action  Action         `json:"action"`
	Details map[string]any `json:"details,omitempty"`
}

func Allow(qty int) Decision {
	return Decision{Allowed: true, Qty: qty, Reason: "ok", Action: ActionAllow}
}

func Resize(qty int, reason string, details map[string]any) Decision {
	return Decision{Allowed: true, Qty: qty, Reason: reason, Action: ActionResize, Details: details}
}

func Block(reason string, details map[string]any) Decision {
	return Decision{Reason: reason, Action: ActionBlock, Details: details}
}

func Halt(reason string, details map[string]any) Decision {
	return Decision{Reason: reason, Action: ActionHalt, Details: details}
}

// Quote is the already-fetched market snapshot for the request's symbol.
type Quote struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
	Mid  float64 `json:"mid,omitempty"`
}

// MidPrice returns the quoted mid, falling back to (bid+ask)/2 and then to
// last when the book is one-sided or absent.
func (q Quote) MidPrice() float64 {
	if q.Mid > 0 {
		return q.Mid
	}
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// SpreadBps returns the spread in basis points, or 0 when unknown. Gates
// treat 0 as "spread unavailable" and skip spread-based checks.
func (q Quote) SpreadBps() float64 {
	return stats.SpreadBps(q.Bid, q.Ask)
}

// Position is one holding inside the portfolio snapshot.
type Position struct {
	Symbol      string  `json:"symbol"`
	Qty         float64 `json:"qty"`
	MarketValue float64 `json:"market_value"`
}

// Portfolio is the pre-fetched account snapshot the sizing gates read.
type Portfolio struct {
	NAV           float64             `json:"nav"`
	GrossExposure float64             `json:"gross_exposure"`
	VaR95         float64             `json:"var95"`
	VaR95Limit    float64             `json:"var95_limit"`
	Positions     map[string]Position `json:"positions"`
}

// SymbolExposure returns the absolute dollar exposure currently held in
// symbol.
func (p Portfolio) SymbolExposure(symbol string) float64 {
	pos, ok := p.Positions[symbol]
	if !ok {
		return 0
	}
	if pos.MarketValue < 0 {
		return -pos.MarketValue
	}
	return pos.MarketValue
}

// Overrides are explicit per-call escape hatches for testing and
// degraded-data scenarios.
type Overrides struct {
	SkipCalendarCheck bool `json:"skip_calendar_check,omitempty"`
	SkipSessionCheck  bool `json:"skip_session_check,omitempty"`
	SkipVacuumCheck   bool `json:"skip_vacuum_check,omitempty"`
	SkipShockCheck    bool `json:"skip_shock_check,omitempty"`
	ForceVWAP         bool `json:"force_vwap,omitempty"`
	ForceIceberg      bool `json:"force_iceberg,omitempty"`
}

// Request is the proposed order plus the market/portfolio context assembled
// by the caller. Gates only read it; per-gate annotations accumulate on the
// pipeline payload, not here.
type Request struct {
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Qty      int    `json:"qty"`
	Strategy string `json:"strategy"`

	Regime     Regime  `json:"regime"`
	Confidence float64 `json:"confidence"`

	Quote     Quote     `json:"quote"`
	Portfolio Portfolio `json:"portfolio"`

	// MarginalVaR95 is the caller-supplied full-size VaR increment for the
	// requested quantity.
	MarginalVaR95 float64 `json:"marginal_var95,omitempty"`

	// Execution-planning context.
	AvgMinuteVolume float64 `json:"avg_minute_volume,omitempty"`
	VolatilityZ     float64 `json:"volatility_z,omitempty"`
	ExpectedPrice   float64 `json:"expected_price,omitempty"`

	Urgency   Urgency   `json:"urgency,omitempty"`
	Overrides Overrides `json:"overrides,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// At returns the request timestamp, defaulting to now so callers that omit
// it still get a consistent clock for day-key and window math.
func (r Request) At() time.Time {
	if r.Timestamp.IsZero() {
		return time.Now()
	}
	return r.Timestamp
}
