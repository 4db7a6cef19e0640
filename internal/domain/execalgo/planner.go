// Package execalgo selects an execution method and child-order schedule for
// an approved trade. It never submits orders; the plan is advisory output
// for a downstream broker adapter.
package execalgo

import (
	"fmt"
	"time"

	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/timeutil"
)

// Method is the order-slicing algorithm.
type Method string

const (
	MethodDirect  Method = "DIRECT"
	MethodTWAP    Method = "TWAP"
	MethodVWAP    Method = "VWAP"
	MethodPOV     Method = "POV"
	MethodIceberg Method = "ICEBERG"
)

// OrderType is how each child order is priced.
type OrderType string

const (
	OrderLimit           OrderType = "LIMIT"
	OrderMarketableLimit OrderType = "MARKETABLE_LIMIT"
)

// ChildOrder is one slice of the parent quantity.
type ChildOrder struct {
	Qty        float64   `json:"qty"`
	Type       OrderType `json:"type"`
	LimitPrice float64   `json:"limit_price"`
	StartAfter float64   `json:"start_after_sec"`
	Window     float64   `json:"window_sec"`
	Tag        string    `json:"tag"`
}

// Plan is the full execution recommendation.
type Plan struct {
	Method          Method       `json:"method"`
	OrderType       OrderType    `json:"order_type"`
	LimitPrice      float64      `json:"limit_price"`
	Children        []ChildOrder `json:"children"`
	EstSlippageBps  float64      `json:"est_slippage_bps"`
	MaxSlippageBps  float64      `json:"max_slippage_bps"`
	Rationale       string       `json:"rationale"`
	SpreadBps       float64      `json:"spread_bps"`
	WideSpread      bool         `json:"wide_spread"`
	LiquidityADVMin float64      `json:"liquidity_adv_min"`
}

// Config holds the planner thresholds.
type Config struct {
	ParticipationThreshold float64 `yaml:"participation_threshold"` // of avg minute volume; above is "large"
	HighVolatilityZ        float64 `yaml:"high_volatility_z"`       // large orders use POV at/above this

	WideSpreadBps    float64 `yaml:"wide_spread_bps"`
	PassiveOffsetPct float64 `yaml:"passive_offset_pct"` // fraction of half-spread off mid toward near touch
	CrossOffsetBps   float64 `yaml:"cross_offset_bps"`   // marketable limit offset past near touch
	UrgentOffsetBps  float64 `yaml:"urgent_offset_bps"`

	TWAPSlices        int               `yaml:"twap_slices"`
	TWAPDuration      timeutil.Duration `yaml:"twap_duration"`
	IcebergDisplayPct float64           `yaml:"iceberg_display_pct"`
	POVRate           float64           `yaml:"pov_rate"` // fraction of avg minute volume per chunk

	UrgencyAddOnBps float64 `yaml:"urgency_add_on_bps"`
	HardCeilingBps  float64 `yaml:"hard_ceiling_bps"`
}

func DefaultConfig() Config {
	return Config{
		ParticipationThreshold: 0.5,
		HighVolatilityZ:        1.5,
		WideSpreadBps:          50,
		PassiveOffsetPct:       0.1,
		CrossOffsetBps:         2,
		UrgentOffsetBps:        8,
		TWAPSlices:             8,
		TWAPDuration:           timeutil.Duration(10 * time.Minute),
		IcebergDisplayPct:      0.1,
		POVRate:                0.1,
		UrgencyAddOnBps:        5,
		HardCeilingBps:         30,
	}
}

// algoDiscount scales the slippage estimate for sliced methods.
var algoDiscount = map[Method]float64{
	MethodDirect:  1.0,
	MethodTWAP:    0.6,
	MethodVWAP:    0.6,
	MethodPOV:     0.7,
	MethodIceberg: 0.8,
}

// Planner is stateless; all inputs arrive on the request.
type Planner struct {
	cfg Config
}

func NewPlanner(cfg Config) *Planner {
	return &Planner{cfg: cfg}
}

// Constraints narrow the plan under stress directives from upstream gates.
type Constraints struct {
	// DisallowPassive forces marketable pricing even on a wide spread, used
	// when adverse-selection or safe-mode state has suspended passive quoting.
	DisallowPassive bool
}

// BuildPlan produces the execution plan for an approved request. qty is the
// post-resize quantity, which may be smaller than req.Qty.
func (p *Planner) BuildPlan(req trade.Request, qty float64) Plan {
	return p.BuildPlanConstrained(req, qty, Constraints{})
}

func (p *Planner) BuildPlanConstrained(req trade.Request, qty float64, c Constraints) Plan {
	// Price off the caller's decision price when it carries one; the quote
	// mid is the fallback.
	anchor := req.ExpectedPrice
	if anchor <= 0 {
		anchor = req.Quote.MidPrice()
	}
	spreadBps := req.Quote.SpreadBps()

	method, why := p.selectMethod(req, qty)
	wide := p.cfg.WideSpreadBps > 0 && spreadBps >= p.cfg.WideSpreadBps

	orderType, limit := p.priceOrder(req, anchor, spreadBps, wide && !c.DisallowPassive)

	plan := Plan{
		Method:          method,
		OrderType:       orderType,
		LimitPrice:      limit,
		EstSlippageBps:  p.estimateSlippage(method, spreadBps, req.Urgency),
		MaxSlippageBps:  p.cfg.HardCeilingBps,
		SpreadBps:       spreadBps,
		WideSpread:      wide,
		LiquidityADVMin: req.AvgMinuteVolume,
	}
	plan.Children = p.schedule(method, qty, orderType, limit, req.AvgMinuteVolume)
	plan.Rationale = fmt.Sprintf("%s/%s: %s; spread %.1fbps", method, orderType, why, spreadBps)
	return plan
}

func (p *Planner) selectMethod(req trade.Request, qty float64) (Method, string) {
	if req.Overrides.ForceVWAP {
		return MethodVWAP, "vwap forced"
	}
	if req.Overrides.ForceIceberg {
		return MethodIceberg, "iceberg forced"
	}
	if req.AvgMinuteVolume > 0 && p.cfg.ParticipationThreshold > 0 &&
		qty > req.AvgMinuteVolume*p.cfg.ParticipationThreshold {
		if req.VolatilityZ >= p.cfg.HighVolatilityZ {
			return MethodPOV, "large order in volatile tape"
		}
		return MethodTWAP, "large order in calm tape"
	}
	return MethodDirect, "within participation threshold"
}

// priceOrder picks the order type and limit price. Passive limits sit at or
// near the anchor and never cross; marketable limits sit past the near touch
// to bound the worst fill.
func (p *Planner) priceOrder(req trade.Request, anchor, spreadBps float64, wide bool) (OrderType, float64) {
	if anchor <= 0 {
		return OrderLimit, 0
	}
	halfSpread := anchor * spreadBps / 10000 / 2

	if wide {
		limit := anchor
		if off := halfSpread * p.cfg.PassiveOffsetPct; off > 0 {
			if req.Side == trade.Buy {
				limit = anchor + off
			} else {
				limit = anchor - off
			}
		}
		return OrderLimit, limit
	}

	offsetBps := p.cfg.CrossOffsetBps
	if req.Urgency == trade.UrgencyHigh {
		offsetBps = p.cfg.UrgentOffsetBps
	}
	offset := anchor * offsetBps / 10000
	if req.Side == trade.Buy {
		touch := anchor + halfSpread // ask
		return OrderMarketableLimit, touch + offset
	}
	touch := anchor - halfSpread // bid
	return OrderMarketableLimit, touch - offset
}

func (p *Planner) estimateSlippage(method Method, spreadBps float64, urgency trade.Urgency) float64 {
	est := spreadBps / 2
	if urgency == trade.UrgencyHigh {
		est += p.cfg.UrgencyAddOnBps
	}
	if d, ok := algoDiscount[method]; ok {
		est *= d
	}
	if ceil := 2 * p.cfg.HardCeilingBps; ceil > 0 && est > ceil {
		est = ceil
	}
	return est
}

func (p *Planner) schedule(method Method, qty float64, ot OrderType, limit, avgMinVol float64) []ChildOrder {
	switch method {
	case MethodTWAP, MethodVWAP:
		return p.evenSlices(method, qty, ot, limit)
	case MethodIceberg:
		return p.icebergSlices(qty, ot, limit)
	case MethodPOV:
		return p.povSlices(qty, ot, limit, avgMinVol)
	default:
		return []ChildOrder{{Qty: qty, Type: ot, LimitPrice: limit, Tag: "direct-1"}}
	}
}

// evenSlices divides qty over N timed slices; fractional remainder goes to
// the leading slices so sizes differ by at most one unit.
func (p *Planner) evenSlices(method Method, qty float64, ot OrderType, limit float64) []ChildOrder {
	n := p.cfg.TWAPSlices
	if n < 1 {
		n = 1
	}
	window := p.cfg.TWAPDuration.Std().Seconds() / float64(n)
	base := float64(int(qty) / n)
	rem := int(qty) - int(base)*n
	frac := qty - float64(int(qty))

	children := make([]ChildOrder, 0, n)
	for i := 0; i < n; i++ {
		childQty := base
		if i < rem {
			childQty++
		}
		if i == 0 {
			childQty += frac
		}
		if childQty <= 0 {
			continue
		}
		children = append(children, ChildOrder{
			Qty:        childQty,
			Type:       ot,
			LimitPrice: limit,
			StartAfter: float64(i) * window,
			Window:     window,
			Tag:        fmt.Sprintf("%s-%d", method, i+1),
		})
	}
	return children
}

func (p *Planner) icebergSlices(qty float64, ot OrderType, limit float64) []ChildOrder {
	display := qty * p.cfg.IcebergDisplayPct
	if display <= 0 || display >= qty {
		return []ChildOrder{{Qty: qty, Type: ot, LimitPrice: limit, Tag: "ICEBERG-1"}}
	}
	var children []ChildOrder
	remaining := qty
	for i := 1; remaining > 1e-9; i++ {
		child := display
		if child > remaining {
			child = remaining
		}
		children = append(children, ChildOrder{
			Qty: child, Type: ot, LimitPrice: limit, Tag: fmt.Sprintf("ICEBERG-%d", i),
		})
		remaining -= child
	}
	return children
}

func (p *Planner) povSlices(qty float64, ot OrderType, limit, avgMinVol float64) []ChildOrder {
	chunk := avgMinVol * p.cfg.POVRate
	if chunk <= 0 {
		return []ChildOrder{{Qty: qty, Type: ot, LimitPrice: limit, Tag: "POV-1"}}
	}
	var children []ChildOrder
	remaining := qty
	for i := 1; remaining > 1e-9; i++ {
		child := chunk
		if child > remaining {
			child = remaining
		}
		children = append(children, ChildOrder{
			Qty:        child,
			Type:       ot,
			LimitPrice: limit,
			StartAfter: float64(i-1) * 60,
			Window:     60,
			Tag:        fmt.Sprintf("POV-%d", i),
		})
		remaining -= child
	}
	return children
}
