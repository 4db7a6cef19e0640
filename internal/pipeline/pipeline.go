// Package pipeline runs the fixed gate sequence over a proposed order and
// produces the immutable signal record. The pipeline never aborts on a gate
// failure: every step runs so the full trace is always captured.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sawpanic/tradegate/internal/domain/adverse"
	"github.com/sawpanic/tradegate/internal/domain/blackout"
	"github.com/sawpanic/tradegate/internal/domain/eligibility"
	"github.com/sawpanic/tradegate/internal/domain/execalgo"
	"github.com/sawpanic/tradegate/internal/domain/portfolio"
	"github.com/sawpanic/tradegate/internal/domain/safemode"
	"github.com/sawpanic/tradegate/internal/domain/slippage"
	"github.com/sawpanic/tradegate/internal/domain/throttle"
	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/metrics"
)

// StepStatus is the per-gate outcome inside the trace.
type StepStatus string

const (
	StepPass    StepStatus = "PASS"
	StepResize  StepStatus = "RESIZE"
	StepBlock   StepStatus = "BLOCK"
	StepSkipped StepStatus = "SKIPPED"
	StepError   StepStatus = "ERROR"
)

// StepTrace records what one gate did with the payload.
type StepTrace struct {
	Name    string         `json:"name"`
	Status  StepStatus     `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Elapsed time.Duration  `json:"elapsed_ns"`
	Details map[string]any `json:"details,omitempty"`
}

// Signal is the final, immutable decision record. It is never an order
// submission; a downstream adapter consumes it.
type Signal struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Symbol       string     `json:"symbol"`
	Side         trade.Side `json:"side"`
	Strategy     string     `json:"strategy"`
	RequestedQty int        `json:"requested_qty"`
	FinalQty     int        `json:"final_qty"`

	Blocked    bool         `json:"blocked"`
	ReduceOnly bool         `json:"reduce_only,omitempty"`
	Action     trade.Action `json:"action"`
	Reasons    []string     `json:"reasons"`
	Steps      []StepTrace  `json:"steps"`

	SafeModeLevel string         `json:"safe_mode_level,omitempty"`
	Plan          *execalgo.Plan `json:"plan,omitempty"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

// Pipeline wires the gates together. Any nil gate is recorded as SKIPPED
// and passed through.
type Pipeline struct {
	EligibilityCfg *eligibility.Config
	Blackout       *blackout.Gate
	SafeMode       *safemode.Monitor
	Adverse        *adverse.Monitor
	Throttle       *throttle.Throttle
	Portfolio      *portfolio.Gate
	Slippage       *slippage.Tracker
	Planner        *execalgo.Planner

	Limiter *rate.Limiter
	Metrics *metrics.Metrics

	// Stress supplies the market-stress snapshot for the safe-mode monitor.
	// The default reads what the request itself carries.
	Stress func(req trade.Request) safemode.Inputs
}

// payload is the accumulated per-evaluation state handed from step to step.
type payload struct {
	req     trade.Request
	qty     int
	blocked bool
	halted  bool
	reasons []string

	capMult      float64
	cooldownMult float64
	allowPassive bool
	reduceOnly   bool
	level        safemode.Level
	plan         *execalgo.Plan
}

type step struct {
	name string
	run  func(*payload) StepTrace
	skip bool
}

// Evaluate runs the full gate sequence for one proposed order.
func (p *Pipeline) Evaluate(ctx context.Context, req trade.Request) Signal {
	start := time.Now()
	now := req.At()

	pl := &payload{
		req:          req,
		qty:          req.Qty,
		capMult:      1,
		cooldownMult: 1,
		allowPassive: true,
	}

	sig := Signal{
		ID:           uuid.New().String(),
		Timestamp:    now,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Strategy:     req.Strategy,
		RequestedQty: req.Qty,
	}

	if p.Limiter != nil && !p.Limiter.Allow() {
		pl.block("rate_limited")
		sig.Steps = append(sig.Steps, StepTrace{Name: "rate_limit", Status: StepBlock, Reason: "rate_limited"})
	}

	steps := []step{
		{name: "slippage", run: p.stepSlippage, skip: p.Slippage == nil},
		{name: "eligibility", run: p.stepEligibility, skip: p.EligibilityCfg == nil},
		{name: "blackout", run: p.stepBlackout, skip: p.Blackout == nil},
		{name: "safe_mode", run: p.stepSafeMode(now), skip: p.SafeMode == nil},
		{name: "adverse_selection", run: p.stepAdverse(now), skip: p.Adverse == nil},
		{name: "throttle", run: p.stepThrottle(now), skip: p.Throttle == nil},
		{name: "portfolio_constraints", run: p.stepPortfolio, skip: p.Portfolio == nil},
		{name: "execution_alpha", run: p.stepPlan, skip: p.Planner == nil},
	}

	for _, s := range steps {
		if s.skip {
			sig.Steps = append(sig.Steps, StepTrace{Name: s.name, Status: StepSkipped})
			continue
		}
		sig.Steps = append(sig.Steps, p.runStep(s, pl))
	}

	sig.Blocked = pl.blocked
	sig.ReduceOnly = pl.reduceOnly
	sig.Reasons = pl.reasons
	sig.FinalQty = pl.qty
	sig.Plan = pl.plan
	if p.SafeMode != nil {
		sig.SafeModeLevel = pl.level.String()
	}

	switch {
	case pl.halted:
		sig.Action = trade.ActionHalt
		sig.FinalQty = 0
	case pl.blocked:
		sig.Action = trade.ActionBlock
		sig.FinalQty = 0
	case pl.qty < req.Qty:
		sig.Action = trade.ActionResize
	default:
		sig.Action = trade.ActionAllow
	}

	sig.Elapsed = time.Since(start)
	p.Metrics.ObserveDecision(string(sig.Action), sig.Elapsed)

	log.Info().
		Str("signal_id", sig.ID).
		Str("symbol", sig.Symbol).
		Str("action", string(sig.Action)).
		Int("qty", sig.FinalQty).
		Dur("elapsed", sig.Elapsed).
		Msg("signal evaluated")
	return sig
}

// runStep isolates gate faults: a panicking gate marks the payload blocked
// with a step error reason and the pipeline moves on.
func (p *Pipeline) runStep(s step, pl *payload) (tr StepTrace) {
	begin := time.Now()
	defer func() {
		if r := recover(); r != nil {
			pl.block(fmt.Sprintf("%s_error:%v", s.name, r))
			tr = StepTrace{
				Name:    s.name,
				Status:  StepError,
				Reason:  fmt.Sprintf("%s_error:%v", s.name, r),
				Elapsed: time.Since(begin),
			}
			log.Error().Str("step", s.name).Interface("panic", r).Msg("gate step failed")
		}
	}()
	tr = s.run(pl)
	tr.Name = s.name
	tr.Elapsed = time.Since(begin)
	if tr.Status == StepBlock {
		p.Metrics.ObserveGateBlock(s.name, tr.Reason)
	}
	return tr
}

func (p *Pipeline) stepSlippage(pl *payload) StepTrace {
	paused, reason := p.Slippage.Paused()
	p.Metrics.SetSlippagePaused(paused)
	if paused {
		pl.halt("slippage_paused:" + reason)
		return StepTrace{Status: StepBlock, Reason: "slippage_paused:" + reason}
	}
	return StepTrace{Status: StepPass}
}

func (p *Pipeline) stepEligibility(pl *payload) StepTrace {
	dec := eligibility.Evaluate(*p.EligibilityCfg, pl.req.Regime, pl.req.Strategy, pl.req.Confidence, pl.qty)
	if !dec.Allowed {
		pl.block(dec.Reason)
		return StepTrace{Status: StepBlock, Reason: dec.Reason, Details: dec.Details}
	}
	return StepTrace{Status: StepPass}
}

func (p *Pipeline) stepBlackout(pl *payload) StepTrace {
	res := p.Blackout.Evaluate(pl.req)
	details := map[string]any{}
	if res.ReduceOnly {
		pl.reduceOnly = true
		details["reduce_only"] = true
	}
	if res.CancelResting {
		details["cancel_resting"] = true
	}
	if res.EscalateSafeMode {
		details["escalate_safe_mode"] = true
	}
	if len(details) == 0 {
		details = nil
	}
	if !res.Decision.Allowed {
		pl.block(res.Decision.Reason)
		return StepTrace{Status: StepBlock, Reason: res.Decision.Reason, Details: details}
	}
	return StepTrace{Status: StepPass, Reason: res.Decision.Reason, Details: details}
}

func (p *Pipeline) stepSafeMode(now time.Time) func(*payload) StepTrace {
	return func(pl *payload) StepTrace {
		in := pl.stressInputs(p.Stress)
		res := p.SafeMode.Evaluate(in, now)
		pl.level = res.Level
		pl.capMult = res.Actions.SizeMultiplier
		pl.cooldownMult = res.Actions.CooldownMultiplier
		if res.Actions.DisablePassive {
			pl.allowPassive = false
		}
		p.Metrics.SetSafeModeLevel(int(res.Level))

		details := map[string]any{
			"level": res.Level.String(),
			"score": res.Score,
		}
		if res.Actions.BlockNewEntries && increasesExposure(pl.req) {
			reason := "safe_mode_block_entries:" + res.Level.String()
			pl.block(reason)
			return StepTrace{Status: StepBlock, Reason: reason, Details: details}
		}
		if pl.capMult < 1 {
			resized := int(float64(pl.qty) * pl.capMult)
			if resized < 1 {
				reason := "safe_mode_size_zero:" + res.Level.String()
				pl.block(reason)
				return StepTrace{Status: StepBlock, Reason: reason, Details: details}
			}
			if resized < pl.qty {
				pl.resize(resized, "safe_mode_size_cut:"+res.Level.String())
				return StepTrace{Status: StepResize, Reason: "safe_mode_size_cut", Details: details}
			}
		}
		return StepTrace{Status: StepPass, Details: details}
	}
}

func (p *Pipeline) stepAdverse(now time.Time) func(*payload) StepTrace {
	return func(pl *payload) StepTrace {
		res := p.Adverse.CheckEntry(now)
		if !res.AllowPassive {
			pl.allowPassive = false
		}
		details := map[string]any{"action": string(res.Action), "score": res.Score}
		if !res.AllowEntries && increasesExposure(pl.req) {
			pl.block(res.Reason)
			return StepTrace{Status: StepBlock, Reason: res.Reason, Details: details}
		}
		return StepTrace{Status: StepPass, Reason: res.Reason, Details: details}
	}
}

func (p *Pipeline) stepThrottle(now time.Time) func(*payload) StepTrace {
	return func(pl *payload) StepTrace {
		res := p.Throttle.CanTrade(pl.req.Regime, pl.req.Urgency, pl.capMult, pl.cooldownMult, now)
		details := map[string]any{"count": res.Count, "cap": res.EffectiveCap}
		if !res.Allowed {
			pl.block(res.Reason)
			if !res.NextAllowedAt.IsZero() {
				details["next_allowed_at"] = res.NextAllowedAt
			}
			return StepTrace{Status: StepBlock, Reason: res.Reason, Details: details}
		}
		return StepTrace{Status: StepPass, Details: details}
	}
}

// stepPlan builds the execution plan for whatever quantity survived the
// gates. A blocked payload gets no plan.
func (p *Pipeline) stepPlan(pl *payload) StepTrace {
	if pl.blocked {
		return StepTrace{Status: StepSkipped, Reason: "order_blocked"}
	}
	plan := p.Planner.BuildPlanConstrained(pl.req, float64(pl.qty), execalgo.Constraints{
		DisallowPassive: !pl.allowPassive,
	})
	pl.plan = &plan
	return StepTrace{Status: StepPass, Details: map[string]any{
		"method":     string(plan.Method),
		"order_type": string(plan.OrderType),
	}}
}

func (p *Pipeline) stepPortfolio(pl *payload) StepTrace {
	req := pl.req
	req.Qty = pl.qty
	dec := p.Portfolio.Evaluate(req)
	switch {
	case dec.Action == trade.ActionHalt:
		pl.halt(dec.Reason)
		return StepTrace{Status: StepBlock, Reason: dec.Reason, Details: dec.Details}
	case !dec.Allowed:
		pl.block(dec.Reason)
		return StepTrace{Status: StepBlock, Reason: dec.Reason, Details: dec.Details}
	case dec.Qty < pl.qty:
		pl.resize(dec.Qty, dec.Reason)
		return StepTrace{Status: StepResize, Reason: dec.Reason, Details: dec.Details}
	}
	return StepTrace{Status: StepPass}
}

func (pl *payload) block(reason string) {
	pl.blocked = true
	pl.reasons = append(pl.reasons, reason)
}

func (pl *payload) halt(reason string) {
	pl.halted = true
	pl.block(reason)
}

func (pl *payload) resize(qty int, reason string) {
	if qty < 0 {
		qty = 0
	}
	pl.qty = qty
	pl.reasons = append(pl.reasons, reason)
}

func (pl *payload) stressInputs(fn func(trade.Request) safemode.Inputs) safemode.Inputs {
	if fn != nil {
		return fn(pl.req)
	}
	return safemode.Inputs{
		SpreadBps:   pl.req.Quote.SpreadBps(),
		VolatilityZ: pl.req.VolatilityZ,
		DepthRatio:  1,
	}
}

// increasesExposure mirrors the reduce-only rule: buys against a flat or
// long book add risk, as do sells against flat or short.
func increasesExposure(req trade.Request) bool {
	pos, ok := req.Portfolio.Positions[req.Symbol]
	if !ok || pos.Qty == 0 {
		return true
	}
	if req.Side == trade.Buy {
		return pos.Qty > 0
	}
	return pos.Qty < 0
}
