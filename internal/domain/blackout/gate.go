// Package blackout blocks or restricts trading around known-dangerous time
// windows: non-trading days, out-of-session hours, the vacuum windows just
// after the open and before the close, and spread shocks. Every check is
// independently bypassable through per-call override flags for testing and
// degraded-data operation.
package blackout

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/persist"
	"github.com/sawpanic/tradegate/internal/timeutil"
)

const stateKey = "blackout_shock"

// VacuumMode selects how the open/close vacuum windows restrict orders.
type VacuumMode string

const (
	VacuumReduceOnly VacuumMode = "reduce_only"
	VacuumBlock      VacuumMode = "block"
)

// Config holds the session calendar and shock thresholds.
type Config struct {
	Timezone     string   `yaml:"timezone"`
	SessionOpen  string   `yaml:"session_open"`  // "09:30"
	SessionClose string   `yaml:"session_close"` // "16:00"
	Holidays     []string `yaml:"holidays"`      // "2026-12-25"

	OpenVacuumMinutes  int        `yaml:"open_vacuum_minutes"`
	CloseVacuumMinutes int        `yaml:"close_vacuum_minutes"`
	VacuumModeSetting  VacuumMode `yaml:"vacuum_mode"`

	ShockTriggerBps float64           `yaml:"shock_trigger_bps"`
	ShockReleaseBps float64           `yaml:"shock_release_bps"`
	ShockCooldown   timeutil.Duration `yaml:"shock_cooldown"`
}

func DefaultConfig() Config {
	return Config{
		Timezone:           "America/New_York",
		SessionOpen:        "09:30",
		SessionClose:       "16:00",
		OpenVacuumMinutes:  5,
		CloseVacuumMinutes: 10,
		VacuumModeSetting:  VacuumReduceOnly,
		ShockTriggerBps:    75,
		ShockReleaseBps:    40,
		ShockCooldown:      timeutil.Duration(10 * time.Minute),
	}
}

// ShockState is the persisted timed shock record. The expiry is an absolute
// timestamp so it stays valid across restarts.
type ShockState struct {
	Active       bool      `json:"active"`
	ExpiresAt    time.Time `json:"expires_at"`
	TriggeredBps float64   `json:"triggered_bps"`
}

// Result is the gate decision plus the side signals the orchestrator and
// safe-mode monitor act on.
type Result struct {
	Decision         trade.Decision
	ReduceOnly       bool
	CancelResting    bool
	EscalateSafeMode bool
}

// Gate evaluates the four blackout checks in fixed priority order.
type Gate struct {
	mu        sync.Mutex
	cfg       Config
	loc       *time.Location
	openMins  int
	closeMins int
	holidays  map[string]bool
	shock     ShockState
	store     persist.Store
}

// NewGate validates the calendar config eagerly; a bad timezone or session
// time is a startup error.
func NewGate(cfg Config, store persist.Store) (*Gate, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("blackout timezone: %w", err)
	}
	openMins, err := parseClock(cfg.SessionOpen)
	if err != nil {
		return nil, fmt.Errorf("blackout session_open: %w", err)
	}
	closeMins, err := parseClock(cfg.SessionClose)
	if err != nil {
		return nil, fmt.Errorf("blackout session_close: %w", err)
	}
	if closeMins <= openMins {
		return nil, fmt.Errorf("blackout session close %q not after open %q", cfg.SessionClose, cfg.SessionOpen)
	}

	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		holidays[h] = true
	}

	g := &Gate{cfg: cfg, loc: loc, openMins: openMins, closeMins: closeMins, holidays: holidays, store: store}
	if store != nil {
		var s ShockState
		if found, err := store.Load(stateKey, &s); err == nil && found {
			g.shock = s
		}
	}
	return g, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Evaluate runs the calendar, session, vacuum and shock checks.
func (g *Gate) Evaluate(req trade.Request) Result {
	now := req.At().In(g.loc)
	ov := req.Overrides

	// Check 1: non-trading day.
	if !ov.SkipCalendarCheck {
		if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
			return Result{Decision: trade.Block("non_trading_day", map[string]any{
				"weekday": now.Weekday().String(),
			})}
		}
		if g.holidays[now.Format("2006-01-02")] {
			return Result{Decision: trade.Block("market_holiday", map[string]any{
				"date": now.Format("2006-01-02"),
			})}
		}
	}

	minuteOfDay := now.Hour()*60 + now.Minute()

	// Check 2: outside session hours.
	if !ov.SkipSessionCheck {
		if minuteOfDay < g.openMins || minuteOfDay >= g.closeMins {
			return Result{Decision: trade.Block("outside_session_hours", map[string]any{
				"session_open":  g.cfg.SessionOpen,
				"session_close": g.cfg.SessionClose,
			})}
		}
	}

	// Check 3: open/close vacuum windows.
	if !ov.SkipVacuumCheck {
		inOpenVacuum := minuteOfDay < g.openMins+g.cfg.OpenVacuumMinutes
		inCloseVacuum := minuteOfDay >= g.closeMins-g.cfg.CloseVacuumMinutes
		if inOpenVacuum || inCloseVacuum {
			window := "open"
			if inCloseVacuum {
				window = "close"
			}
			details := map[string]any{"window": window, "mode": string(g.cfg.VacuumModeSetting)}

			if g.cfg.VacuumModeSetting == VacuumBlock {
				return Result{
					Decision:         trade.Block("vacuum_window", details),
					CancelResting:    true,
					EscalateSafeMode: true,
				}
			}
			if increasesExposure(req) {
				return Result{
					Decision:         trade.Block("vacuum_window_reduce_only", details),
					ReduceOnly:       true,
					CancelResting:    true,
					EscalateSafeMode: true,
				}
			}
			return Result{
				Decision:         trade.Allow(req.Qty),
				ReduceOnly:       true,
				CancelResting:    true,
				EscalateSafeMode: true,
			}
		}
	}

	// Check 4: spread shock.
	if !ov.SkipShockCheck {
		if res, shocked := g.evaluateShock(req, now); shocked {
			return res
		}
	}

	return Result{Decision: trade.Allow(req.Qty)}
}

// evaluateShock advances the persisted shock state machine and reports
// whether a shock restriction applies to this request.
func (g *Gate) evaluateShock(req trade.Request, now time.Time) (Result, bool) {
	spread := req.Quote.SpreadBps()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.shock.Active {
		expired := !now.Before(g.shock.ExpiresAt)
		released := spread > 0 && spread < g.cfg.ShockReleaseBps
		if expired && released {
			log.Info().Float64("spread_bps", spread).Msg("spread shock released")
			g.shock = ShockState{}
			g.persistShock()
			return Result{}, false
		}
		if spread >= g.cfg.ShockTriggerBps {
			// Still shocked; restart the cooldown clock.
			g.shock.ExpiresAt = now.Add(g.cfg.ShockCooldown.Std())
			g.shock.TriggeredBps = spread
			g.persistShock()
		}
		return g.shockResult(req, spread), true
	}

	// Spread unknown degrades to skipping the check.
	if spread <= 0 || g.cfg.ShockTriggerBps <= 0 || spread < g.cfg.ShockTriggerBps {
		return Result{}, false
	}

	g.shock = ShockState{Active: true, ExpiresAt: now.Add(g.cfg.ShockCooldown.Std()), TriggeredBps: spread}
	g.persistShock()
	log.Warn().Float64("spread_bps", spread).Msg("spread shock triggered")
	return g.shockResult(req, spread), true
}

func (g *Gate) shockResult(req trade.Request, spread float64) Result {
	details := map[string]any{
		"spread_bps":    spread,
		"triggered_bps": g.shock.TriggeredBps,
		"expires_at":    g.shock.ExpiresAt,
	}
	if increasesExposure(req) {
		return Result{
			Decision:         trade.Block("spread_shock_reduce_only", details),
			ReduceOnly:       true,
			CancelResting:    true,
			EscalateSafeMode: true,
		}
	}
	return Result{
		Decision:         trade.Allow(req.Qty),
		ReduceOnly:       true,
		CancelResting:    true,
		EscalateSafeMode: true,
	}
}

// Shock returns a copy of the persisted shock state.
func (g *Gate) Shock() ShockState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shock
}

func (g *Gate) persistShock() {
	if g.store == nil {
		return
	}
	if err := g.store.Save(stateKey, g.shock); err != nil {
		log.Warn().Err(err).Msg("shock state save failed")
	}
}

// increasesExposure reports whether the order grows the position rather
// than reducing it.
func increasesExposure(req trade.Request) bool {
	pos := req.Portfolio.Positions[req.Symbol]
	switch req.Side {
	case trade.Buy:
		return pos.Qty >= 0
	case trade.Sell:
		return pos.Qty <= 0
	}
	return true
}
