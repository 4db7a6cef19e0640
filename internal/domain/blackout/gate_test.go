package blackout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/persist"
)

func newGate(t *testing.T, cfg Config, store persist.Store) *Gate {
	t.Helper()
	g, err := NewGate(cfg, store)
	require.NoError(t, err)
	return g
}

// nyTime builds a request timestamp in the session timezone.
func nyTime(t *testing.T, day time.Time, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
}

var monday = time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC) // a Monday

func buyReq(at time.Time) trade.Request {
	return trade.Request{
		Symbol:    "SPY",
		Side:      trade.Buy,
		Qty:       100,
		Quote:     trade.Quote{Bid: 99.98, Ask: 100.02},
		Timestamp: at,
	}
}

func TestWeekendHardBlock(t *testing.T) {
	g := newGate(t, DefaultConfig(), nil)
	saturday := time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC)

	res := g.Evaluate(buyReq(nyTime(t, saturday, 11, 0)))
	assert.False(t, res.Decision.Allowed)
	assert.Equal(t, "non_trading_day", res.Decision.Reason)
}

func TestHolidayHardBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Holidays = []string{"2026-08-31"}
	g := newGate(t, cfg, nil)

	res := g.Evaluate(buyReq(nyTime(t, monday, 11, 0)))
	assert.Equal(t, "market_holiday", res.Decision.Reason)
}

func TestOutsideSessionHours(t *testing.T) {
	g := newGate(t, DefaultConfig(), nil)

	res := g.Evaluate(buyReq(nyTime(t, monday, 8, 0)))
	assert.Equal(t, "outside_session_hours", res.Decision.Reason)

	res = g.Evaluate(buyReq(nyTime(t, monday, 16, 0)))
	assert.Equal(t, "outside_session_hours", res.Decision.Reason)
}

func TestOpenVacuumReduceOnly(t *testing.T) {
	g := newGate(t, DefaultConfig(), nil)

	// 09:32 is inside the 5-minute open vacuum; a BUY with no position
	// increases exposure.
	res := g.Evaluate(buyReq(nyTime(t, monday, 9, 32)))
	assert.False(t, res.Decision.Allowed)
	assert.Equal(t, "vacuum_window_reduce_only", res.Decision.Reason)
	assert.True(t, res.ReduceOnly)
	assert.True(t, res.CancelResting)
	assert.True(t, res.EscalateSafeMode)
}

func TestCloseVacuumAllowsReduces(t *testing.T) {
	g := newGate(t, DefaultConfig(), nil)

	req := buyReq(nyTime(t, monday, 15, 55))
	req.Side = trade.Sell
	req.Portfolio.Positions = map[string]trade.Position{
		"SPY": {Symbol: "SPY", Qty: 200, MarketValue: 20000},
	}

	res := g.Evaluate(req)
	assert.True(t, res.Decision.Allowed)
	assert.True(t, res.ReduceOnly)
	assert.True(t, res.CancelResting)
}

func TestVacuumBlockMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VacuumModeSetting = VacuumBlock
	g := newGate(t, cfg, nil)

	res := g.Evaluate(buyReq(nyTime(t, monday, 9, 31)))
	assert.Equal(t, "vacuum_window", res.Decision.Reason)
	assert.False(t, res.ReduceOnly)
}

func TestShockTriggersAndPersists(t *testing.T) {
	store := persist.NewFileStore(t.TempDir())
	g := newGate(t, DefaultConfig(), store)

	// 120 bps spread at mid-session trips the shock.
	req := buyReq(nyTime(t, monday, 11, 0))
	req.Quote = trade.Quote{Bid: 99.40, Ask: 100.60}

	res := g.Evaluate(req)
	assert.Equal(t, "spread_shock_reduce_only", res.Decision.Reason)
	assert.True(t, res.CancelResting)
	require.True(t, g.Shock().Active)

	// A restarted gate inherits the shock state and keeps restricting even
	// though spread has normalized (cooldown not elapsed).
	g2 := newGate(t, DefaultConfig(), store)
	res = g2.Evaluate(buyReq(nyTime(t, monday, 11, 2)))
	assert.Equal(t, "spread_shock_reduce_only", res.Decision.Reason)
}

func TestShockSelfClearsAfterCooldownAndRelease(t *testing.T) {
	g := newGate(t, DefaultConfig(), nil)

	req := buyReq(nyTime(t, monday, 11, 0))
	req.Quote = trade.Quote{Bid: 99.40, Ask: 100.60}
	g.Evaluate(req)
	require.True(t, g.Shock().Active)

	// Cooldown elapsed but spread still above release: stays shocked.
	wide := buyReq(nyTime(t, monday, 11, 15))
	wide.Quote = trade.Quote{Bid: 99.70, Ask: 100.30} // 60 bps > release 40
	res := g.Evaluate(wide)
	assert.Equal(t, "spread_shock_reduce_only", res.Decision.Reason)

	// Cooldown elapsed and spread below release: clears.
	calm := buyReq(nyTime(t, monday, 11, 30))
	res = g.Evaluate(calm) // ~4 bps
	assert.True(t, res.Decision.Allowed)
	assert.False(t, g.Shock().Active)
}

func TestOverridesBypassEachCheck(t *testing.T) {
	g := newGate(t, DefaultConfig(), nil)
	saturday := time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC)

	req := buyReq(nyTime(t, saturday, 9, 31))
	req.Overrides = trade.Overrides{
		SkipCalendarCheck: true,
		SkipSessionCheck:  true,
		SkipVacuumCheck:   true,
		SkipShockCheck:    true,
	}
	req.Quote = trade.Quote{Bid: 99.40, Ask: 100.60}

	res := g.Evaluate(req)
	assert.True(t, res.Decision.Allowed)
}

func TestBadConfigFailsFast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Not/AZone"
	_, err := NewGate(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.SessionClose = "09:00"
	_, err = NewGate(cfg, nil)
	assert.Error(t, err)
}
