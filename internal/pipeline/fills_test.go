package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain/trade"
)

func TestRecordFillFeedsMonitors(t *testing.T) {
	p := newTestPipeline(t)

	out := p.RecordFill(FillReport{
		Symbol:        "BTC-USD",
		Side:          trade.Buy,
		Regime:        trade.RegimeDirectionalExpansion,
		Qty:           10,
		ExpectedPrice: 100,
		FillPrice:     100.10,
		PostFillPrice: 99.90,
		FillSpeedSec:  0.2,
		Equity:        1_000_000,
		Timestamp:     sessionNow,
	})

	assert.True(t, out.TradeCounted)
	require.NotNil(t, out.Slippage)
	assert.InDelta(t, 10, out.Slippage.SlippageBps, 0.01)
	require.NotNil(t, out.Adverse)

	// The throttle saw the trade.
	assert.Equal(t, 1, p.Throttle.Snapshot().Counts[trade.RegimeDirectionalExpansion])

	// And the next entry in the same regime sits in cooldown.
	sig := p.Evaluate(context.Background(), sessionRequest())
	assert.True(t, sig.Blocked)
	assert.Contains(t, sig.Reasons, "cooldown_active")
}

func TestRecordFillWithoutRegimeSkipsThrottle(t *testing.T) {
	p := newTestPipeline(t)

	out := p.RecordFill(FillReport{
		Symbol:        "BTC-USD",
		Side:          trade.Sell,
		Qty:           5,
		ExpectedPrice: 100,
		FillPrice:     100.05, // price improvement on a sell
		Timestamp:     sessionNow,
	})

	assert.False(t, out.TradeCounted)
	require.NotNil(t, out.Slippage)
	assert.InDelta(t, -5, out.Slippage.SlippageBps, 0.01)
}
