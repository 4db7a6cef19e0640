package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(xs), 1e-9)

	assert.Equal(t, 0.0, Mean(nil))
}

func TestPercentile(t *testing.T) {
	xs := []float64{15, 20, 35, 40, 50}

	assert.InDelta(t, 35.0, Percentile(xs, 50), 1e-9)
	assert.InDelta(t, 15.0, Percentile(xs, 0), 1e-9)
	assert.InDelta(t, 50.0, Percentile(xs, 100), 1e-9)
	assert.InDelta(t, 48.0, Percentile(xs, 90), 1e-9)

	assert.Equal(t, 0.0, Percentile(nil, 50))
}

func TestMedianEvenLength(t *testing.T) {
	assert.InDelta(t, 2.5, Median([]float64{4, 1, 3, 2}), 1e-9)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-3, 0, 100))
	assert.Equal(t, 100.0, Clamp(250, 0, 100))
	assert.Equal(t, 42.0, Clamp(42, 0, 100))
}

func TestSpreadBps(t *testing.T) {
	// 99.50 / 100.50 -> 100 bps around a 100.00 mid
	assert.InDelta(t, 100.0, SpreadBps(99.50, 100.50), 1e-6)

	assert.Equal(t, 0.0, SpreadBps(0, 100.50))
	assert.Equal(t, 0.0, SpreadBps(101, 100))
}
