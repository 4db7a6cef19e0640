// Package metrics exposes Prometheus collectors for the gate pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is a
// no-op so gates can run without a registry wired in.
type Metrics struct {
	decisions      *prometheus.CounterVec
	gateBlocks     *prometheus.CounterVec
	evalDuration   prometheus.Histogram
	safeModeLevel  prometheus.Gauge
	slippagePaused prometheus.Gauge
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradegate_decisions_total",
			Help: "Final pipeline decisions by action",
		}, []string{"action"}),
		gateBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradegate_gate_blocks_total",
			Help: "Blocks per gate and reason code",
		}, []string{"gate", "reason"}),
		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradegate_evaluation_seconds",
			Help:    "Wall time of one pipeline evaluation",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		safeModeLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradegate_safemode_level",
			Help: "Current safe-mode level (0=NORMAL .. 4=CRITICAL)",
		}),
		slippagePaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradegate_slippage_paused",
			Help: "1 when the slippage kill switch is engaged",
		}),
	}
	reg.MustRegister(m.decisions, m.gateBlocks, m.evalDuration, m.safeModeLevel, m.slippagePaused)
	return m
}

func (m *Metrics) ObserveDecision(action string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(action).Inc()
	m.evalDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveGateBlock(gate, reason string) {
	if m == nil {
		return
	}
	m.gateBlocks.WithLabelValues(gate, reason).Inc()
}

func (m *Metrics) SetSafeModeLevel(level int) {
	if m == nil {
		return
	}
	m.safeModeLevel.Set(float64(level))
}

func (m *Metrics) SetSlippagePaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.slippagePaused.Set(1)
	} else {
		m.slippagePaused.Set(0)
	}
}
