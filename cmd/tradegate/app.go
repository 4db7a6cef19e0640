package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/sawpanic/tradegate/internal/audit"
	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/domain/adverse"
	"github.com/sawpanic/tradegate/internal/domain/blackout"
	"github.com/sawpanic/tradegate/internal/domain/execalgo"
	"github.com/sawpanic/tradegate/internal/domain/portfolio"
	"github.com/sawpanic/tradegate/internal/domain/regime"
	"github.com/sawpanic/tradegate/internal/domain/safemode"
	"github.com/sawpanic/tradegate/internal/domain/slippage"
	"github.com/sawpanic/tradegate/internal/domain/throttle"
	"github.com/sawpanic/tradegate/internal/metrics"
	"github.com/sawpanic/tradegate/internal/persist"
	"github.com/sawpanic/tradegate/internal/pipeline"
	"github.com/sawpanic/tradegate/internal/store"
)

// app is the assembled runtime: config, stores, every gate, and the
// pipeline that strings them together.
type app struct {
	cfg *config.Config

	classifier *regime.Classifier
	blackout   *blackout.Gate
	safeMode   *safemode.Monitor
	adverse    *adverse.Monitor
	throttle   *throttle.Throttle
	portfolio  *portfolio.Gate
	slippage   *slippage.Tracker

	pipeline *pipeline.Pipeline
	signals  *store.SignalStore
	registry *prometheus.Registry
	audit    *audit.Logger
}

// newApp loads config and wires the full gate stack. withSignalStore
// controls whether the Postgres history store is opened; one-shot commands
// skip it.
func newApp(ctx context.Context, path string, withSignalStore bool) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Logging.Level, cfg.Logging.Pretty)

	st, err := newStateStore(cfg)
	if err != nil {
		return nil, err
	}

	var aud *audit.Logger
	if cfg.Audit.Path != "" {
		aud = audit.NewLogger(cfg.Audit.Path)
	}

	bg, err := blackout.NewGate(*cfg.Blackout, st)
	if err != nil {
		return nil, fmt.Errorf("blackout gate: %w", err)
	}
	th, err := throttle.New(*cfg.Throttle, st)
	if err != nil {
		return nil, fmt.Errorf("throttle: %w", err)
	}

	a := &app{
		cfg:        cfg,
		classifier: regime.NewClassifier(*cfg.Regime, st),
		blackout:   bg,
		safeMode:   safemode.NewMonitor(*cfg.SafeMode, st, aud),
		adverse:    adverse.NewMonitor(*cfg.Adverse, st, aud),
		throttle:   th,
		portfolio:  portfolio.NewGate(*cfg.Portfolio, st),
		slippage:   slippage.NewTracker(*cfg.Slippage, st),
		registry:   prometheus.NewRegistry(),
		audit:      aud,
	}

	a.pipeline = &pipeline.Pipeline{
		EligibilityCfg: cfg.Eligibility,
		Blackout:       a.blackout,
		SafeMode:       a.safeMode,
		Adverse:        a.adverse,
		Throttle:       a.throttle,
		Portfolio:      a.portfolio,
		Slippage:       a.slippage,
		Planner:        execalgo.NewPlanner(*cfg.ExecAlgo),
		Metrics:        metrics.New(a.registry),
	}
	if cfg.RateLimit.PerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		a.pipeline.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.PerSecond), burst)
	}

	if withSignalStore && cfg.Storage.PostgresDSN != "" {
		signals, err := store.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("signal store: %w", err)
		}
		a.signals = signals
	}
	return a, nil
}

func (a *app) close() {
	if a.signals != nil {
		a.signals.Close()
	}
}

// newStateStore picks Redis when configured, file-backed state otherwise.
func newStateStore(cfg *config.Config) (persist.Store, error) {
	if cfg.Storage.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		prefix := cfg.Storage.RedisPrefix
		if prefix == "" {
			prefix = "tradegate"
		}
		return persist.NewRedisStore(client, prefix), nil
	}
	if cfg.Storage.StateDir == "" {
		return nil, fmt.Errorf("storage: no state backend configured")
	}
	return persist.NewFileStore(cfg.Storage.StateDir), nil
}
