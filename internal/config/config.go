// Package config loads the top-level YAML configuration. Every gate gets one
// logical section; a required section that is absent is a startup error, not
// a silent default.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/tradegate/internal/domain/adverse"
	"github.com/sawpanic/tradegate/internal/domain/blackout"
	"github.com/sawpanic/tradegate/internal/domain/eligibility"
	"github.com/sawpanic/tradegate/internal/domain/execalgo"
	"github.com/sawpanic/tradegate/internal/domain/portfolio"
	"github.com/sawpanic/tradegate/internal/domain/regime"
	"github.com/sawpanic/tradegate/internal/domain/safemode"
	"github.com/sawpanic/tradegate/internal/domain/slippage"
	"github.com/sawpanic/tradegate/internal/domain/throttle"
)

// StorageConfig selects where gate state and signal history live.
type StorageConfig struct {
	// StateDir is the directory for file-backed gate state.
	StateDir string `yaml:"state_dir"`

	// RedisAddr switches gate state to Redis when set.
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`

	// PostgresDSN enables the signal history store when set.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ServerConfig is the ops HTTP endpoint.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// AuditConfig is the append-only event log.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// RateLimitConfig bounds evaluations per second; zero disables the limiter.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the full application configuration. Gate sections are pointers
// so a missing section is distinguishable from an explicit zero value.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`

	Regime      *regime.Config      `yaml:"regime"`
	Eligibility *eligibility.Config `yaml:"eligibility"`
	Blackout    *blackout.Config    `yaml:"blackout"`
	SafeMode    *safemode.Config    `yaml:"safe_mode"`
	Throttle    *throttle.Config    `yaml:"throttle"`
	Portfolio   *portfolio.Config   `yaml:"portfolio"`
	Adverse     *adverse.Config     `yaml:"adverse_selection"`
	Slippage    *slippage.Config    `yaml:"slippage"`
	ExecAlgo    *execalgo.Config    `yaml:"exec_algo"`
}

// Default returns a complete configuration with every gate at its safe
// defaults and file-backed state under ./state.
func Default() Config {
	reg := regime.DefaultConfig()
	elig := eligibility.DefaultConfig()
	bo := blackout.DefaultConfig()
	sm := safemode.DefaultConfig()
	th := throttle.DefaultConfig()
	pf := portfolio.DefaultConfig()
	adv := adverse.DefaultConfig()
	sl := slippage.DefaultConfig()
	ea := execalgo.DefaultConfig()

	return Config{
		Storage:   StorageConfig{StateDir: "state", RedisPrefix: "tradegate"},
		Server:    ServerConfig{Listen: ":8090"},
		Audit:     AuditConfig{Path: "state/audit.jsonl"},
		RateLimit: RateLimitConfig{PerSecond: 50, Burst: 100},
		Logging:   LoggingConfig{Level: "info"},

		Regime:      &reg,
		Eligibility: &elig,
		Blackout:    &bo,
		SafeMode:    &sm,
		Throttle:    &th,
		Portfolio:   &pf,
		Adverse:     &adv,
		Slippage:    &sl,
		ExecAlgo:    &ea,
	}
}

// Load reads and validates a config file. Defaults are applied first, so a
// file only needs the sections it overrides, but a section explicitly set
// to null fails validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate rejects a configuration that is missing a gate section or carries
// thresholds that cannot work.
func (c *Config) Validate() error {
	required := []struct {
		name    string
		missing bool
	}{
		{"regime", c.Regime == nil},
		{"eligibility", c.Eligibility == nil},
		{"blackout", c.Blackout == nil},
		{"safe_mode", c.SafeMode == nil},
		{"throttle", c.Throttle == nil},
		{"portfolio", c.Portfolio == nil},
		{"adverse_selection", c.Adverse == nil},
		{"slippage", c.Slippage == nil},
		{"exec_algo", c.ExecAlgo == nil},
	}
	for _, r := range required {
		if r.missing {
			return fmt.Errorf("missing required section %q", r.name)
		}
	}

	if c.Storage.StateDir == "" && c.Storage.RedisAddr == "" {
		return fmt.Errorf("storage: either state_dir or redis_addr must be set")
	}
	if c.Regime.ConfirmPeriods < 1 {
		return fmt.Errorf("regime: confirm_periods must be >= 1")
	}
	if c.Slippage.SevereMultiplier <= 0 {
		return fmt.Errorf("slippage: severe_multiplier must be positive")
	}
	if c.ExecAlgo.TWAPSlices < 1 {
		return fmt.Errorf("exec_algo: twap_slices must be >= 1")
	}
	if c.RateLimit.PerSecond < 0 {
		return fmt.Errorf("rate_limit: per_second must not be negative")
	}
	return nil
}
