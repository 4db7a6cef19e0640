package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "tradegate"
	version = "v1.2.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Pre-trade risk and compliance gate pipeline",
		Version: version,
		Long: `tradegate runs every proposed order through a fixed sequence of risk
gates (regime eligibility, event blackout, safe-mode, throttle, portfolio
constraints) and emits a signal record with an execution plan.

It never submits orders; the output is consumed by a downstream broker
adapter.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/tradegate.yaml", "path to config file")

	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(fillCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(regimeCmd())
	rootCmd.AddCommand(safeModeCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// setupLogging applies the logging section; pretty output is for terminals.
func setupLogging(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
