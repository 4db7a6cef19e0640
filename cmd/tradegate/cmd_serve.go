package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/server"
)

// serveCmd runs the ops HTTP server until interrupted.
func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ops HTTP server",
		Long:  "Serves health, metrics, gate state snapshots, signal history, and the evaluate/resume endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, true)
			if err != nil {
				return err
			}
			defer a.close()

			addr := a.cfg.Server.Listen
			if listen != "" {
				addr = listen
			}

			srv := server.New(addr, server.Deps{
				Pipeline:   a.pipeline,
				Classifier: a.classifier,
				Blackout:   a.blackout,
				SafeMode:   a.safeMode,
				Throttle:   a.throttle,
				Adverse:    a.adverse,
				Slippage:   a.slippage,
				Signals:    a.signals,
				Registry:   a.registry,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override listen address from config")
	return cmd
}
