package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/domain/safemode"
)

// safeModeCmd holds the operator override controls for the stress monitor.
func safeModeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "safemode",
		Short: "Safe-mode monitor operations",
	}
	cmd.AddCommand(safeModeForceCmd(), safeModeClearCmd())
	return cmd
}

func safeModeForceCmd() *cobra.Command {
	var (
		reason string
		hold   time.Duration
	)

	cmd := &cobra.Command{
		Use:       "force LEVEL",
		Short:     "Pin the safe-mode level, bypassing hysteresis",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"NORMAL", "PRE_ALERT", "ALERT", "HIGH_ALERT", "CRITICAL"},
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := safemode.ParseLevel(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.close()

			var expiresAt time.Time
			if hold > 0 {
				expiresAt = time.Now().Add(hold)
			}
			a.safeMode.Force(level, reason, expiresAt)

			out, err := json.MarshalIndent(a.safeMode.Snapshot(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "operator override", "why the level is pinned")
	cmd.Flags().DurationVar(&hold, "for", 0, "hold duration, 0 means until cleared")
	return cmd
}

func safeModeClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the operator override",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.close()

			a.safeMode.ClearForce()

			out, err := json.MarshalIndent(a.safeMode.Snapshot(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
