package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// stateCmd dumps one gate's persisted state for inspection.
func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "state [gate]",
		Short:     "Print a gate's current state",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"regime", "blackout", "safe_mode", "throttle", "portfolio", "adverse_selection", "slippage"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.close()

			var payload any
			switch args[0] {
			case "regime":
				payload = a.classifier.Snapshot()
			case "blackout":
				payload = a.blackout.Shock()
			case "safe_mode":
				payload = a.safeMode.Snapshot()
			case "throttle":
				payload = a.throttle.Snapshot()
			case "portfolio":
				payload = map[string]any{"peak_nav": a.portfolio.PeakNAV()}
			case "adverse_selection":
				payload = a.adverse.Snapshot()
			case "slippage":
				payload = a.slippage.Snapshot()
			default:
				return fmt.Errorf("unknown gate %q", args[0])
			}

			out, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
