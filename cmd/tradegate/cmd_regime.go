package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/domain/regime"
)

// regimeCmd inspects and advances the regime classifier.
func regimeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regime",
		Short: "Regime classifier operations",
	}
	cmd.AddCommand(regimeShowCmd(), regimeUpdateCmd())
	return cmd
}

func regimeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the committed regime and its strategy controls",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.close()

			state := a.classifier.Snapshot()
			out, err := json.MarshalIndent(map[string]any{
				"state":    state,
				"controls": regime.ControlsFor(state.Label, 100),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func regimeUpdateCmd() *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Feed one feature snapshot to the classifier",
		Long:  "Reads a features JSON (file or stdin), runs one classifier update, and prints the detection.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if inputPath == "" || inputPath == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(inputPath)
			}
			if err != nil {
				return fmt.Errorf("failed to read features: %w", err)
			}

			var f regime.Features
			if err := json.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("failed to parse features JSON: %w", err)
			}

			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.close()

			det := a.classifier.Update(f, time.Now())
			out, err := json.MarshalIndent(det, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "-", "features JSON file, - for stdin")
	return cmd
}
