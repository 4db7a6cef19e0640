package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/pipeline"
)

// fillCmd reports one realized fill back to the post-fill monitors.
func fillCmd() *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Record one realized fill",
		Long:  "Reads a fill report JSON (file or stdin), feeds the throttle, adverse-selection, and slippage monitors, and prints the outcome.",
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
				return fmt.Errorf("failed to read fill report: %w", err)
			}

			var rep pipeline.FillReport
			if err := json.Unmarshal(data, &rep); err != nil {
				return fmt.Errorf("failed to parse fill JSON: %w", err)
			}

			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.close()

			out, err := json.MarshalIndent(a.pipeline.RecordFill(rep), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "-", "fill report JSON file, - for stdin")
	return cmd
}
