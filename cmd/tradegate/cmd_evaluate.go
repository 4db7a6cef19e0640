package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/domain/trade"
)

// evaluateCmd runs one proposed order through the gate pipeline and prints
// the resulting signal.
func evaluateCmd() *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one proposed order",
		Long:  "Reads a request JSON (file or stdin), runs the gate pipeline, and prints the signal record.",
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
				return fmt.Errorf("failed to read request: %w", err)
			}

			var req trade.Request
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("failed to parse request JSON: %w", err)
			}

			a, err := newApp(cmd.Context(), configPath, true)
			if err != nil {
				return err
			}
			defer a.close()

			sig := a.pipeline.Evaluate(cmd.Context(), req)
			if a.signals != nil {
				if err := a.signals.Insert(cmd.Context(), sig); err != nil {
					log.Warn().Err(err).Msg("signal history write failed")
				}
			}

			out, err := json.MarshalIndent(sig, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "-", "request JSON file, - for stdin")
	return cmd
}
