package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// resumeCmd clears the slippage kill switch. This is the explicit operator
// action; nothing clears the pause automatically.
func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Clear the slippage kill switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.close()

			paused, reason := a.slippage.Paused()
			if !paused {
				fmt.Println("not paused")
				return nil
			}
			a.slippage.Resume()
			fmt.Printf("cleared pause (%s)\n", reason)
			return nil
		},
	}
}
