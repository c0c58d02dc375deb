package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and print its report as JSON",
		Long: `Run exactly one watcher cycle and print the cycle report.

Examples:
  # Drain the current backlog once
  attackwatch once --config attackwatch.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := contextOrBackground(cmd)
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			report, cycleErr := a.watcher.RunCycle(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return cycleErr
		},
	}
}
