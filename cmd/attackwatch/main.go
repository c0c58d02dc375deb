// attackwatch polls detection tables for unprocessed attack records, groups
// them per user and attack type, and posts one alert per group per cooldown
// window to the alerting backend.
//
// Usage:
//
//	attackwatch run --config attackwatch.yaml
//	attackwatch once
//	attackwatch init-db
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "attackwatch",
		Short: "Watch attack detections and dispatch alerts",
		Long: `attackwatch reads unprocessed rows from the attack_log and attack_traffic
tables, sends one alert per (user, attack type) per cooldown window, and marks
every fetched row processed in the same transaction.

Configuration comes from an optional YAML or JSON file overlaid with
environment variables such as DATABASE_URL and MONITORING_POLLING_INTERVAL.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runWatcher,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("ATTACKWATCH_CONFIG"), "Path to YAML or JSON config file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(onceCmd())
	rootCmd.AddCommand(initDBCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
