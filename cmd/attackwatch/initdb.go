package main

import (
	"github.com/spf13/cobra"
)

func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the detection and alert history tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, logger, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(contextOrBackground(cmd), cfg, logger, true)
			if err != nil {
				return err
			}
			return store.Close()
		},
	}
}
