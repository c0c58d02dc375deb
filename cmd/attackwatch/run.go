package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"attackwatch/internal/api"
	"attackwatch/internal/ingest"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the polling loop until interrupted",
		Long: `Run the watcher loop. One cycle runs immediately and then once per poll
interval. The status API, REST ingest, Kafka ingest and NATS events start
when enabled in the configuration.`,
		Args: cobra.NoArgs,
		RunE: runWatcher,
	}
}

func runWatcher(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ingest.StartREST(ctx, a.cfg.Ingest.REST, a.store, a.logger)
	ingest.StartKafka(ctx, a.cfg.Ingest.Kafka, a.store, a.logger)
	server := api.New(api.Options{
		Config:     a.cfg,
		ConfigPath: a.path,
		Metrics:    a.metrics,
		Alerts:     a.alerts,
		Runner:     a.watcher,
		Counter:    a.store,
		Logger:     a.logger,
		Version:    version,
	})
	api.Start(ctx, a.cfg.API, server, a.logger)

	a.logger.Info("attackwatch starting", "version", version, "config", a.path, "driver", a.cfg.Storage.Driver)
	return a.watcher.Run(ctx)
}

func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
