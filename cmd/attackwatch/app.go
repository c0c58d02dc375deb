package main

import (
	"context"
	"fmt"
	"log/slog"

	"attackwatch/internal/alerts"
	"attackwatch/internal/config"
	"attackwatch/internal/events"
	"attackwatch/internal/logging"
	"attackwatch/internal/metrics"
	"attackwatch/internal/sink"
	"attackwatch/internal/storage"
	"attackwatch/internal/watcher"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg     *config.Config
	path    string
	logger  *slog.Logger
	store   storage.Store
	alerts  *alerts.Store
	metrics *metrics.Store
	events  *events.Publisher
	watcher *watcher.Watcher
}

func loadConfig() (*config.Config, string, *slog.Logger, error) {
	path := config.ResolvePath(configPath)
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, path, logging.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, init bool) (storage.Store, error) {
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if init {
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.Info("schema initialized", "driver", cfg.Storage.Driver)
	}
	return store, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, path, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := openStore(ctx, cfg, logger, cfg.Storage.AutoInit)
	if err != nil {
		return nil, err
	}
	alertSink, err := sink.NewHTTPSink(cfg.Sink)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		path:    path,
		logger:  logger,
		store:   store,
		alerts:  alerts.NewStore(cfg.Alerts.StoreLimit),
		metrics: metrics.NewStore(cfg.Metrics.StoreLimit),
	}
	var publisher watcher.Publisher
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events.URL, cfg.Events.SubjectPrefix)
		if err != nil {
			logger.Warn("nats connect failed, events disabled", "url", cfg.Events.URL, "err", err)
		} else {
			a.events = pub
			publisher = pub
			logger.Info("events enabled", "url", cfg.Events.URL, "prefix", cfg.Events.SubjectPrefix)
		}
	}
	a.watcher = watcher.New(cfg.Watcher, logger, store, alertSink, a.alerts, a.metrics, publisher)
	logger.Info("alert sink configured", "url", alertSink.URL(), "timeout", cfg.Sink.Timeout.String())
	return a, nil
}

func (a *app) Close() {
	if a.events != nil {
		a.events.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "err", err)
	}
}
