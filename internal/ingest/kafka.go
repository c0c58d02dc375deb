package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"attackwatch/internal/config"
	"attackwatch/internal/logging"
	"attackwatch/internal/model"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// StartKafka starts one consumer per record kind. Each message becomes an
// unprocessed detection row.
func StartKafka(ctx context.Context, cfg config.KafkaConfig, w Writer, logger *slog.Logger) {
	logger = logging.OrDiscard(logger)
	if !cfg.Enabled {
		logger.Info("kafka ingest disabled")
		return
	}
	topics := map[model.Kind]string{
		model.KindLog:     cfg.LogTopic,
		model.KindTraffic: cfg.TrafficTopic,
	}
	for _, kind := range model.Kinds {
		topic := topics[kind]
		if topic == "" {
			continue
		}
		logger.Info("kafka ingest enabled", "kind", kind, "brokers", cfg.Brokers, "topic", topic, "group_id", cfg.GroupID)
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1e3,
			MaxBytes: 10e6,
		})
		go consume(ctx, reader, kind, w, logger.With("kind", kind, "topic", topic))
	}
}

func consume(ctx context.Context, reader messageReader, kind model.Kind, w Writer, logger *slog.Logger) {
	defer reader.Close()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", "err", err)
			if !BackoffSleep(ctx, 0) {
				return
			}
			continue
		}
		fields, err := ParseMessage(m.Value)
		if err != nil {
			logger.Warn("kafka message skipped", "offset", m.Offset, "err", err)
			continue
		}
		if fields == nil {
			continue
		}
		if _, err := Insert(ctx, w, kind, *fields); err != nil {
			logger.Warn("kafka detection rejected", "offset", m.Offset, "err", err)
		}
	}
}
