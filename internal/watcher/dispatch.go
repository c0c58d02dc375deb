package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"attackwatch/internal/model"
	"attackwatch/internal/sink"
)

// Sink delivers one alert payload to the downstream alerting endpoint.
type Sink interface {
	Send(ctx context.Context, payload model.AlertPayload) error
}

// Dispatcher fans a batch of payloads out to the sink concurrently and
// collects one outcome per payload. It never returns an error: delivery
// failures are logged and reported in the outcome.
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger
	limit  int
	now    func() time.Time
}

func NewDispatcher(s Sink, logger *slog.Logger, limit int) *Dispatcher {
	return &Dispatcher{sink: s, logger: logger, limit: limit, now: func() time.Time { return time.Now().UTC() }}
}

func (d *Dispatcher) DispatchAll(ctx context.Context, cycleID string, payloads []model.AlertPayload) []model.DispatchRecord {
	out := make([]model.DispatchRecord, len(payloads))
	if len(payloads) == 0 {
		return out
	}
	var g errgroup.Group
	if d.limit > 0 {
		g.SetLimit(d.limit)
	}
	for i, p := range payloads {
		i, p := i, p
		g.Go(func() error {
			out[i] = d.notify(ctx, cycleID, p)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Dispatcher) notify(ctx context.Context, cycleID string, p model.AlertPayload) (rec model.DispatchRecord) {
	rec = model.DispatchRecord{CycleID: cycleID, Payload: p}
	defer func() {
		if r := recover(); r != nil {
			rec.Delivered = false
			rec.Error = "sink panic"
			d.logger.Error("alert sink panicked", "user_id", p.UserID, "attack_type", p.AttackType, "panic", r)
		}
		rec.Timestamp = d.now()
	}()
	err := d.sink.Send(ctx, p)
	if err == nil {
		rec.Delivered = true
		d.logger.Info("alert delivered",
			"user_id", p.UserID,
			"attack_type", p.AttackType,
			"source", p.Source,
			"count", p.Count,
		)
		return rec
	}
	rec.Error = err.Error()
	var se *sink.SinkError
	if errors.As(err, &se) {
		rec.StatusCode = se.StatusCode
	}
	d.logger.Warn("alert delivery failed",
		"user_id", p.UserID,
		"attack_type", p.AttackType,
		"source", p.Source,
		"status", rec.StatusCode,
		"err", err,
	)
	return rec
}
