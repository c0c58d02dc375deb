package ingest

import (
	"context"
	"fmt"
	"time"

	"attackwatch/internal/model"
	"attackwatch/internal/normalize"
)

// Writer is the part of the record store ingest needs.
type Writer interface {
	InsertLogDetection(ctx context.Context, d model.LogDetection) (int64, error)
	InsertTrafficDetection(ctx context.Context, d model.TrafficDetection) (int64, error)
}

// Insert normalizes fields as a detection of kind and stores it unprocessed.
func Insert(ctx context.Context, w Writer, kind model.Kind, fields normalize.Fields) (int64, error) {
	switch kind {
	case model.KindLog:
		d, err := normalize.Log(fields)
		if err != nil {
			return 0, err
		}
		return w.InsertLogDetection(ctx, d)
	case model.KindTraffic:
		d, err := normalize.Traffic(fields)
		if err != nil {
			return 0, err
		}
		return w.InsertTrafficDetection(ctx, d)
	default:
		return 0, fmt.Errorf("unknown record kind %q", kind)
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
