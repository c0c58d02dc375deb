package watcher

import (
	"context"
	"time"

	"attackwatch/internal/model"
	"attackwatch/internal/storage"
)

// Ledger decides suppress vs. notify from the cooldown entries held in the
// record store. All reads and writes happen inside the cycle transaction.
type Ledger struct {
	window time.Duration
}

func NewLedger(window time.Duration) *Ledger {
	return &Ledger{window: window}
}

func (l *Ledger) Window() time.Duration {
	return l.window
}

// ShouldNotify reports whether key has no entry or its last notification is
// strictly older than now minus the window.
func (l *Ledger) ShouldNotify(ctx context.Context, tx storage.Tx, key model.GroupKey, now time.Time) (bool, error) {
	last, ok, err := tx.LastNotified(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return last.Before(now.Add(-l.window)), nil
}

// RecordNotification stages the entry update. It is staged before delivery
// and is not undone when delivery fails.
func (l *Ledger) RecordNotification(ctx context.Context, tx storage.Tx, key model.GroupKey, now time.Time) error {
	return tx.UpsertCooldown(ctx, key, now)
}
