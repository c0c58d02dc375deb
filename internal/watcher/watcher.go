package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"attackwatch/internal/alerts"
	"attackwatch/internal/config"
	"attackwatch/internal/logging"
	"attackwatch/internal/metrics"
	"attackwatch/internal/model"
	"attackwatch/internal/storage"
)

// Publisher receives post-cycle events. Subjects are relative; the
// implementation applies its own prefix.
type Publisher interface {
	Publish(subject string, payload any) error
}

const (
	SubjectAlertDelivered  = "alert.delivered"
	SubjectAlertFailed     = "alert.failed"
	SubjectCycleCommitted  = "cycle.committed"
	SubjectCycleRolledBack = "cycle.rolled_back"
)

// Watcher polls the record store for unprocessed detections and dispatches
// one notification per (actor, category) per cooldown window.
type Watcher struct {
	cfg      config.WatcherConfig
	logger   *slog.Logger
	store    storage.Store
	ledger   *Ledger
	dispatch *Dispatcher
	alerts   *alerts.Store
	metrics  *metrics.Store
	events   Publisher

	// mu makes cycles single-flight across the loop and manual triggers.
	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

// New wires a watcher. alertsStore, metricsStore and events may be nil.
func New(cfg config.WatcherConfig, logger *slog.Logger, store storage.Store, s Sink, alertsStore *alerts.Store, metricsStore *metrics.Store, events Publisher) *Watcher {
	logger = logging.OrDiscard(logger)
	return &Watcher{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		ledger:   NewLedger(cfg.Cooldown),
		dispatch: NewDispatcher(s, logger, cfg.MaxConcurrentDispatch),
		alerts:   alertsStore,
		metrics:  metricsStore,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Run executes a cycle immediately and then one cycle per poll interval,
// measured from the end of the previous cycle, until ctx is done. A cycle in
// progress when ctx is cancelled still runs to commit or rollback; ctx is
// only observed between cycles.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher started",
		"poll_interval", w.cfg.PollInterval.String(),
		"cooldown", w.ledger.Window().String(),
		"max_concurrent_dispatch", w.cfg.MaxConcurrentDispatch,
	)
	cycleCtx := context.WithoutCancel(ctx)
	for {
		_, _ = w.RunCycle(cycleCtx)
		if ctx.Err() != nil || !sleep(ctx, w.cfg.PollInterval) {
			w.logger.Info("watcher stopped")
			return nil
		}
	}
}

// RunCycle processes every record kind inside one transaction and commits
// once. Any store failure rolls back the whole cycle.
func (w *Watcher) RunCycle(ctx context.Context) (model.CycleReport, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	report := model.CycleReport{ID: w.newID(), StartedAt: w.now()}
	logger := w.logger.With("cycle_id", report.ID)
	err := w.cycle(ctx, logger, &report)
	report.FinishedAt = w.now()
	if err != nil {
		report.Error = err.Error()
		logger.Error("cycle rolled back", "err", err)
	} else {
		report.Committed = true
		if hasActivity(report) {
			logger.Info("cycle committed", "kinds", report.Kinds)
		} else {
			logger.Debug("cycle committed, nothing to process")
		}
	}
	w.record(logger, report)
	return report, err
}

func (w *Watcher) cycle(ctx context.Context, logger *slog.Logger, report *model.CycleReport) (err error) {
	tx, err := w.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("rollback failed", "err", rbErr)
			}
		}
	}()
	for _, kind := range model.Kinds {
		kr, dispatches, kerr := w.processKind(ctx, logger, tx, kind, report.ID)
		report.Kinds = append(report.Kinds, kr)
		report.Dispatches = append(report.Dispatches, dispatches...)
		if kerr != nil {
			return kerr
		}
	}
	return tx.Commit()
}

func (w *Watcher) processKind(ctx context.Context, logger *slog.Logger, tx storage.Tx, kind model.Kind, cycleID string) (model.KindReport, []model.DispatchRecord, error) {
	kr := model.KindReport{Kind: kind}
	records, err := tx.FetchUnprocessed(ctx, kind)
	if err != nil {
		return kr, nil, err
	}
	kr.Fetched = len(records)
	if len(records) == 0 {
		return kr, nil, nil
	}
	logger.Info("unprocessed detections found", "kind", kind, "count", len(records))

	grouping := GroupRecords(kind, records)
	kr.Groups = len(grouping.Groups)
	kr.Unidentified = len(grouping.Unidentified)

	now := w.now()
	payloads := make([]model.AlertPayload, 0, len(grouping.Groups))
	for _, grp := range grouping.Groups {
		notify, err := w.ledger.ShouldNotify(ctx, tx, grp.Key, now)
		if err != nil {
			return kr, nil, err
		}
		if !notify {
			kr.Suppressed++
			logger.Info("cooldown active, notification suppressed",
				"kind", kind,
				"user_id", grp.Key.ActorID,
				"attack_type", grp.Key.Category,
				"count", grp.Count(),
			)
			continue
		}
		if err := w.ledger.RecordNotification(ctx, tx, grp.Key, now); err != nil {
			return kr, nil, err
		}
		kr.Notified++
		payloads = append(payloads, grp.Payload())
		logger.Info("notification scheduled",
			"kind", kind,
			"user_id", grp.Key.ActorID,
			"attack_type", grp.Key.Category,
			"count", grp.Count(),
		)
	}
	if kr.Unidentified > 0 {
		logger.Info("detections without user marked handled", "kind", kind, "count", kr.Unidentified)
	}

	dispatches := w.dispatch.DispatchAll(ctx, cycleID, payloads)
	for _, d := range dispatches {
		if d.Delivered {
			kr.Delivered++
		} else {
			kr.Failed++
		}
	}

	ids := grouping.AllIDs()
	if err := tx.MarkProcessed(ctx, kind, ids); err != nil {
		return kr, dispatches, err
	}
	kr.Marked = len(ids)
	logger.Info("detections marked processed, pending commit", "kind", kind, "count", kr.Marked)
	return kr, dispatches, nil
}

func (w *Watcher) record(logger *slog.Logger, report model.CycleReport) {
	if w.alerts != nil && len(report.Dispatches) > 0 {
		w.alerts.Add(report.Dispatches...)
	}
	if w.metrics != nil {
		w.metrics.Record(report)
	}
	if w.events == nil {
		return
	}
	publish := func(subject string, payload any) {
		if err := w.events.Publish(subject, payload); err != nil {
			logger.Warn("event publish failed", "subject", subject, "err", err)
		}
	}
	if !report.Committed {
		publish(SubjectCycleRolledBack, report)
		return
	}
	for _, d := range report.Dispatches {
		if d.Delivered {
			publish(SubjectAlertDelivered, d)
		} else {
			publish(SubjectAlertFailed, d)
		}
	}
	publish(SubjectCycleCommitted, report)
}

func hasActivity(report model.CycleReport) bool {
	for _, kr := range report.Kinds {
		if kr.Fetched > 0 {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
