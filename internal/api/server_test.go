package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"attackwatch/internal/alerts"
	"attackwatch/internal/config"
	"attackwatch/internal/metrics"
	"attackwatch/internal/model"
	"attackwatch/internal/storage"
)

type stubRunner struct {
	report model.CycleReport
	err    error
	calls  int
}

func (s *stubRunner) RunCycle(context.Context) (model.CycleReport, error) {
	s.calls++
	return s.report, s.err
}

type stubCounter struct {
	counts map[model.Kind]int
	err    error
}

func (s stubCounter) CountUnprocessed(context.Context) (map[model.Kind]int, error) {
	return s.counts, s.err
}

func newServerForTest(runner CycleRunner, counter UnprocessedCounter) (*Server, *metrics.Store, *alerts.Store) {
	m := metrics.NewStore(10)
	a := alerts.NewStore(10)
	s := New(Options{
		Config:  config.DefaultConfig(),
		Metrics: m,
		Alerts:  a,
		Runner:  runner,
		Counter: counter,
		Version: "test",
	})
	return s, m, a
}

func TestStatusReportsCountsAndLastCycle(t *testing.T) {
	s, m, _ := newServerForTest(nil, stubCounter{counts: map[model.Kind]int{model.KindLog: 3, model.KindTraffic: 1}})
	m.Record(model.CycleReport{ID: "c1", Committed: true})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != "test" || resp.Unprocessed[model.KindLog] != 3 {
		t.Fatalf("unexpected status: %+v", resp)
	}
	if resp.LastCycle == nil || resp.LastCycle.ID != "c1" {
		t.Fatalf("missing last cycle: %+v", resp.LastCycle)
	}
	if resp.Watcher.Cooldown != "10m0s" {
		t.Fatalf("cooldown: %s", resp.Watcher.Cooldown)
	}
}

func TestStatusDegradedOnStoreError(t *testing.T) {
	s, _, _ := newServerForTest(nil, stubCounter{err: errors.New("db down")})
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var resp statusResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "degraded" || resp.StoreError == "" {
		t.Fatalf("expected degraded status, got %+v", resp)
	}
}

func TestStatusDoesNotWaitOnBusyStore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite("file:" + filepath.Join(t.TempDir(), "status.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	// an open cycle transaction holds the only connection
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	s := New(Options{Config: config.DefaultConfig(), Counter: store, CountTimeout: 50 * time.Millisecond})
	rec := httptest.NewRecorder()
	start := time.Now()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("status blocked for %s", elapsed)
	}
	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || resp.Status != "degraded" || !strings.Contains(resp.StoreError, "store busy") {
		t.Fatalf("expected degraded status while a cycle holds the store, got %d %+v", rec.Code, resp)
	}
	if resp.Watcher.StorageDriver == "" {
		t.Fatalf("static status fields must still be reported: %+v", resp.Watcher)
	}
}

func TestAlertsListAndSince(t *testing.T) {
	s, _, a := newServerForTest(nil, nil)
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.Add(
		model.DispatchRecord{Timestamp: old, Delivered: true},
		model.DispatchRecord{Timestamp: old.Add(time.Hour), Delivered: false, Error: "boom"},
	)
	router := s.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts?limit=1", nil))
	var resp struct {
		Alerts []model.DispatchRecord `json:"alerts"`
		Count  int                    `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Alerts[0].Error != "boom" {
		t.Fatalf("unexpected alerts: %+v", resp)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts?since=2026-01-01T00:30:00Z", nil))
	resp.Alerts = nil
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Count != 1 {
		t.Fatalf("since filter: %+v", resp)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts?since=yesterday", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdminCycleRunsThroughRunner(t *testing.T) {
	runner := &stubRunner{report: model.CycleReport{ID: "c9", Committed: true}}
	s, _, _ := newServerForTest(runner, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/cycle", nil))
	if rec.Code != http.StatusOK || runner.calls != 1 {
		t.Fatalf("expected one run and 200, got %d calls=%d", rec.Code, runner.calls)
	}
	var report model.CycleReport
	_ = json.NewDecoder(rec.Body).Decode(&report)
	if report.ID != "c9" {
		t.Fatalf("unexpected report: %+v", report)
	}

	runner.err = errors.New("rolled back")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/cycle", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on rollback, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/cycle", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestAdminClearTargets(t *testing.T) {
	s, m, a := newServerForTest(nil, nil)
	m.Record(model.CycleReport{ID: "c1", Committed: true})
	a.Add(model.DispatchRecord{Delivered: true})
	router := s.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/clear", strings.NewReader(`{"target":"alerts"}`)))
	if rec.Code != http.StatusOK || len(a.List(0)) != 0 || len(m.Recent(0)) != 1 {
		t.Fatalf("alerts clear affected wrong stores")
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/clear", strings.NewReader(`{"target":"nope"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCyclesAndTotals(t *testing.T) {
	s, m, _ := newServerForTest(nil, nil)
	m.Record(model.CycleReport{ID: "c1", Committed: true, Kinds: []model.KindReport{{Kind: model.KindLog, Delivered: 2}}})
	m.Record(model.CycleReport{ID: "c2", Error: "x"})
	router := s.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cycles?limit=1", nil))
	var cycles struct {
		Cycles []model.CycleReport `json:"cycles"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&cycles)
	if len(cycles.Cycles) != 1 || cycles.Cycles[0].ID != "c2" {
		t.Fatalf("expected newest cycle first: %+v", cycles)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/totals", nil))
	var totals metrics.Totals
	_ = json.NewDecoder(rec.Body).Decode(&totals)
	if totals.Cycles != 2 || totals.RolledBack != 1 || totals.Delivered != 2 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
}
