package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"attackwatch/internal/alerts"
	"attackwatch/internal/config"
	"attackwatch/internal/logging"
	"attackwatch/internal/metrics"
	"attackwatch/internal/model"
)

// CycleRunner runs one watcher cycle through the same gate as the loop.
type CycleRunner interface {
	RunCycle(ctx context.Context) (model.CycleReport, error)
}

// defaultCountTimeout bounds the unprocessed count on /status. A single
// connection sqlite store is held for the whole cycle, sink calls included.
const defaultCountTimeout = 2 * time.Second

type UnprocessedCounter interface {
	CountUnprocessed(ctx context.Context) (map[model.Kind]int, error)
}

type Server struct {
	cfg        *config.Config
	configPath string
	metrics    *metrics.Store
	alerts     *alerts.Store
	runner     CycleRunner
	counter    UnprocessedCounter
	countLimit time.Duration
	logger     *slog.Logger
	version    string
}

type Options struct {
	Config       *config.Config
	ConfigPath   string
	Metrics      *metrics.Store
	Alerts       *alerts.Store
	Runner       CycleRunner
	Counter      UnprocessedCounter
	CountTimeout time.Duration // defaults to 2s
	Logger       *slog.Logger
	Version      string
}

type statusResponse struct {
	Status      string             `json:"status"`
	Time        string             `json:"time"`
	Version     string             `json:"version"`
	ConfigPath  string             `json:"config_path"`
	Watcher     watcherStatus      `json:"watcher"`
	Ingest      ingestStatus       `json:"ingest"`
	Unprocessed map[model.Kind]int `json:"unprocessed,omitempty"`
	StoreError  string             `json:"store_error,omitempty"`
	LastCycle   *model.CycleReport `json:"last_cycle,omitempty"`
}

type watcherStatus struct {
	PollInterval          string `json:"poll_interval"`
	Cooldown              string `json:"cooldown"`
	MaxConcurrentDispatch int    `json:"max_concurrent_dispatch"`
	SinkURL               string `json:"sink_url"`
	StorageDriver         string `json:"storage_driver"`
	Events                bool   `json:"events"`
}

type ingestStatus struct {
	REST  bool `json:"rest"`
	Kafka bool `json:"kafka"`
}

func New(opts Options) *Server {
	countLimit := opts.CountTimeout
	if countLimit <= 0 {
		countLimit = defaultCountTimeout
	}
	return &Server{
		cfg:        opts.Config,
		configPath: opts.ConfigPath,
		metrics:    opts.Metrics,
		alerts:     opts.Alerts,
		runner:     opts.Runner,
		counter:    opts.Counter,
		countLimit: countLimit,
		logger:     logging.OrDiscard(opts.Logger),
		version:    opts.Version,
	}
}

// Router mounts the status and admin routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/status", s.handleStatus)
	r.Get("/alerts", s.handleAlerts)
	r.Get("/cycles", s.handleCycles)
	r.Get("/totals", s.handleTotals)
	r.Route("/admin", func(r chi.Router) {
		r.Post("/cycle", s.handleRunCycle)
		r.Post("/clear", s.handleClear)
	})
}

func Start(ctx context.Context, cfg config.APIConfig, server *Server, logger *slog.Logger) *http.Server {
	logger = logging.OrDiscard(logger)
	if !cfg.Enabled {
		logger.Info("api disabled")
		return nil
	}
	logger.Info("api enabled", "addr", cfg.Addr)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server error", "err", err)
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.configPath,
	}
	if cfg := s.cfg; cfg != nil {
		resp.Watcher = watcherStatus{
			PollInterval:          cfg.Watcher.PollInterval.String(),
			Cooldown:              cfg.Watcher.Cooldown.String(),
			MaxConcurrentDispatch: cfg.Watcher.MaxConcurrentDispatch,
			SinkURL:               cfg.Sink.URL(),
			StorageDriver:         cfg.Storage.Driver,
			Events:                cfg.Events.Enabled,
		}
		resp.Ingest = ingestStatus{REST: cfg.Ingest.REST.Enabled, Kafka: cfg.Ingest.Kafka.Enabled}
	}
	if s.counter != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.countLimit)
		counts, err := s.counter.CountUnprocessed(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("count unprocessed: store busy after %s: %w", s.countLimit, err)
			}
			resp.Status = "degraded"
			resp.StoreError = err.Error()
			s.logger.Warn("status count failed", "err", err)
		} else {
			resp.Unprocessed = counts
		}
	}
	if s.metrics != nil {
		if last, ok := s.metrics.Last(); ok {
			resp.LastCycle = &last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []model.DispatchRecord{}, "count": 0})
		return
	}
	limit := queryInt(r, "limit")
	var list []model.DispatchRecord
	switch {
	case r.URL.Query().Get("since") != "":
		ts, err := time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "since must be RFC3339"})
			return
		}
		list = s.alerts.Since(ts)
	case r.URL.Query().Get("failed") == "true":
		list = s.alerts.Failed()
	default:
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	list := []model.CycleReport{}
	if s.metrics != nil {
		list = s.metrics.Recent(queryInt(r, "limit"))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycles": list,
		"count":  len(list),
	})
}

func (s *Server) handleTotals(w http.ResponseWriter, _ *http.Request) {
	var totals metrics.Totals
	if s.metrics != nil {
		totals = s.metrics.Totals()
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "watcher not running"})
		return
	}
	// a client disconnect must not roll back a cycle that already dispatched
	report, err := s.runner.RunCycle(context.WithoutCancel(r.Context()))
	if err != nil {
		s.logger.Warn("manual cycle rolled back", "cycle_id", report.ID, "err", err)
		writeJSON(w, http.StatusInternalServerError, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.metrics != nil {
			s.metrics.Clear()
		}
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "alerts":
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "cycles", "metrics":
		if s.metrics != nil {
			s.metrics.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func queryInt(r *http.Request, key string) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
