package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"attackwatch/internal/config"
	"attackwatch/internal/logging"
	"attackwatch/internal/model"
)

type RESTServer struct {
	store  Writer
	logger *slog.Logger
}

func NewRESTServer(store Writer, logger *slog.Logger) *RESTServer {
	return &RESTServer{store: store, logger: logging.OrDiscard(logger)}
}

// Handler serves POST /detections/{log,traffic} and GET /health.
func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/detections/log", s.handleDetections(model.KindLog))
	mux.HandleFunc("/detections/traffic", s.handleDetections(model.KindTraffic))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, cfg config.RESTConfig, store Writer, logger *slog.Logger) *http.Server {
	logger = logging.OrDiscard(logger)
	if !cfg.Enabled {
		logger.Info("rest ingest disabled")
		return nil
	}
	logger.Info("rest ingest enabled", "addr", cfg.Addr)
	server := NewRESTServer(store, logger)
	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rest ingest server error", "err", err)
		}
	}()
	return httpServer
}

func (s *RESTServer) handleDetections(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		trim := bytesTrim(body)
		if len(trim) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var list []map[string]interface{}
		if trim[0] == '[' {
			if err := json.Unmarshal(trim, &list); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		} else {
			var obj map[string]interface{}
			if err := json.Unmarshal(trim, &obj); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			list = append(list, obj)
		}

		accepted := 0
		failed := 0
		ids := make([]int64, 0, len(list))
		for _, obj := range list {
			id, err := Insert(r.Context(), s.store, kind, *ParseJSONMap(obj))
			if err != nil {
				s.logger.Warn("rest detection rejected", "kind", kind, "err", err)
				failed++
				continue
			}
			ids = append(ids, id)
			accepted++
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"accepted": accepted,
			"failed":   failed,
			"ids":      ids,
		})
	}
}

func bytesTrim(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\n' || b[start] == '\r' || b[start] == '\t') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\r' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}
