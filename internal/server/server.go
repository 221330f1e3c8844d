// Package server exposes the current snapshot over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jgoulah/airquality/internal/metrics"
	"github.com/jgoulah/airquality/internal/pipeline"
	"github.com/jgoulah/airquality/pkg/models"
)

// SnapshotSource is the read side of the snapshot store
type SnapshotSource interface {
	Current() (models.Snapshot, bool)
}

// StatusSource reports scheduler state for health checks
type StatusSource interface {
	Status() pipeline.Status
}

// Server serves the latest snapshot
type Server struct {
	logger *slog.Logger
	store  SnapshotSource
	status StatusSource
	http   *http.Server
}

// New creates a server listening on addr. status may be nil.
func New(logger *slog.Logger, addr string, store SnapshotSource, status StatusSource) *Server {
	s := &Server{
		logger: logger,
		store:  store,
		status: status,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleSnapshot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

// handleSnapshot writes the current snapshot, or {} before the first
// successful cycle. Failed cycles are never visible here.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.store.Current()
	if !ok {
		metrics.SnapshotReads.WithLabelValues("empty").Inc()
		writeJSON(w, s.logger, struct{}{})
		return
	}
	metrics.SnapshotReads.WithLabelValues("ok").Inc()
	writeJSON(w, s.logger, snap)
}

type health struct {
	HasSnapshot bool `json:"has_snapshot"`
	pipeline.Status
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, ok := s.store.Current()
	h := health{HasSnapshot: ok}
	if s.status != nil {
		h.Status = s.status.Status()
	}
	writeJSON(w, s.logger, h)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		logger.Warn("writing response", "err", err)
	}
}
