// Package http exposes the engine's API: push ingestion, read access to
// published snapshots and chart history, and the health/metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/climbox/telemetry-engine/internal/domain"
	"github.com/climbox/telemetry-engine/internal/reconcile"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Ingester commits one pushed record.
type Ingester interface {
	Ingest(ctx context.Context, locationID string, raw domain.RawRecord, tsOverride *time.Time) (string, bool, error)
}

// StateReader serves published per-location state.
type StateReader interface {
	Snapshot(id string) (*domain.Snapshot, bool)
	History(id string) []domain.HistoryPoint
	State(id string) reconcile.State
	Locations() []string
}

// Server exposes the engine API plus health, readiness and metrics routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer wires all routes onto a chi router.
func NewServer(addr string, ready ReadinessChecker, ingester Ingester, reader StateReader, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", handleReady(ready))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/ingest", s.handleIngest(ingester))
	r.Get("/locations", s.handleLocations(reader))
	r.Get("/locations/{id}/snapshot", s.handleSnapshot(reader))
	r.Get("/locations/{id}/history", s.handleHistory(reader))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type ingestRequest struct {
	LocationID string           `json:"locationId"`
	Record     domain.RawRecord `json:"record"`
	Timestamp  *time.Time       `json:"timestamp,omitempty"`
}

type ingestResponse struct {
	OK         bool   `json:"ok"`
	ID         string `json:"id"`
	AlertFired bool   `json:"alertFired"`
}

func (s *Server) handleIngest(ingester Ingester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.LocationID == "" {
			writeError(w, http.StatusBadRequest, "locationId is required")
			return
		}
		if !domain.ValidLocationID(req.LocationID) {
			writeError(w, http.StatusBadRequest, "locationId is not a valid identifier")
			return
		}

		id, fired, err := ingester.Ingest(r.Context(), req.LocationID, req.Record, req.Timestamp)
		if errors.Is(err, domain.ErrInvalidRecord) {
			writeError(w, http.StatusBadRequest, "record is not ingestible")
			return
		}
		if errors.Is(err, domain.ErrLocationClosed) {
			writeError(w, http.StatusConflict, "location is closed")
			return
		}
		if err != nil {
			s.logger.Error("ingest failed", "location", req.LocationID, "error", err)
			writeError(w, http.StatusInternalServerError, "ingest failed")
			return
		}

		writeJSON(w, http.StatusOK, ingestResponse{OK: true, ID: id, AlertFired: fired})
	}
}

func (s *Server) handleLocations(reader StateReader) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ids := reader.Locations()
		out := make([]map[string]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, map[string]string{
				"locationId": id,
				"state":      reader.State(id).String(),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"locations": out})
	}
}

func (s *Server) handleSnapshot(reader StateReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		snap, ok := reader.Snapshot(id)
		if !ok {
			writeError(w, http.StatusNotFound, "no snapshot for location")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"snapshot": snap,
			"state":    reader.State(id).String(),
		})
	}
}

func (s *Server) handleHistory(reader StateReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		points := reader.History(id)
		if points == nil {
			points = []domain.HistoryPoint{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"locationId": id,
			"points":     points,
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response write
}
