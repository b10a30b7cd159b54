// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fordonad/inventory-ingest/internal/config"
	"github.com/fordonad/inventory-ingest/internal/ingest"
	"github.com/fordonad/inventory-ingest/internal/lifecycle"
	"github.com/fordonad/inventory-ingest/internal/metrics"
)

// Server wires HTTP handlers to the run lifecycle manager and stores.
type Server struct {
	router  chi.Router
	manager *lifecycle.Manager
	runs    ingest.RunStore
	items   ingest.ItemStore
	events  ingest.EventStore
	clock   ingest.Clock
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	manager *lifecycle.Manager,
	runs ingest.RunStore,
	items ingest.ItemStore,
	events ingest.EventStore,
	clock ingest.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager: manager,
		runs:    runs,
		items:   items,
		events:  events,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/customers/{customer_id}", func(r chi.Router) {
			r.Post("/sources/{source_id}/runs", s.launchRun)
			r.Route("/runs/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Get("/events", s.listEvents)
				r.Get("/items", s.listItems)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type launchRequest struct {
	Trigger string `json:"trigger"`
}

func (s *Server) launchRun(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customer_id")
	sourceID := chi.URLParam(r, "source_id")

	var req launchRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = "api"
	}

	result, err := s.manager.Launch(r.Context(), customerID, sourceID, trigger)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusAccepted
	if result.Deduplicated {
		// Idempotent replay of an in-flight run, not a new resource.
		status = http.StatusOK
	}
	writeJSON(s.logger, w, status, result)
}

type runResponse struct {
	Run ingest.Run `json:"run"`
	// Stale flags a run that has sat in queued longer than the configured
	// threshold, which usually means workers are down or the queue is stuck.
	Stale bool `json:"stale,omitempty"`
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customer_id")
	runID := chi.URLParam(r, "run_id")

	run, err := s.runs.GetRun(r.Context(), customerID, runID)
	if err != nil {
		writeError(s.logger, w, http.StatusNotFound, "run not found")
		return
	}
	resp := runResponse{Run: run}
	if run.Status == ingest.RunStatusQueued {
		age := s.clock.Now().Sub(run.CreatedAt)
		resp.Stale = age > s.cfg.StaleQueuedAfter()
	}
	writeJSON(s.logger, w, http.StatusOK, resp)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customer_id")
	runID := chi.URLParam(r, "run_id")

	events, err := s.events.ListEvents(r.Context(), customerID, runID)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []ingest.RunEvent{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customer_id")
	runID := chi.URLParam(r, "run_id")

	items, err := s.items.ListItems(r.Context(), customerID, runID)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []ingest.Item{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"items": items})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
