// Package api exposes the HTTP interface for the boundary sync and
// calendar service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mfleming85/beatcal/internal/boundaries"
	"github.com/mfleming85/beatcal/internal/location"
	"github.com/mfleming85/beatcal/internal/metrics"
	"github.com/mfleming85/beatcal/internal/progress"
	"github.com/mfleming85/beatcal/internal/scheduler"
	"github.com/mfleming85/beatcal/internal/syncstate"
)

// Lookup resolves postcodes. Satisfied by *location.Service.
type Lookup interface {
	FindByPostcode(ctx context.Context, postcode string) (boundaries.Neighbourhood, error)
}

// FeedSource renders calendar feeds. Satisfied by *calendar.Service.
type FeedSource interface {
	Feed(ctx context.Context, forceID, neighbourhoodID string) ([]byte, error)
	ContentType() string
}

// Trigger accepts manual sync requests. Satisfied by *scheduler.Scheduler.
type Trigger interface {
	TriggerManual(ctx context.Context) error
}

// CacheSizes reports cache entry counts for the status surface.
type CacheSizes func() map[string]int

// Config holds the server's own knobs.
type Config struct {
	AuthEnabled bool
	APIKey      string
}

// Server wires HTTP handlers to the services.
type Server struct {
	router   chi.Router
	lookup   Lookup
	feeds    FeedSource
	trigger  Trigger
	tracker  *progress.Tracker
	state    syncstate.Repository
	bounds   boundaries.Repository
	cacheLen CacheSizes
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	cfg Config,
	lookup Lookup,
	feeds FeedSource,
	trigger Trigger,
	tracker *progress.Tracker,
	state syncstate.Repository,
	bounds boundaries.Repository,
	cacheLen CacheSizes,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		lookup:   lookup,
		feeds:    feeds,
		trigger:  trigger,
		tracker:  tracker,
		state:    state,
		bounds:   bounds,
		cacheLen: cacheLen,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Post("/lookup", s.postLookup)
	r.Get("/calendar/{force_id}/{neighbourhood_id}.ics", s.getCalendar)

	r.Route("/admin", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/status", s.getStatus)
		r.Post("/sync", s.postSync)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.bounds.Count(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type lookupRequest struct {
	Postcode string `json:"postcode"`
}

type lookupResponse struct {
	ForceID         string `json:"force_id"`
	NeighbourhoodID string `json:"neighbourhood_id"`
	Name            string `json:"name"`
	CalendarURL     string `json:"calendar_url"`
}

func (s *Server) postLookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Postcode == "" {
		writeError(w, http.StatusBadRequest, "missing postcode")
		return
	}

	n, err := s.lookup.FindByPostcode(r.Context(), req.Postcode)
	if err != nil {
		if errors.Is(err, location.ErrNotCovered) {
			writeError(w, http.StatusNotFound, "postcode not covered by any neighbourhood")
			return
		}
		s.logger.Error("postcode lookup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, lookupResponse{
		ForceID:         n.ForceID,
		NeighbourhoodID: n.NeighbourhoodID,
		Name:            n.Name,
		CalendarURL:     "/calendar/" + n.ForceID + "/" + n.NeighbourhoodID + ".ics",
	})
}

func (s *Server) getCalendar(w http.ResponseWriter, r *http.Request) {
	forceID := chi.URLParam(r, "force_id")
	neighbourhoodID := chi.URLParam(r, "neighbourhood_id")

	doc, err := s.feeds.Feed(r.Context(), forceID, neighbourhoodID)
	if err != nil {
		s.logger.Error("calendar feed", zap.String("force", forceID), zap.String("neighbourhood", neighbourhoodID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "feed unavailable")
		return
	}

	w.Header().Set("Content-Type", s.feeds.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_%s.ics", forceID, neighbourhoodID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		s.logger.Warn("write calendar feed", zap.Error(err))
	}
}

type statusResponse struct {
	Dataset struct {
		Boundaries   int64 `json:"boundaries"`
		StorageBytes int64 `json:"storage_bytes"`
	} `json:"dataset"`
	Run     progress.Snapshot `json:"run"`
	LastRun *progress.Result  `json:"last_run,omitempty"`
	Latest  *runSummary       `json:"latest_persisted_run,omitempty"`
	Caches  map[string]int    `json:"caches"`
}

type runSummary struct {
	RunID                    string     `json:"run_id"`
	Scope                    string     `json:"scope"`
	Status                   string     `json:"status"`
	StartedAt                time.Time  `json:"started_at"`
	FinishedAt               *time.Time `json:"finished_at,omitempty"`
	ForcesTotal              int        `json:"forces_total"`
	ForcesSucceeded          int        `json:"forces_succeeded"`
	ForcesFailed             int        `json:"forces_failed"`
	NeighbourhoodsTotal      int        `json:"total_neighbourhoods"`
	NeighbourhoodsSynced     int        `json:"neighbourhoods_synced"`
	NeighbourhoodsFailed     int        `json:"neighbourhoods_failed"`
	NeighbourhoodsNoBoundary int        `json:"neighbourhoods_no_boundary"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse

	count, err := s.bounds.Count(r.Context())
	if err != nil {
		s.logger.Error("count boundaries", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	resp.Dataset.Boundaries = count
	if size, err := s.bounds.StorageSize(r.Context()); err != nil {
		s.logger.Warn("boundary storage size", zap.Error(err))
	} else {
		resp.Dataset.StorageBytes = size
	}
	resp.Run = s.tracker.Snapshot()
	if last, ok := s.tracker.LastResult(); ok {
		resp.LastRun = &last
	}
	if s.cacheLen != nil {
		resp.Caches = s.cacheLen()
	}

	latest, err := s.state.LatestRun(r.Context())
	switch {
	case err == nil:
		resp.Latest = &runSummary{
			RunID:                    latest.ID.String(),
			Scope:                    string(latest.Scope),
			Status:                   string(latest.Status),
			StartedAt:                latest.StartedAt,
			FinishedAt:               latest.FinishedAt,
			ForcesTotal:              latest.ForcesTotal,
			ForcesSucceeded:          latest.ForcesSucceeded,
			ForcesFailed:             latest.ForcesFailed,
			NeighbourhoodsTotal:      latest.NeighbourhoodsTotal,
			NeighbourhoodsSynced:     latest.NeighbourhoodsSynced,
			NeighbourhoodsFailed:     latest.NeighbourhoodsFailed,
			NeighbourhoodsNoBoundary: latest.NeighbourhoodsNoBoundary,
		}
	case errors.Is(err, syncstate.ErrNotFound):
	default:
		s.logger.Error("load latest run", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) postSync(w http.ResponseWriter, r *http.Request) {
	err := s.trigger.TriggerManual(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, scheduler.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "manual sync rate limited, try again later")
	case errors.Is(err, syncstate.ErrRunAlreadyActive):
		writeError(w, http.StatusConflict, "a sync run is already active")
	default:
		s.logger.Error("manual sync trigger", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "trigger failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
