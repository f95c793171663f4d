// SPDX-License-Identifier: MIT

// Package api exposes the control surface: stream start/stop, session and
// stream status, health and metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/streamwarden/streamwarden/internal/catalog"
	"github.com/streamwarden/streamwarden/internal/coordinator"
	"github.com/streamwarden/streamwarden/internal/model"
	"github.com/streamwarden/streamwarden/internal/probe"
	"github.com/streamwarden/streamwarden/internal/store"
	"github.com/streamwarden/streamwarden/internal/supervisor"
)

// Server holds the handler dependencies.
type Server struct {
	Coordinator *coordinator.Coordinator
	Catalog     catalog.Catalog
	Supervisor  supervisor.Supervisor
	Validator   *probe.Validator
	Store       store.StateStore
	Logger      zerolog.Logger

	// RateLimit is requests per minute per client IP on the API routes.
	// Zero disables limiting.
	RateLimit int
}

// Router builds the HTTP routing tree.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.RateLimit, time.Minute))
		}
		r.Post("/streams/{kind}/{id}/start", s.handleStart)
		r.Post("/streams/{kind}/{id}/stop", s.handleStop)
		r.Get("/streams/{kind}/{id}", s.handleStatus)
		r.Get("/sessions", s.handleSessions)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string) {
	s.writeJSON(w, status, errorResponse{Error: code})
}

func streamKeyFromRequest(r *http.Request) (model.StreamKey, bool) {
	kind := model.ResourceKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		return model.StreamKey{}, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return model.StreamKey{}, false
	}
	return model.StreamKey{Kind: kind, ID: id}, true
}

type startRequest struct {
	ProfileID int64 `json:"profileId"`
}

type startResponse struct {
	SessionID      string `json:"sessionId,omitempty"`
	SourceID       int64  `json:"sourceId"`
	PID            int    `json:"pid"`
	ManifestURL    string `json:"manifestUrl"`
	AlreadyRunning bool   `json:"alreadyRunning"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	key, ok := streamKeyFromRequest(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_stream_key")
		return
	}

	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_body")
			return
		}
	}

	res, err := s.Coordinator.StartStream(r.Context(), key, req.ProfileID)
	switch {
	case err == nil:
	case errors.Is(err, coordinator.ErrLockUnavailable):
		s.writeError(w, http.StatusConflict, "start_in_progress")
		return
	case errors.Is(err, coordinator.ErrLimitExceeded):
		s.writeError(w, http.StatusTooManyRequests, "stream_limit_reached")

	case errors.Is(err, coordinator.ErrProfileInactive):
		s.writeError(w, http.StatusForbidden, "profile_inactive")
		return
	case errors.Is(err, coordinator.ErrNoSourceAvailable):
		s.writeError(w, http.StatusBadGateway, "no_source_available")
		return
	case errors.Is(err, catalog.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "unknown_stream")
		return
	default:
		s.Logger.Error().Err(err).Str("stream", key.String()).Msg("start failed")
		s.writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := startResponse{
		SourceID:       res.SourceID,
		PID:            res.PID,
		ManifestURL:    manifestURL(key),
		AlreadyRunning: res.AlreadyRunning,
	}
	if res.Session != nil {
		resp.SessionID = res.Session.ID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	key, ok := streamKeyFromRequest(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_stream_key")
		return
	}

	wasRunning, err := s.Coordinator.StopStream(r.Context(), key)
	if err != nil {
		s.Logger.Error().Err(err).Str("stream", key.String()).Msg("stop failed")
		s.writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"wasRunning": wasRunning})
}

type statusResponse struct {
	Alive      bool                 `json:"alive"`
	Session    *model.StreamSession `json:"session,omitempty"`
	Probe      *probe.Details       `json:"probe,omitempty"`
	StderrTail []string             `json:"stderrTail,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := streamKeyFromRequest(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_stream_key")
		return
	}
	ctx := r.Context()

	alive, err := s.Supervisor.IsAlive(ctx, key)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := statusResponse{Alive: alive, StderrTail: s.Supervisor.DiagnosticTail(key)}

	if details, ok, err := s.Validator.CachedDetails(ctx, key); err == nil && ok {
		resp.Probe = details
	}

	sessions, err := s.Catalog.ListActiveSessions(ctx)
	if err == nil {
		for i := range sessions {
			if sessions[i].Key == key {
				resp.Session = &sessions[i]
				break
			}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Catalog.ListActiveSessions(r.Context())
	if err != nil {
		s.Logger.Error().Err(err).Msg("failed to list sessions")
		s.writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if sessions == nil {
		sessions = []model.StreamSession{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"store":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func manifestURL(key model.StreamKey) string {
	return "/hls/" + string(key.Kind) + "/" + strconv.FormatInt(key.ID, 10) + "/index.m3u8"
}
