// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	service "github.com/okian/psymetric/internal/app"
	"github.com/okian/psymetric/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Ingestion entry points.
	ProcessEvent(ctx context.Context, sessionID, eventType string, eventData map[string]any) service.EventResult
	ProcessEventBatch(ctx context.Context, items []service.EventInput) service.BatchResult

	// Pipeline stage triggers.
	ExtractMetrics(ctx context.Context, sessionID string) service.ExtractResult
	InferTraits(ctx context.Context, sessionID string) service.InferResult

	// Read operations.
	Profile(ctx context.Context, sessionID string) (model.Profile, error)
	LatestProfileForUser(ctx context.Context, userID string) (model.Profile, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	eventsHandler   *EventsHandler
	sessionsHandler *SessionsHandler
	profilesHandler *ProfilesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		eventsHandler:   NewEventsHandler(deps),
		sessionsHandler: NewSessionsHandler(deps),
		profilesHandler: NewProfilesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("/events/batch", MetricsMiddleware(s.eventsHandler.HandlePostEventBatch, "events_batch"))
	mux.HandleFunc("/sessions/", MetricsMiddleware(s.sessionsHandler.HandleSession, "sessions"))
	mux.HandleFunc("/users/", MetricsMiddleware(s.profilesHandler.HandleUserProfile, "user_profile"))
}

// eventRequest mirrors the ingestion schema for POST /events.
type eventRequest struct {
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data"`
}

func (e eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.SessionID) == "":
		return errors.New("missing session_id")
	case strings.TrimSpace(e.EventType) == "":
		return errors.New("missing event_type")
	case e.EventData == nil:
		return errors.New("missing event_data")
	}
	return nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
