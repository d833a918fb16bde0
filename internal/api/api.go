package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joescharf/chronicle/internal/engine"
	"github.com/joescharf/chronicle/internal/filter"
	"github.com/joescharf/chronicle/internal/llm"
	"github.com/joescharf/chronicle/internal/models"
	"github.com/joescharf/chronicle/internal/status"
)

// DefaultMaxStreams caps concurrent /stream clients when none is configured.
const DefaultMaxStreams = 16

// Server provides the REST API handlers.
type Server struct {
	engine  *engine.Engine
	llm     *llm.Client
	streams *semaphore.Weighted
	logger  *slog.Logger

	keepAlive time.Duration
}

// NewServer creates a new API server.
// The llmClient may be nil if no API key is configured.
func NewServer(eng *engine.Engine, llmClient *llm.Client, maxStreams int) *Server {
	if maxStreams <= 0 {
		maxStreams = DefaultMaxStreams
	}
	return &Server{
		engine:    eng,
		llm:       llmClient,
		streams:   semaphore.NewWeighted(int64(maxStreams)),
		logger:    slog.Default(),
		keepAlive: 15 * time.Second,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/events", s.listEvents)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/recap", s.recapSession)

	mux.HandleFunc("GET /api/v1/status", s.statusOverview)
	mux.HandleFunc("GET /api/v1/status/{id}", s.statusSession)

	mux.HandleFunc("GET /api/v1/health", s.connectionHealth)

	mux.HandleFunc("GET /api/v1/stream", s.stream)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseFilter reads a filter.Config from query parameters:
// session and type may repeat, q is the search term, from/to are RFC3339.
func parseFilter(r *http.Request) (filter.Config, error) {
	q := r.URL.Query()
	cfg := filter.Config{
		SelectedSessionIDs: q["session"],
		SearchTerm:         q.Get("q"),
	}
	for _, raw := range q["type"] {
		t := models.EventType(raw)
		if !t.Valid() {
			return cfg, fmt.Errorf("unknown event type %q", raw)
		}
		cfg.EventTypes = append(cfg.EventTypes, t)
	}

	var dr filter.DateRange
	for key, dst := range map[string]*time.Time{"from": &dr.From, "to": &dr.To} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = ts
	}
	if !dr.From.IsZero() || !dr.To.IsZero() {
		cfg.DateRange = &dr
	}
	return cfg, nil
}

// parseLimit reads an optional positive limit parameter.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

// --- Events ---

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events := s.engine.GetFilteredEvents(cfg)
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Sessions ---

// sessionView is a session with its derived status.
type sessionView struct {
	models.Session
	Title  string                      `json:"title"`
	Status *models.SessionStatusRecord `json:"status,omitempty"`
}

func (s *Server) view(sess models.Session, statuses map[string]models.SessionStatusRecord) sessionView {
	v := sessionView{Session: sess, Title: sess.Title()}
	if rec, ok := statuses[sess.ID]; ok {
		v.Status = &rec
	}
	return v
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions := s.engine.GetFilteredSessions(cfg)
	if want := r.URL.Query().Get("status"); want != "" {
		sessions = status.FilterByStatus(sessions, s.engine.Statuses(), models.SessionStatus(want))
	}

	statuses := s.engine.Statuses()
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, s.view(sess, statuses))
	}
	writeJSON(w, http.StatusOK, views)
}

type sessionDetail struct {
	sessionView
	Events []models.Event `json:"events"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.engine.Session(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionDetail{
		sessionView: s.view(sess, s.engine.Statuses()),
		Events:      s.engine.GetFilteredEvents(filter.Config{SelectedSessionIDs: []string{id}}),
	})
}

func (s *Server) recapSession(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "recap unavailable: anthropic.api_key is not configured")
		return
	}
	id := r.PathValue("id")
	sess, err := s.engine.Session(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	rec, err := s.engine.Status(id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events := s.engine.GetFilteredEvents(filter.Config{SelectedSessionIDs: []string{id}})

	recap, err := s.llm.RecapSession(r.Context(), sess, rec, events)
	if err != nil {
		s.logger.Warn("session recap failed", "session_id", id, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recap)
}

// --- Status ---

type statusOverview struct {
	Summary   status.Summary                        `json:"summary"`
	Sessions  map[string]models.SessionStatusRecord `json:"sessions"`
	Attention []string                              `json:"attention"`
}

func (s *Server) statusOverview(w http.ResponseWriter, r *http.Request) {
	statuses := s.engine.Statuses()
	attention := []string{}
	for _, sess := range status.GetSessionsRequiringAttention(s.engine.Sessions(), statuses) {
		attention = append(attention, sess.ID)
	}
	writeJSON(w, http.StatusOK, statusOverview{
		Summary:   status.SummarizeStatuses(statuses),
		Sessions:  statuses,
		Attention: attention,
	})
}

func (s *Server) statusSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Health ---

type healthResponse struct {
	Metrics models.ConnectionHealthMetrics `json:"metrics"`
	Quality models.Quality                 `json:"quality"`
	Stats   engine.Stats                   `json:"stats"`
}

func (s *Server) connectionHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Metrics: s.engine.Health(),
		Quality: s.engine.Quality(),
		Stats:   s.engine.Stats(),
	})
}
