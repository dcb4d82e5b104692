// Package api exposes the orchestrator over HTTP. POST /action is the
// single mutating endpoint; GET endpoints are read-only views of the
// replica. The scheduler's operational controls sit behind a bearer
// token. Request routing and schema validation beyond basic decoding
// belong to the front door, not this service.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/talgya/arena/internal/actions"
	"github.com/talgya/arena/internal/game"
	"github.com/talgya/arena/internal/replica"
	"github.com/talgya/arena/internal/scheduler"
)

// Server serves the arena API.
type Server struct {
	Store    *replica.Store
	Orch     *actions.Orchestrator
	Sched    *scheduler.Scheduler
	Port     int
	AdminKey string // Bearer token for admin endpoints. Empty = disabled.
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	actionLimiter := NewRateLimiter(60, time.Minute)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/action", RateLimitMiddleware(actionLimiter, s.handleAction))

	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/battles", s.handleBattles)
	mux.HandleFunc("/api/v1/events", s.handleEvents)

	mux.HandleFunc("/api/v1/scheduler", s.adminOnly(s.handleScheduler))

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// handleAction accepts a proposed action and returns the normalized
// feedback shape regardless of outcome.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req actions.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, actions.Response{
			Success: false,
			Feedback: actions.Feedback{
				IsValid: false,
				Error: &actions.FeedbackError{
					Type:    game.ErrInternal,
					Message: "malformed request body",
				},
			},
		})
		return
	}

	resp := s.Orch.Execute(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"scheduler_running": s.Sched.Running(),
		"time":              time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("game_id")
	agents, err := s.Store.ListAgents(r.Context(), gameID)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}

func (s *Server) handleBattles(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("game_id")
	status := game.BattleStatus(r.URL.Query().Get("status"))
	battles, err := s.Store.ListBattles(r.Context(), gameID, status)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"battles": battles, "count": len(battles)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	events, err := s.Store.RecentEvents(r.Context(), limit)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// handleScheduler starts or stops the resolution loop.
func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	switch body.Command {
	case "start":
		s.Sched.Start()
	case "stop":
		s.Sched.Stop()
	default:
		http.Error(w, "unknown command", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": s.Sched.Running()})
}

// adminOnly requires the bearer token. With no key configured the
// endpoint is disabled entirely.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled", http.StatusForbidden)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.AdminKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}
