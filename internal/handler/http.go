package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tournament-engine/internal/domain"
	"github.com/tournament-engine/internal/service"
	"github.com/tournament-engine/internal/websocket"
)

// ReadinessCheck reports whether a dependency can serve requests
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the tournament API
type Handler struct {
	tournaments    *service.TournamentService
	leaderboard    *service.LeaderboardService
	hub            *websocket.Hub
	allowedOrigins []string
	checks         map[string]ReadinessCheck
	logger         *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	tournaments *service.TournamentService,
	leaderboard *service.LeaderboardService,
	hub *websocket.Hub,
	allowedOrigins []string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		tournaments:    tournaments,
		leaderboard:    leaderboard,
		hub:            hub,
		allowedOrigins: allowedOrigins,
		checks:         make(map[string]ReadinessCheck),
		logger:         logger,
	}
}

// AddReadinessCheck registers a dependency consulted by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tournaments", func(r chi.Router) {
			r.Post("/", h.CreateTournament)
			r.Get("/", h.ListTournaments)

			r.Route("/{tournamentID}", func(r chi.Router) {
				r.Get("/", h.GetTournament)
				r.Post("/register", h.RegisterPlayer)
				r.Post("/start", h.StartTournament)
				r.Post("/cancel", h.CancelTournament)
				r.Get("/bracket", h.GetBracket)
			})
		})

		r.Route("/matches/{matchID}", func(r chi.Router) {
			r.Get("/", h.GetMatch)
			r.Post("/start", h.StartMatch)
			r.Post("/result", h.ReportResult)
		})

		r.Get("/leaderboard", h.GetLeaderboard)
		r.Post("/admin/reset", h.ResetAll)
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps domain errors to status codes. Unexpected errors are
// logged and hidden behind ErrInternalError.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsConflictError(err):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, domain.ErrPersistence):
		h.logger.Error("storage unavailable", "operation", op, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrPersistence)
	default:
		h.logger.Error("request failed", "operation", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"total_connections": h.hub.TotalConnections(),
	}
	if id := r.URL.Query().Get("tournament_id"); id != "" {
		stats["subscribers"] = h.hub.SubscriberCount(id)
	}
	h.writeSuccess(w, stats)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck runs every registered readiness check
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
				Success: false,
				Data:    map[string]string{"status": "not ready", "check": name},
				Error:   err.Error(),
			})
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreateTournament handles tournament creation
func (h *Handler) CreateTournament(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTournamentRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	t, err := h.tournaments.CreateTournament(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create tournament", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    t,
	})
}

// ListTournaments returns tournaments, optionally filtered by ?status=
func (h *Handler) ListTournaments(w http.ResponseWriter, r *http.Request) {
	filter := domain.TournamentFilter{
		Status: domain.TournamentStatus(r.URL.Query().Get("status")),
	}

	tournaments, err := h.tournaments.ListTournaments(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "list tournaments", err)
		return
	}

	h.writeSuccess(w, tournaments)
}

// GetTournament returns a tournament with its players and bracket
func (h *Handler) GetTournament(w http.ResponseWriter, r *http.Request) {
	details, err := h.tournaments.GetTournament(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		h.writeServiceError(w, "get tournament", err)
		return
	}

	h.writeSuccess(w, details)
}

// RegisterPlayer enters a player into a tournament
func (h *Handler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	reg, err := h.tournaments.RegisterPlayer(r.Context(), chi.URLParam(r, "tournamentID"), req)
	if err != nil {
		h.writeServiceError(w, "register player", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    reg,
	})
}

// StartTournament starts a tournament before it fills up
func (h *Handler) StartTournament(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.tournaments.StartTournament(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		h.writeServiceError(w, "start tournament", err)
		return
	}

	h.writeSuccess(w, snapshot)
}

// CancelTournament cancels a tournament
func (h *Handler) CancelTournament(w http.ResponseWriter, r *http.Request) {
	t, err := h.tournaments.CancelTournament(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		h.writeServiceError(w, "cancel tournament", err)
		return
	}

	h.writeSuccess(w, t)
}

// GetBracket returns the rounds of a tournament
func (h *Handler) GetBracket(w http.ResponseWriter, r *http.Request) {
	rounds, err := h.tournaments.GetBracket(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		h.writeServiceError(w, "get bracket", err)
		return
	}

	h.writeSuccess(w, rounds)
}

// GetMatch returns a single match
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := h.tournaments.GetMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		h.writeServiceError(w, "get match", err)
		return
	}

	h.writeSuccess(w, m)
}

// StartMatch moves a pending match into play
func (h *Handler) StartMatch(w http.ResponseWriter, r *http.Request) {
	var req domain.StartMatchRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	m, err := h.tournaments.StartMatch(r.Context(), chi.URLParam(r, "matchID"), req.GameRoomID)
	if err != nil {
		h.writeServiceError(w, "start match", err)
		return
	}

	h.writeSuccess(w, m)
}

// ReportResult records the winner of a match
func (h *Handler) ReportResult(w http.ResponseWriter, r *http.Request) {
	var req domain.MatchResult
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	m, err := h.tournaments.ReportMatchResult(r.Context(), chi.URLParam(r, "matchID"), req.WinnerUserID)
	if err != nil {
		h.writeServiceError(w, "report result", err)
		return
	}

	h.writeSuccess(w, m)
}

// GetLeaderboard returns the cross-tournament leaderboard
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.leaderboard.Top(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "get leaderboard", err)
		return
	}

	h.writeSuccess(w, entries)
}

// ResetAll deletes every tournament and leaderboard entry
func (h *Handler) ResetAll(w http.ResponseWriter, r *http.Request) {
	if err := h.tournaments.ResetAll(r.Context()); err != nil {
		h.writeServiceError(w, "reset", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "reset"})
}
