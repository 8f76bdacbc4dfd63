package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wfunc/snakes/gateway"
	"github.com/wfunc/snakes/models"
	"github.com/wfunc/snakes/persistence"
	"github.com/wfunc/snakes/state"
)

const requestTimeout = 10 * time.Second

// RoomSummary is one entry of GET /v1/rooms.
type RoomSummary struct {
	ID          string            `json:"id"`
	State       state.GameState   `json:"state"`
	Lobby       models.LobbyState `json:"lobby"`
	Round       int               `json:"round"`
	Subscribers int               `json:"subscribers"`
	CreatedAt   time.Time         `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler routes the websocket endpoint, the health and metrics endpoints and
// the read-only REST API.
func (s *GameServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	if s.monitor != nil {
		r.Handle("/metrics", s.monitor.Handler())
		r.Handle("/debug/vars", s.monitor.VarsHandler())
	}

	r.Route("/v1", func(r chi.Router) {
		// websocket 不能加超时
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/rooms", s.listRooms)
		r.Get("/rooms/{id}/lobby", s.getLobby)
		r.Get("/rooms/{id}/state", s.getState)
		r.Get("/leaderboard", s.getLeaderboard)
		r.Get("/matches/{id}", s.getMatch)
	})
	return r
}

func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"rooms":       len(s.rooms.Rooms()),
		"connections": s.ConnectionCount(),
	})
}

func (s *GameServer) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.rooms.Rooms()
	summaries := make([]RoomSummary, 0, len(rooms))
	for _, rm := range rooms {
		summaries = append(summaries, RoomSummary{
			ID:          rm.ID,
			State:       rm.State(),
			Lobby:       rm.LobbyState(),
			Round:       rm.Round(),
			Subscribers: rm.SubscriberCount(),
			CreatedAt:   rm.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, summaries)
}

func (s *GameServer) getLobby(w http.ResponseWriter, r *http.Request) {
	lobby, err := s.gateway.GetLobbyState(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, lobby)
}

func (s *GameServer) getState(w http.ResponseWriter, r *http.Request) {
	rm, ok := s.rooms.GetRoom(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, gateway.ErrUnknownRoom)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":   rm.State(),
		"round":   rm.Round(),
		"players": rm.PlayerStates(),
		"berries": rm.Berries(),
	})
}

func (s *GameServer) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}

	entries, err := s.matches.Leaderboard(r.Context(), limit)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	if entries == nil {
		entries = []models.ScoreEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *GameServer) getMatch(w http.ResponseWriter, r *http.Request) {
	record, err := s.matches.Match(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrUnknownRoom), errors.Is(err, persistence.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, errorResponse{Error: err.Error()})
}
