package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/game/engine"
)

// MaxNameLength is the longest player name the lobby accepts, in runes.
const MaxNameLength = 20

const maxBodyBytes = 4 << 10

// Engine is the part of the sync engine the gateway drives.
type Engine interface {
	ID() string
	Snapshot() engine.View
	Subscribe() (<-chan engine.View, func())

	CreateRoom(playerName string) error
	JoinRoom(playerName, roomCode string) error
	CastVote(targetID string) error
	NightAction(targetID string) error
	SendChat(message string) error
	StartGame() error
	ReplayGame() error
	DisbandRoom() error
	ClearError() error
}

// Handler serves the current view and accepts operator intents over HTTP.
type Handler struct {
	engine Engine
}

// NewHandler creates a new intent handler
func NewHandler(e Engine) *Handler {
	return &Handler{engine: e}
}

type nameRequest struct {
	Name     string `json:"name"`
	RoomCode string `json:"room_code"`
}

type targetRequest struct {
	Target string `json:"target"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type acceptedResponse struct {
	Status string `json:"status"`
}

// RegisterRoutes registers the state and intent routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", h.HandleGetState)
	mux.HandleFunc("GET /health", h.HandleHealth)

	mux.HandleFunc("POST /api/rooms", h.HandleCreateRoom)
	mux.HandleFunc("POST /api/rooms/join", h.HandleJoinRoom)
	mux.HandleFunc("POST /api/vote", h.HandleVote)
	mux.HandleFunc("POST /api/night-action", h.HandleNightAction)
	mux.HandleFunc("POST /api/chat", h.HandleChat)
	mux.HandleFunc("POST /api/game/start", h.noBody(h.engine.StartGame))
	mux.HandleFunc("POST /api/game/replay", h.noBody(h.engine.ReplayGame))
	mux.HandleFunc("POST /api/room/disband", h.noBody(h.engine.DisbandRoom))
	mux.HandleFunc("POST /api/error/clear", h.noBody(h.engine.ClearError))
}

// HandleGetState handles GET /api/state
func (h *Handler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

// HandleCreateRoom handles POST /api/rooms
func (h *Handler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decode(w, r, &req) {
		return
	}
	h.respond(w, "create_room", h.engine.CreateRoom(ShapeName(req.Name)))
}

// HandleJoinRoom handles POST /api/rooms/join
func (h *Handler) HandleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decode(w, r, &req) {
		return
	}
	h.respond(w, "join_room", h.engine.JoinRoom(ShapeName(req.Name), ShapeRoomCode(req.RoomCode)))
}

// HandleVote handles POST /api/vote
func (h *Handler) HandleVote(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !decode(w, r, &req) {
		return
	}
	h.respond(w, "vote", h.engine.CastVote(req.Target))
}

// HandleNightAction handles POST /api/night-action
func (h *Handler) HandleNightAction(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !decode(w, r, &req) {
		return
	}
	h.respond(w, "night_action", h.engine.NightAction(req.Target))
}

// HandleChat handles POST /api/chat
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	h.respond(w, "chat", h.engine.SendChat(req.Message))
}

func (h *Handler) noBody(intent func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, r.URL.Path, intent())
	}
}

func (h *Handler) respond(w http.ResponseWriter, intent string, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
	case errors.Is(err, engine.ErrInvalidIntent):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).Str("intent", intent).Msg("failed to submit intent")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to submit intent"})
	}
}

// ShapeName trims a player name and cuts it to MaxNameLength runes.
func ShapeName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	return strings.TrimSpace(string([]rune(name)[:MaxNameLength]))
}

// ShapeRoomCode trims a room code and upper-cases it.
func ShapeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
