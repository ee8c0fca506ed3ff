package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/watchparty/go/internal/rpc"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for room connections
type WebSocketHandler struct {
	service *Service
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(s *Service) *WebSocketHandler {
	return &WebSocketHandler{service: s}
}

// HandleRoomConnection handles GET /ws/room?room_id=...&user_id=...
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get(rpc.UserIDHeader)
	}
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusUnauthorized)
		return
	}

	user, err := h.service.users.GetUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}
	room, err := h.service.rooms.GetRoom(r.Context(), roomID)
	if err != nil {
		if isNotFound(err) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to load room for socket")
		http.Error(w, "failed to load room", http.StatusInternalServerError)
		return
	}

	// On upgrade failure the upgrader has already replied.
	if err := h.service.connect(w, r, user, room); err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Str("user_id", userID).
			Msg("failed to establish WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/room", h.HandleRoomConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
