package gateway

import (
	"net/http"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/rs/zerolog/log"
)

// RoomStateResponse is the live state of one room
type RoomStateResponse struct {
	RoomID      string                 `json:"room_id"`
	Title       string                 `json:"title"`
	Playback    models.PlaybackState   `json:"playback"`
	Presence    []models.PresenceEntry `json:"presence"`
	ViewerCount int                    `json:"viewer_count"`
	Connections int                    `json:"connections"`
}

// ActiveRoom summarizes a room that has open sockets on this node
type ActiveRoom struct {
	RoomID      string `json:"room_id"`
	Title       string `json:"title"`
	IsPlaying   bool   `json:"is_playing"`
	ViewerCount int    `json:"viewer_count"`
	Connections int    `json:"connections"`
}

// StateHandler handles HTTP requests for live room state
type StateHandler struct {
	service *Service
}

// NewStateHandler creates a new state handler
func NewStateHandler(s *Service) *StateHandler {
	return &StateHandler{service: s}
}

// HandleGetRoomState handles GET /api/rooms/{id}/state
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	room, err := h.service.rooms.GetRoom(r.Context(), roomID)
	if err != nil {
		if isNotFound(err) {
			writeJSON(w, http.StatusNotFound, ErrorPayload{Message: "room not found"})
			return
		}
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to get room state")
		writeJSON(w, http.StatusInternalServerError, ErrorPayload{Message: "failed to get room state"})
		return
	}

	entries, err := h.service.tracker.Entries(r.Context(), roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to read presence")
	}
	if entries == nil {
		entries = []models.PresenceEntry{}
	}
	writeJSON(w, http.StatusOK, RoomStateResponse{
		RoomID:      room.ID,
		Title:       room.Title,
		Playback:    room.PlaybackState,
		Presence:    entries,
		ViewerCount: room.ViewerCount,
		Connections: h.service.connectionManager.RoomConnections(room.ID),
	})
}

// HandleGetActiveRooms handles GET /api/rooms/active
func (h *StateHandler) HandleGetActiveRooms(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.rooms.ListRooms(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get active rooms")
		writeJSON(w, http.StatusInternalServerError, ErrorPayload{Message: "failed to get active rooms"})
		return
	}

	active := make([]ActiveRoom, 0)
	for _, room := range list {
		n := h.service.connectionManager.RoomConnections(room.ID)
		if n == 0 {
			continue
		}
		active = append(active, ActiveRoom{
			RoomID:      room.ID,
			Title:       room.Title,
			IsPlaying:   room.PlaybackState.IsPlaying,
			ViewerCount: room.ViewerCount,
			Connections: n,
		})
	}
	writeJSON(w, http.StatusOK, active)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms/active", h.HandleGetActiveRooms)
	mux.HandleFunc("GET /api/rooms/{id}/state", h.HandleGetRoomState)
}
