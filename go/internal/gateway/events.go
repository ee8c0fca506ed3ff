package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/watchparty/go/internal/models"
)

// RoomEvent is the envelope for every event pushed to room sockets
type RoomEvent struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType represents the type of room event
type EventType string

const (
	EventTypeStateSnapshot     EventType = "StateSnapshot"
	EventTypePlaybackUpdated   EventType = "PlaybackUpdated"
	EventTypeParticipantJoined EventType = "ParticipantJoined"
	EventTypeParticipantLeft   EventType = "ParticipantLeft"
	EventTypeMicChanged        EventType = "MicChanged"
	EventTypeSpeakersChanged   EventType = "SpeakersChanged"
	EventTypeMessagePosted     EventType = "MessagePosted"
	EventTypeError             EventType = "Error"
)

type StateSnapshotPayload struct {
	Room     *models.Room           `json:"room"`
	Presence []models.PresenceEntry `json:"presence"`
}

type PlaybackUpdatedPayload struct {
	State models.PlaybackState `json:"state"`
}

type ParticipantPayload struct {
	User models.UserRef `json:"user"`
}

type MicChangedPayload struct {
	UserID  string `json:"user_id"`
	Enabled bool   `json:"enabled"`
}

type SpeakersChangedPayload struct {
	Speakers []string `json:"speakers"`
}

type MessagePostedPayload struct {
	Message models.Message `json:"message"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewRoomEvent wraps payload in an event envelope
func NewRoomEvent(roomID string, eventType EventType, at time.Time, payload any) (*RoomEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &RoomEvent{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Type:      eventType,
		Timestamp: at.UTC(),
		Data:      data,
	}, nil
}

// ClientMessageType names a command sent by a socket client
type ClientMessageType string

const (
	ClientMessagePlayback ClientMessageType = "playback"
	ClientMessageChat     ClientMessageType = "chat"
	ClientMessageMic      ClientMessageType = "mic"
)

// ClientMessage is a command received over a room socket
type ClientMessage struct {
	Type    ClientMessageType     `json:"type"`
	State   *models.PlaybackState `json:"state,omitempty"`
	Text    string                `json:"text,omitempty"`
	Enabled *bool                 `json:"enabled,omitempty"`
}
