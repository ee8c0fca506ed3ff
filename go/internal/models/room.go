package models

import (
	"time"
)

// Privacy controls who can see a room in the lobby
type Privacy string

const (
	PrivacyPublic      Privacy = "public"
	PrivacyPrivate     Privacy = "private"
	PrivacyFriendsOnly Privacy = "friends_only"
)

// Valid reports whether p is a known privacy level
func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyPrivate, PrivacyFriendsOnly:
		return true
	}
	return false
}

// MessageType distinguishes user chat from system notices
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

// SystemUserID is the author of system messages
const SystemUserID = "system"

// Message is a chat log entry. Seq orders messages by arrival.
type Message struct {
	ID        string      `json:"id"`
	Seq       int64       `json:"seq"`
	UserID    string      `json:"user_id"`
	Text      string      `json:"text"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// RoomMetadata holds presentation fields stored as JSONB
type RoomMetadata struct {
	Thumbnail   string `json:"thumbnail,omitempty"`
	ServiceIcon string `json:"service_icon,omitempty"`
}

// Room represents a watch-together room
type Room struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	VideoSource   string        `json:"video_source"`
	Privacy       Privacy       `json:"privacy"`
	Metadata      RoomMetadata  `json:"metadata"`
	Participants  []UserRef     `json:"participants"`
	ViewerCount   int           `json:"viewer_count"`
	PlaybackState PlaybackState `json:"playback_state"`
	ChatLog       []Message     `json:"chat_log"`
	CreatedBy     string        `json:"created_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// HasParticipant reports whether userID is in the participant set
func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}
