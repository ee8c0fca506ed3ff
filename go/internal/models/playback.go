package models

import (
	"math"
	"time"
)

// PlaybackState is the shared playback timeline of a room.
// UpdatedAt is milliseconds since the Unix epoch; the state with the greatest
// UpdatedAt is canonical.
type PlaybackState struct {
	IsPlaying bool    `json:"is_playing"`
	Position  float64 `json:"position"`
	UpdatedAt int64   `json:"updated_at"`
	SourceID  string  `json:"source_id,omitempty"`
}

// DefaultPlaybackState is the state of a freshly created room: paused at 0.
// UpdatedAt is zero so that the first real write always supersedes it.
func DefaultPlaybackState() PlaybackState {
	return PlaybackState{}
}

// NewerThan reports whether s supersedes other under last-writer-wins.
func (s PlaybackState) NewerThan(other PlaybackState) bool {
	return s.UpdatedAt > other.UpdatedAt
}

// UpdatedTime returns UpdatedAt as a time.Time
func (s PlaybackState) UpdatedTime() time.Time {
	return time.UnixMilli(s.UpdatedAt)
}

// Validate checks the invariants of a candidate state
func (s PlaybackState) Validate() error {
	if math.IsNaN(s.Position) || math.IsInf(s.Position, 0) || s.Position < 0 {
		return ErrInvalidPlaybackState
	}
	if s.UpdatedAt < 0 {
		return ErrInvalidPlaybackState
	}
	return nil
}

// LocalPlayerState is one viewer's view of its own player. It is never shared.
type LocalPlayerState struct {
	LocalPosition        float64 `json:"local_position"`
	LocalIsPlaying       bool    `json:"local_is_playing"`
	LastAppliedUpdatedAt int64   `json:"last_applied_updated_at"`
}

// PresenceEntry is a participant's voice status
type PresenceEntry struct {
	UserID     string `json:"user_id"`
	MicEnabled bool   `json:"mic_enabled"`
	Speaking   bool   `json:"speaking"`
}
