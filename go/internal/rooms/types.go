package rooms

import (
	"time"

	"github.com/mcdev12/watchparty/go/internal/models"
)

// CreateRoomRequest represents the data needed to create a new room
type CreateRoomRequest struct {
	Title       string         `json:"title"`
	VideoSource string         `json:"video_source"`
	Privacy     models.Privacy `json:"privacy"`
	Thumbnail   string         `json:"thumbnail,omitempty"`
	ServiceIcon string         `json:"service_icon,omitempty"`
}

// RoomSummary is the lobby view of a room
type RoomSummary struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Privacy     models.Privacy `json:"privacy"`
	Thumbnail   string         `json:"thumbnail,omitempty"`
	ServiceIcon string         `json:"service_icon,omitempty"`
	ViewerCount int            `json:"viewer_count"`
	IsPlaying   bool           `json:"is_playing"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Summarize returns the lobby view of room
func Summarize(room *models.Room) RoomSummary {
	return RoomSummary{
		ID:          room.ID,
		Title:       room.Title,
		Privacy:     room.Privacy,
		Thumbnail:   room.Metadata.Thumbnail,
		ServiceIcon: room.Metadata.ServiceIcon,
		ViewerCount: room.ViewerCount,
		IsPlaying:   room.PlaybackState.IsPlaying,
		CreatedAt:   room.CreatedAt,
	}
}

const (
	defaultThumbnail   = "https://images.unsplash.com/photo-1598899134739-24c46f58b8c0?w=800&q=80"
	defaultServiceIcon = "web"
)
