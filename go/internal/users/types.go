package users

import (
	"errors"

	"github.com/mcdev12/watchparty/go/internal/models"
)

var (
	// ErrUserNotFound is returned for unknown user ids
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidName is returned when a login name is empty or too long
	ErrInvalidName = errors.New("invalid user name")
)

// LoginRequest represents the data needed to sign in
type LoginRequest struct {
	Name string `json:"name"`
}

// DefaultStats are the counters every new profile starts with
func DefaultStats() models.UserStats {
	return models.UserStats{HoursWatched: 12, RoomsCreated: 0, RoomsJoined: 0, MoviesWatched: 3}
}

const (
	maxNameLength   = 40
	avatarURLFormat = "https://api.dicebear.com/7.x/avataaars/svg?seed=%s"
	currentUserKey  = "currentUser"
)
