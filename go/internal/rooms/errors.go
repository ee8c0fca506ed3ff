package rooms

import (
	"errors"

	"github.com/mcdev12/watchparty/go/internal/session"
)

var (
	// ErrRoomNotFound is shared with the session store so errors.Is matches
	// either layer.
	ErrRoomNotFound = session.ErrRoomNotFound
	// ErrNotAuthenticated is returned for actions that need a signed-in user
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrForbidden is returned when the caller does not own the room
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidRequest wraps validation failures
	ErrInvalidRequest = errors.New("invalid request")
)
