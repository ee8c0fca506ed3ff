package session

import "errors"

// ErrRoomNotFound is returned when a room has no canonical state in the store
var ErrRoomNotFound = errors.New("room not found")
