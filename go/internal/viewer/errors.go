package viewer

import "errors"

// ErrNotJoined is returned for playback actions outside a room
var ErrNotJoined = errors.New("viewer has not joined the room")
