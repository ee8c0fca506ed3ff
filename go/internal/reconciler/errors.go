package reconciler

import "errors"

// ErrPlayerUnavailable is returned for local actions while the player resource
// (e.g. the video asset) is not loaded
var ErrPlayerUnavailable = errors.New("player unavailable")
