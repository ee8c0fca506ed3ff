package models

import "errors"

// ErrInvalidPlaybackState is returned for states with a negative or non-finite position
var ErrInvalidPlaybackState = errors.New("invalid playback state")
