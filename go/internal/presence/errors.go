package presence

import "errors"

// ErrResourceUnavailable is returned when a capture device cannot be acquired
var ErrResourceUnavailable = errors.New("resource unavailable")
