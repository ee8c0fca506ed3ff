package reconciler

import "time"

// Policy controls when a canonical update is allowed to correct local playback
type Policy struct {
	// FreshnessWindow is the maximum age of an update that may still trigger a correction
	FreshnessWindow time.Duration
	// DriftTolerance is the largest drift in seconds left uncorrected
	DriftTolerance float64
}

// DefaultPolicy returns the standard 2s freshness window and 1s drift tolerance
func DefaultPolicy() Policy {
	return Policy{
		FreshnessWindow: 2 * time.Second,
		DriftTolerance:  1.0,
	}
}

// fresh reports whether an update of the given age may act.
// Updates from the future (clock skew) count as fresh.
func (p Policy) fresh(age time.Duration) bool {
	return age <= p.FreshnessWindow
}

func (p Policy) needsSeek(drift float64) bool {
	return drift > p.DriftTolerance
}
