package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Releaser frees an acquired capture device
type Releaser interface {
	Release() error
}

// Acquirer obtains a capture device. It may block while the user is prompted.
type Acquirer interface {
	Acquire(ctx context.Context) (Releaser, error)
}

// AcquireFunc adapts a function to Acquirer
type AcquireFunc func(ctx context.Context) (Releaser, error)

func (f AcquireFunc) Acquire(ctx context.Context) (Releaser, error) {
	return f(ctx)
}

// ReleaseFunc adapts a function to Releaser
type ReleaseFunc func() error

func (f ReleaseFunc) Release() error {
	return f()
}

// MicController owns one participant's microphone. The device is held only
// while the mic is on and is always released by Close.
type MicController struct {
	acquirer Acquirer
	tracker  *Tracker
	roomID   string
	userID   string

	mu     sync.Mutex
	held   Releaser
	closed bool
}

// NewMicController creates a MicController for userID in roomID
func NewMicController(acquirer Acquirer, tracker *Tracker, roomID, userID string) *MicController {
	return &MicController{acquirer: acquirer, tracker: tracker, roomID: roomID, userID: userID}
}

// Enabled reports whether the mic is on
func (m *MicController) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held != nil
}

// Toggle turns the mic on if it is off and off if it is on. It returns the
// new state.
func (m *MicController) Toggle(ctx context.Context) (bool, error) {
	if m.Enabled() {
		return false, m.Disable()
	}
	if err := m.Enable(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Enable acquires the device and turns the mic on. A denied acquisition
// returns ErrResourceUnavailable and leaves the mic off.
func (m *MicController) Enable(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("microphone controller closed: %w", ErrResourceUnavailable)
	}
	if m.held != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	r, err := m.acquirer.Acquire(ctx)
	if err != nil {
		log.Warn().Err(err).Str("room_id", m.roomID).Str("user_id", m.userID).Msg("microphone unavailable")
		return fmt.Errorf("acquire microphone: %w: %w", ErrResourceUnavailable, err)
	}

	m.mu.Lock()
	if m.closed || m.held != nil {
		m.mu.Unlock()
		if err := r.Release(); err != nil {
			log.Warn().Err(err).Msg("failed to release surplus microphone")
		}
		if m.closed {
			return fmt.Errorf("microphone controller closed: %w", ErrResourceUnavailable)
		}
		return nil
	}
	m.held = r
	m.mu.Unlock()

	if m.tracker != nil {
		m.tracker.SetMic(m.roomID, m.userID, true)
	}
	return nil
}

// Disable releases the device and turns the mic off
func (m *MicController) Disable() error {
	m.mu.Lock()
	r := m.held
	m.held = nil
	m.mu.Unlock()
	if r == nil {
		return nil
	}

	if m.tracker != nil {
		m.tracker.SetMic(m.roomID, m.userID, false)
	}
	if err := r.Release(); err != nil {
		return fmt.Errorf("release microphone: %w", err)
	}
	return nil
}

// Close turns the mic off and prevents further acquisition
func (m *MicController) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Disable()
}
