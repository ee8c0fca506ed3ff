package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/presence"
	"github.com/mcdev12/watchparty/go/internal/reconciler"
	"github.com/mcdev12/watchparty/go/internal/session"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for a viewer session
type Config struct {
	// SessionID identifies this viewer runtime on the bus; generated when empty
	SessionID string
	RoomID    string
	User      models.UserRef
	Policy    reconciler.Policy
	Clock     clockwork.Clock
}

// Session is one viewer's runtime inside a room. It exists between Join and
// Leave; its local player state is discarded on Leave.
type Session struct {
	config  Config
	store   *session.Store
	tracker *presence.Tracker
	player  reconciler.Player
	devices presence.Acquirer

	rec *reconciler.Reconciler
	mic *presence.MicController

	mu          sync.Mutex
	joined      bool
	unsubscribe func()
}

// New creates a viewer session. acquirer may be nil when the viewer has no microphone.
func New(cfg Config, store *session.Store, tracker *presence.Tracker, player reconciler.Player, acquirer presence.Acquirer) *Session {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if acquirer == nil {
		acquirer = presence.AcquireFunc(func(context.Context) (presence.Releaser, error) {
			return nil, errors.New("no capture device")
		})
	}
	return &Session{
		config:  cfg,
		store:   store,
		tracker: tracker,
		player:  player,
		devices: acquirer,
	}
}

// Join bootstraps the player from the room's canonical state, subscribes to
// canonical updates and registers the user's presence.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		return nil
	}

	state, ok := s.store.GetState(s.config.RoomID)
	if !ok {
		return fmt.Errorf("join room %s: %w", s.config.RoomID, session.ErrRoomNotFound)
	}

	rec := reconciler.New(reconciler.Config{
		ID:     s.config.SessionID,
		RoomID: s.config.RoomID,
		Policy: s.config.Policy,
		Clock:  s.config.Clock,
	}, s.player, s.store)
	rec.Bootstrap(state)

	unsubscribe, err := s.store.Subscribe(s.config.RoomID, func(_ string, update models.PlaybackState) {
		rec.Apply(update)
	})
	if err != nil {
		return fmt.Errorf("subscribe to room %s: %w", s.config.RoomID, err)
	}

	if s.tracker != nil {
		if _, err := s.tracker.Join(ctx, s.config.RoomID, s.config.User); err != nil {
			unsubscribe()
			return err
		}
	}

	s.rec = rec
	s.mic = presence.NewMicController(s.devices, s.tracker, s.config.RoomID, s.config.User.ID)
	s.unsubscribe = unsubscribe
	s.joined = true
	log.Info().
		Str("room_id", s.config.RoomID).
		Str("user_id", s.config.User.ID).
		Str("source_id", s.config.SessionID).
		Msg("viewer joined room")
	return nil
}

// Leave cancels the subscription, releases the microphone and removes the
// user's presence. It is safe to call more than once and from a defer.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return nil
	}
	unsubscribe, mic := s.unsubscribe, s.mic
	s.joined = false
	s.unsubscribe = nil
	s.rec = nil
	s.mic = nil
	s.mu.Unlock()

	unsubscribe()

	var errs []error
	if err := mic.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.tracker != nil {
		if _, err := s.tracker.Leave(ctx, s.config.RoomID, s.config.User.ID); err != nil {
			errs = append(errs, err)
		}
	}

	log.Info().
		Str("room_id", s.config.RoomID).
		Str("user_id", s.config.User.ID).
		Msg("viewer left room")
	return errors.Join(errs...)
}

// Reconciler returns the active reconciler, or nil outside a room
func (s *Session) Reconciler() *reconciler.Reconciler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// Mic returns the viewer's microphone controller, or nil outside a room
func (s *Session) Mic() *presence.MicController {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mic
}

// Play, Pause and Seek act on the joined room
func (s *Session) Play(ctx context.Context) error {
	rec, err := s.active()
	if err != nil {
		return err
	}
	return rec.Play(ctx)
}

func (s *Session) Pause(ctx context.Context) error {
	rec, err := s.active()
	if err != nil {
		return err
	}
	return rec.Pause(ctx)
}

func (s *Session) Seek(ctx context.Context, position float64) error {
	rec, err := s.active()
	if err != nil {
		return err
	}
	return rec.Seek(ctx, position)
}

// LocalState returns the viewer's local player state
func (s *Session) LocalState() (models.LocalPlayerState, bool) {
	rec := s.Reconciler()
	if rec == nil {
		return models.LocalPlayerState{}, false
	}
	return rec.State(), true
}

func (s *Session) active() (*reconciler.Reconciler, error) {
	rec := s.Reconciler()
	if rec == nil {
		return nil, ErrNotJoined
	}
	return rec, nil
}
