package session

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Persister saves accepted states to the room's durable record
type Persister interface {
	SavePlaybackState(ctx context.Context, roomID string, state models.PlaybackState) error
}

// Listener is called once per accepted update, in acceptance order.
// Listeners must not call ApplyUpdate for the same room synchronously.
type Listener func(roomID string, state models.PlaybackState)

// Store holds the canonical PlaybackState of every room and enforces
// last-writer-wins ordering.
type Store struct {
	mu        sync.RWMutex
	rooms     map[string]*roomEntry
	persister Persister
}

type roomEntry struct {
	// notifyMu serializes accept+notify so listeners observe acceptance order.
	notifyMu sync.Mutex

	mu     sync.RWMutex
	state  models.PlaybackState
	subs   map[uint64]Listener
	nextID uint64
}

// NewStore creates a new Store. persister may be nil.
func NewStore(persister Persister) *Store {
	return &Store{
		rooms:     make(map[string]*roomEntry),
		persister: persister,
	}
}

// EnsureRoom seeds the canonical state of a room. An existing entry is only
// replaced when initial is newer, so seeding never moves a room backwards.
func (s *Store) EnsureRoom(roomID string, initial models.PlaybackState) {
	s.mu.Lock()
	entry, ok := s.rooms[roomID]
	if !ok {
		s.rooms[roomID] = &roomEntry{
			state: initial,
			subs:  make(map[uint64]Listener),
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	entry.mu.Lock()
	if initial.NewerThan(entry.state) {
		entry.state = initial
	}
	entry.mu.Unlock()
}

// RemoveRoom drops a room and all of its listeners
func (s *Store) RemoveRoom(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

// HasRoom reports whether the store tracks roomID
func (s *Store) HasRoom(roomID string) bool {
	_, ok := s.entry(roomID)
	return ok
}

// GetState returns the current canonical snapshot for a room
func (s *Store) GetState(roomID string) (models.PlaybackState, bool) {
	entry, ok := s.entry(roomID)
	if !ok {
		return models.PlaybackState{}, false
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.state, true
}

// ApplyUpdate merges candidate into the room's canonical state. The candidate is
// accepted iff its UpdatedAt is strictly greater than the current one; stale
// candidates are dropped without error. Accepted states are persisted (best
// effort) and then delivered to listeners.
func (s *Store) ApplyUpdate(ctx context.Context, roomID string, candidate models.PlaybackState) (bool, error) {
	if err := candidate.Validate(); err != nil {
		return false, fmt.Errorf("apply update to room %s: %w", roomID, err)
	}

	entry, ok := s.entry(roomID)
	if !ok {
		return false, fmt.Errorf("apply update to room %s: %w", roomID, ErrRoomNotFound)
	}

	entry.notifyMu.Lock()
	defer entry.notifyMu.Unlock()

	entry.mu.Lock()
	if !candidate.NewerThan(entry.state) {
		current := entry.state.UpdatedAt
		entry.mu.Unlock()
		log.Debug().
			Str("room_id", roomID).
			Str("source_id", candidate.SourceID).
			Int64("updated_at", candidate.UpdatedAt).
			Int64("canonical_updated_at", current).
			Msg("discarding stale playback update")
		return false, nil
	}
	entry.state = candidate
	listeners := make([]Listener, 0, len(entry.subs))
	for _, id := range sortedKeys(entry.subs) {
		listeners = append(listeners, entry.subs[id])
	}
	entry.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SavePlaybackState(ctx, roomID, candidate); err != nil {
			// Writes are best effort; the in-memory canonical state stays authoritative.
			log.Warn().Err(err).Str("room_id", roomID).Msg("failed to persist playback state")
		}
	}

	for _, fn := range listeners {
		fn(roomID, candidate)
	}

	log.Debug().
		Str("room_id", roomID).
		Str("source_id", candidate.SourceID).
		Bool("is_playing", candidate.IsPlaying).
		Float64("position", candidate.Position).
		Int64("updated_at", candidate.UpdatedAt).
		Int("listeners", len(listeners)).
		Msg("playback update accepted")

	return true, nil
}

// Subscribe registers fn for every accepted update of roomID. The returned
// func removes the subscription and is safe to call more than once.
func (s *Store) Subscribe(roomID string, fn Listener) (func(), error) {
	entry, ok := s.entry(roomID)
	if !ok {
		return nil, fmt.Errorf("subscribe to room %s: %w", roomID, ErrRoomNotFound)
	}

	entry.mu.Lock()
	id := entry.nextID
	entry.nextID++
	entry.subs[id] = fn
	entry.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Lock()
			delete(entry.subs, id)
			entry.mu.Unlock()
		})
	}, nil
}

// Rooms returns the ids of all tracked rooms
func (s *Store) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) entry(roomID string) (*roomEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.rooms[roomID]
	return entry, ok
}

// sortedKeys returns subscription ids in registration order
func sortedKeys(m map[uint64]Listener) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
