package presence

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/rs/zerolog/log"
)

// EventType identifies a presence change
type EventType string

const (
	EventJoined          EventType = "joined"
	EventLeft            EventType = "left"
	EventMicChanged      EventType = "mic_changed"
	EventSpeakersChanged EventType = "speakers_changed"
)

// Event describes one presence change in a room
type Event struct {
	Type       EventType
	RoomID     string
	User       models.UserRef
	MicEnabled bool
	Speakers   []string
}

// Listener receives presence events
type Listener func(Event)

// Tracker maintains room membership plus the per-user mic and speaking signals.
// Membership lives in the Store; mic and speaking state is ephemeral and local.
type Tracker struct {
	store Store

	mu        sync.Mutex
	mic       map[string]map[string]bool
	speakers  map[string][]string
	listeners map[uint64]Listener
	nextID    uint64
}

// NewTracker creates a Tracker on top of store
func NewTracker(store Store) *Tracker {
	return &Tracker{
		store:     store,
		mic:       make(map[string]map[string]bool),
		speakers:  make(map[string][]string),
		listeners: make(map[uint64]Listener),
	}
}

// Join adds user to the room. Joining twice is a no-op and reports false.
func (t *Tracker) Join(ctx context.Context, roomID string, user models.UserRef) (bool, error) {
	joined, err := t.store.Add(ctx, roomID, user)
	if err != nil {
		return false, fmt.Errorf("join room %s: %w", roomID, err)
	}
	if !joined {
		return false, nil
	}

	log.Debug().Str("room_id", roomID).Str("user_id", user.ID).Msg("participant joined")
	t.emit(Event{Type: EventJoined, RoomID: roomID, User: user})
	return true, nil
}

// Leave removes the user from the room. Leaving an absent user is a no-op.
func (t *Tracker) Leave(ctx context.Context, roomID, userID string) (bool, error) {
	left, err := t.store.Remove(ctx, roomID, userID)
	if err != nil {
		return false, fmt.Errorf("leave room %s: %w", roomID, err)
	}

	t.mu.Lock()
	if room := t.mic[roomID]; room != nil {
		delete(room, userID)
		if len(room) == 0 {
			delete(t.mic, roomID)
		}
	}
	t.mu.Unlock()

	if !left {
		return false, nil
	}
	log.Debug().Str("room_id", roomID).Str("user_id", userID).Msg("participant left")
	t.emit(Event{Type: EventLeft, RoomID: roomID, User: models.UserRef{ID: userID}})
	return true, nil
}

// Participants returns the room's members in join order
func (t *Tracker) Participants(ctx context.Context, roomID string) ([]models.UserRef, error) {
	members, err := t.store.Members(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("participants of room %s: %w", roomID, err)
	}
	return members, nil
}

// Count returns the number of members in the room
func (t *Tracker) Count(ctx context.Context, roomID string) (int, error) {
	n, err := t.store.Count(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("count room %s: %w", roomID, err)
	}
	return n, nil
}

// SetMic records whether a participant's microphone is on
func (t *Tracker) SetMic(roomID, userID string, enabled bool) {
	t.mu.Lock()
	room := t.mic[roomID]
	if room == nil {
		room = make(map[string]bool)
		t.mic[roomID] = room
	}
	changed := room[userID] != enabled
	if enabled {
		room[userID] = true
	} else {
		delete(room, userID)
	}
	t.mu.Unlock()

	if changed {
		t.emit(Event{Type: EventMicChanged, RoomID: roomID, User: models.UserRef{ID: userID}, MicEnabled: enabled})
	}
}

// MicEnabled reports whether the participant's microphone is on
func (t *Tracker) MicEnabled(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mic[roomID][userID]
}

// Speakers returns the last sampled speaker set for the room
func (t *Tracker) Speakers(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.speakers[roomID])
}

// setSpeakers stores a sampled speaker set and emits an event if it changed
func (t *Tracker) setSpeakers(roomID string, speakers []string) bool {
	slices.Sort(speakers)
	t.mu.Lock()
	if slices.Equal(t.speakers[roomID], speakers) {
		t.mu.Unlock()
		return false
	}
	if len(speakers) == 0 {
		delete(t.speakers, roomID)
	} else {
		t.speakers[roomID] = speakers
	}
	t.mu.Unlock()

	t.emit(Event{Type: EventSpeakersChanged, RoomID: roomID, Speakers: slices.Clone(speakers)})
	return true
}

// Entries returns a presence entry for every participant
func (t *Tracker) Entries(ctx context.Context, roomID string) ([]models.PresenceEntry, error) {
	members, err := t.Participants(ctx, roomID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	entries := make([]models.PresenceEntry, 0, len(members))
	for _, m := range members {
		entries = append(entries, models.PresenceEntry{
			UserID:     m.ID,
			MicEnabled: t.mic[roomID][m.ID],
			Speaking:   slices.Contains(t.speakers[roomID], m.ID),
		})
	}
	return entries, nil
}

// Subscribe registers fn for every presence event and returns a function that
// removes it.
func (t *Tracker) Subscribe(fn Listener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

func (t *Tracker) emit(e Event) {
	t.mu.Lock()
	ids := make([]uint64, 0, len(t.listeners))
	for id := range t.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, t.listeners[id])
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
