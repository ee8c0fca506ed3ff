package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/session"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// Bridge connects a session store to a bus. Updates the store accepts locally
// are published; updates delivered by the bus are offered to the store.
type Bridge struct {
	store *session.Store
	bus   Bus

	mu    sync.Mutex
	rooms map[string]*bridgedRoom
}

type bridgedRoom struct {
	unsubscribe func()
	sub         Subscription

	mu      sync.Mutex
	inbound models.PlaybackState
}

// NewBridge creates a Bridge between store and b
func NewBridge(store *session.Store, b Bus) *Bridge {
	return &Bridge{
		store: store,
		bus:   b,
		rooms: make(map[string]*bridgedRoom),
	}
}

// Attach starts relaying roomID. The room must already exist in the store.
// Attaching an attached room is a no-op.
func (b *Bridge) Attach(ctx context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rooms[roomID]; ok {
		return nil
	}

	room := &bridgedRoom{}
	unsubscribe, err := b.store.Subscribe(roomID, func(roomID string, state models.PlaybackState) {
		b.outbound(room, roomID, state)
	})
	if err != nil {
		return fmt.Errorf("subscribe to store: %w", err)
	}
	room.unsubscribe = unsubscribe

	sub, err := b.bus.Subscribe(ctx, roomID, func(roomID string, state models.PlaybackState) {
		b.inbound(ctx, room, roomID, state)
	})
	if err != nil {
		unsubscribe()
		return fmt.Errorf("subscribe to bus: %w", err)
	}
	room.sub = sub

	b.rooms[roomID] = room
	log.Debug().Str("room_id", roomID).Msg("bridged room to bus")
	return nil
}

// Detach stops relaying roomID
func (b *Bridge) Detach(roomID string) {
	b.mu.Lock()
	room, ok := b.rooms[roomID]
	delete(b.rooms, roomID)
	b.mu.Unlock()
	if !ok {
		return
	}
	room.unsubscribe()
	if err := room.sub.Unsubscribe(); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to unsubscribe from bus")
	}
}

// Close detaches every room. The bus itself stays open.
func (b *Bridge) Close() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.rooms))
	for id := range b.rooms {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.Detach(id)
	}
}

// outbound runs inside the store's per-room notification, so publishes for a
// room leave in acceptance order.
func (b *Bridge) outbound(room *bridgedRoom, roomID string, state models.PlaybackState) {
	room.mu.Lock()
	fromBus := room.inbound == state
	room.mu.Unlock()
	if fromBus {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.bus.Publish(ctx, roomID, state); err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Int64("updated_at", state.UpdatedAt).
			Msg("failed to publish playback state")
	}
}

func (b *Bridge) inbound(ctx context.Context, room *bridgedRoom, roomID string, state models.PlaybackState) {
	room.mu.Lock()
	room.inbound = state
	room.mu.Unlock()

	_, err := b.store.ApplyUpdate(context.WithoutCancel(ctx), roomID, state)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrRoomNotFound):
		log.Debug().Str("room_id", roomID).Msg("dropping update for removed room")
	default:
		log.Warn().Err(err).Str("room_id", roomID).Msg("rejected playback update from bus")
	}
}
