package bus

import (
	"context"

	"github.com/mcdev12/watchparty/go/internal/models"
)

// Handler receives playback states delivered for a room
type Handler func(roomID string, state models.PlaybackState)

// Subscription is an active room subscription
type Subscription interface {
	Unsubscribe() error
}

// Bus propagates accepted canonical states between participants.
//
// Delivery is at-least-once. A given sender's updates reach any one receiver in
// send order; there is no order across senders, which last-writer-wins makes safe.
type Bus interface {
	Publish(ctx context.Context, roomID string, state models.PlaybackState) error
	Subscribe(ctx context.Context, roomID string, h Handler) (Subscription, error)
	Close() error
}
