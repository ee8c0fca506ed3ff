package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/mcdev12/watchparty/go/internal/models"
)

// ErrClosed is returned when using a closed bus
var ErrClosed = errors.New("bus closed")

// LocalBus is the in-process binding. Each subscriber drains its own ordered
// queue, so one sender's updates are delivered in send order.
type LocalBus struct {
	mu     sync.Mutex
	rooms  map[string]map[*localSub]struct{}
	closed bool
}

type delivery struct {
	roomID string
	state  models.PlaybackState
}

type localSub struct {
	bus    *LocalBus
	roomID string
	h      Handler

	mu      sync.Mutex
	queue   []delivery
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

// NewLocalBus creates an in-process bus
func NewLocalBus() *LocalBus {
	return &LocalBus{rooms: make(map[string]map[*localSub]struct{})}
}

func (b *LocalBus) Publish(_ context.Context, roomID string, state models.PlaybackState) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	subs := make([]*localSub, 0, len(b.rooms[roomID]))
	for s := range b.rooms[roomID] {
		subs = append(subs, s)
	}
	// Enqueue under the bus lock so concurrent publishers cannot interleave
	// differently across subscribers.
	for _, s := range subs {
		s.enqueue(delivery{roomID: roomID, state: state})
	}
	b.mu.Unlock()
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, roomID string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &localSub{
		bus:    b,
		roomID: roomID,
		h:      h,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if b.rooms[roomID] == nil {
		b.rooms[roomID] = make(map[*localSub]struct{})
	}
	b.rooms[roomID][s] = struct{}{}
	go s.run()
	return s, nil
}

// Close stops every subscription
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*localSub
	for _, room := range b.rooms {
		for s := range room {
			subs = append(subs, s)
		}
	}
	b.rooms = make(map[string]map[*localSub]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

func (s *localSub) Unsubscribe() error {
	s.bus.mu.Lock()
	if room, ok := s.bus.rooms[s.roomID]; ok {
		delete(room, s)
		if len(room) == 0 {
			delete(s.bus.rooms, s.roomID)
		}
	}
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

func (s *localSub) enqueue(d delivery) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, d)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *localSub) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}

func (s *localSub) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.stopped || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			d := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			s.h(d.roomID, d.state)
		}
	}
}
