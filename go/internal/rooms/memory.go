package rooms

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mcdev12/watchparty/go/internal/models"
)

// MemoryRepository keeps rooms in process. It backs tests and single-node
// deployments without a database.
type MemoryRepository struct {
	mu    sync.RWMutex
	rooms map[string]*models.Room
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rooms: make(map[string]*models.Room)}
}

func (m *MemoryRepository) CreateRoom(_ context.Context, room *models.Room) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[room.ID]; ok {
		return nil, fmt.Errorf("room %s already exists", room.ID)
	}
	stored := cloneRoom(room)
	for i := range stored.ChatLog {
		stored.ChatLog[i].Seq = int64(i + 1)
	}
	m.rooms[room.ID] = stored
	return cloneRoom(stored), nil
}

func (m *MemoryRepository) GetRoom(_ context.Context, id string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, ErrRoomNotFound)
	}
	return cloneRoom(room), nil
}

func (m *MemoryRepository) ListRooms(_ context.Context) ([]*models.Room, error) {
	m.mu.RLock()
	out := make([]*models.Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		r := cloneRoom(room)
		r.ChatLog = nil
		out = append(out, r)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *models.Room) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *MemoryRepository) UpdateParticipants(_ context.Context, id string, participants []models.UserRef, viewerCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return fmt.Errorf("room %s: %w", id, ErrRoomNotFound)
	}
	room.Participants = slices.Clone(participants)
	room.ViewerCount = viewerCount
	return nil
}

func (m *MemoryRepository) DeleteRoom(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; !ok {
		return fmt.Errorf("room %s: %w", id, ErrRoomNotFound)
	}
	delete(m.rooms, id)
	return nil
}

func (m *MemoryRepository) AppendMessage(_ context.Context, roomID string, msg models.Message) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrRoomNotFound)
	}
	msg.Seq = int64(len(room.ChatLog) + 1)
	room.ChatLog = append(room.ChatLog, msg)
	return &msg, nil
}

func (m *MemoryRepository) SavePlaybackState(_ context.Context, roomID string, state models.PlaybackState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, ErrRoomNotFound)
	}
	if state.NewerThan(room.PlaybackState) {
		room.PlaybackState = state
	}
	return nil
}

func cloneRoom(r *models.Room) *models.Room {
	c := *r
	c.Participants = slices.Clone(r.Participants)
	c.ChatLog = slices.Clone(r.ChatLog)
	return &c
}
