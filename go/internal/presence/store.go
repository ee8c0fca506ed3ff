package presence

import (
	"context"
	"sync"

	"github.com/mcdev12/watchparty/go/internal/models"
)

// Store keeps the participant set of each room. Add and Remove report whether
// membership actually changed so callers can detect first joins.
type Store interface {
	Add(ctx context.Context, roomID string, user models.UserRef) (bool, error)
	Remove(ctx context.Context, roomID, userID string) (bool, error)
	Members(ctx context.Context, roomID string) ([]models.UserRef, error)
	Count(ctx context.Context, roomID string) (int, error)
}

// MemoryStore is an in-process Store that keeps members in join order
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string][]models.UserRef
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string][]models.UserRef)}
}

func (m *MemoryStore) Add(_ context.Context, roomID string, user models.UserRef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rooms[roomID] {
		if u.ID == user.ID {
			return false, nil
		}
	}
	m.rooms[roomID] = append(m.rooms[roomID], user)
	return true, nil
}

func (m *MemoryStore) Remove(_ context.Context, roomID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.rooms[roomID]
	for i, u := range members {
		if u.ID != userID {
			continue
		}
		members = append(members[:i:i], members[i+1:]...)
		if len(members) == 0 {
			delete(m.rooms, roomID)
		} else {
			m.rooms[roomID] = members
		}
		return true, nil
	}
	return false, nil
}

func (m *MemoryStore) Members(_ context.Context, roomID string) ([]models.UserRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.UserRef(nil), m.rooms[roomID]...), nil
}

func (m *MemoryStore) Count(_ context.Context, roomID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[roomID]), nil
}
