package users

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mcdev12/watchparty/go/internal/models"
)

// MemoryRepository keeps user profiles in process
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

// NewMemoryRepository creates an empty user repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*models.User)}
}

// SaveUser inserts or replaces a user
func (r *MemoryRepository) SaveUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = cloneUser(user)
	return nil
}

// GetUser retrieves a user by ID
func (r *MemoryRepository) GetUser(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrUserNotFound)
	}
	return cloneUser(user), nil
}

// UpdateUser applies fn to the stored user atomically
func (r *MemoryRepository) UpdateUser(_ context.Context, id string, fn func(*models.User)) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrUserNotFound)
	}
	fn(user)
	return cloneUser(user), nil
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Achievements = slices.Clone(u.Achievements)
	return &c
}
