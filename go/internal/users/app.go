package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/rs/zerolog/log"
)

// UsersRepository defines what the app layer needs from the repository
type UsersRepository interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, id string, fn func(*models.User)) (*models.User, error)
}

// App handles identity: sign-in, the signed-in user and profile counters
type App struct {
	repo     UsersRepository
	sessions SessionStore
	clock    clockwork.Clock

	mu      sync.Mutex
	current *models.User
	loaded  bool
}

// NewApp creates a new users App. sessions may be nil for a server that has
// no notion of a current user.
func NewApp(repo UsersRepository, sessions SessionStore, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{
		repo:     repo,
		sessions: sessions,
		clock:    clock,
	}
}

// Login creates a user named name and makes it the current user
func (a *App) Login(ctx context.Context, name string) (*models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return nil, fmt.Errorf("name must be 1-%d characters: %w", maxNameLength, ErrInvalidName)
	}

	user := &models.User{
		ID:        "user-" + uuid.NewString(),
		Name:      name,
		Avatar:    fmt.Sprintf(avatarURLFormat, url.QueryEscape(name)),
		Stats:     DefaultStats(),
		CreatedAt: a.clock.Now().UTC(),
	}
	if err := a.repo.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	a.mu.Lock()
	a.current = user
	a.loaded = true
	a.mu.Unlock()
	a.persistCurrent(ctx, user)

	log.Info().Str("user_id", user.ID).Str("name", user.Name).Msg("user logged in")
	return user, nil
}

// Logout clears the current user
func (a *App) Logout(ctx context.Context) error {
	a.mu.Lock()
	a.current = nil
	a.loaded = true
	a.mu.Unlock()

	if a.sessions == nil {
		return nil
	}
	if err := a.sessions.Delete(ctx, currentUserKey); err != nil {
		log.Warn().Err(err).Msg("failed to clear stored session")
	}
	return nil
}

// Current returns the signed-in user. A stored session is restored on first
// use; an unreadable store degrades to no user instead of failing.
func (a *App) Current(ctx context.Context) (*models.User, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loaded {
		a.loaded = true
		a.current = a.restoreLocked(ctx)
	}
	if a.current == nil {
		return nil, false
	}
	u := *a.current
	return &u, true
}

// GetUser retrieves a user by ID
func (a *App) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := a.repo.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// IncrementStat adds one to a profile counter
func (a *App) IncrementStat(ctx context.Context, userID string, stat models.Stat) error {
	var known bool
	user, err := a.repo.UpdateUser(ctx, userID, func(u *models.User) {
		known = u.Stats.Increment(stat, 1)
	})
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", stat, err)
	}
	if !known {
		return fmt.Errorf("unknown stat %q", stat)
	}

	a.mu.Lock()
	isCurrent := a.current != nil && a.current.ID == userID
	if isCurrent {
		a.current = user
	}
	a.mu.Unlock()
	if isCurrent {
		a.persistCurrent(ctx, user)
	}
	return nil
}

// restoreLocked loads the stored current user and re-registers it
func (a *App) restoreLocked(ctx context.Context) *models.User {
	if a.sessions == nil {
		return nil
	}
	raw, err := a.sessions.Load(ctx, currentUserKey)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			log.Warn().Err(err).Msg("session storage unavailable, starting signed out")
		}
		return nil
	}
	var user models.User
	if err := json.Unmarshal(raw, &user); err != nil || user.ID == "" {
		log.Warn().Err(err).Msg("stored session is unreadable, starting signed out")
		return nil
	}
	if err := a.repo.SaveUser(ctx, &user); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to register restored user")
	}
	return &user
}

func (a *App) persistCurrent(ctx context.Context, user *models.User) {
	if a.sessions == nil {
		return
	}
	raw, err := json.Marshal(user)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode session")
		return
	}
	if err := a.sessions.Save(ctx, currentUserKey, raw); err != nil {
		log.Warn().Err(err).Msg("failed to persist session")
	}
}
