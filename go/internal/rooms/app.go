package rooms

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/presence"
	"github.com/mcdev12/watchparty/go/internal/session"
	"github.com/rs/zerolog/log"
)

const (
	maxTitleLength   = 120
	maxMessageLength = 2000
)

// RoomsRepository defines what the app layer needs from the repository
type RoomsRepository interface {
	CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
	UpdateParticipants(ctx context.Context, id string, participants []models.UserRef, viewerCount int) error
	AppendMessage(ctx context.Context, roomID string, msg models.Message) (*models.Message, error)
	SavePlaybackState(ctx context.Context, roomID string, state models.PlaybackState) error
	DeleteRoom(ctx context.Context, id string) error
}

// StatsRecorder updates a user's profile counters
type StatsRecorder interface {
	IncrementStat(ctx context.Context, userID string, stat models.Stat) error
}

// MessageListener receives chat messages after they are stored
type MessageListener func(roomID string, msg models.Message)

// App handles rooms business logic
type App struct {
	repo    RoomsRepository
	store   *session.Store
	tracker *presence.Tracker
	stats   StatsRecorder
	clock   clockwork.Clock

	// membershipMu serializes participant read-modify-write cycles
	membershipMu sync.Mutex

	mu        sync.Mutex
	listeners map[uint64]MessageListener
	nextID    uint64
}

// NewApp creates a new rooms App. stats may be nil.
func NewApp(repo RoomsRepository, store *session.Store, tracker *presence.Tracker, stats StatsRecorder, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{
		repo:      repo,
		store:     store,
		tracker:   tracker,
		stats:     stats,
		clock:     clock,
		listeners: make(map[uint64]MessageListener),
	}
}

// CreateRoom creates a room owned by user. The creator becomes the first
// participant and the room starts paused at position 0.
func (a *App) CreateRoom(ctx context.Context, user *models.User, req CreateRoomRequest) (*models.Room, error) {
	if user == nil {
		return nil, ErrNotAuthenticated
	}
	req, err := a.validateCreateRoomRequest(req)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	room := &models.Room{
		ID:          uuid.NewString(),
		Title:       req.Title,
		VideoSource: req.VideoSource,
		Privacy:     req.Privacy,
		Metadata: models.RoomMetadata{
			Thumbnail:   req.Thumbnail,
			ServiceIcon: req.ServiceIcon,
		},
		Participants:  []models.UserRef{user.Ref()},
		ViewerCount:   1,
		PlaybackState: models.DefaultPlaybackState(),
		ChatLog: []models.Message{{
			ID:        uuid.NewString(),
			UserID:    models.SystemUserID,
			Text:      fmt.Sprintf("Room created by %s", user.Name),
			Type:      models.MessageTypeSystem,
			Timestamp: now,
		}},
		CreatedBy: user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := a.repo.CreateRoom(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	a.store.EnsureRoom(created.ID, created.PlaybackState)
	if a.tracker != nil {
		if _, err := a.tracker.Join(ctx, created.ID, user.Ref()); err != nil {
			log.Warn().Err(err).Str("room_id", created.ID).Msg("failed to register creator presence")
		}
	}
	a.recordStat(ctx, user.ID, models.StatRoomsCreated)

	log.Info().
		Str("room_id", created.ID).
		Str("user_id", user.ID).
		Str("title", created.Title).
		Msg("created room")
	return created, nil
}

// GetRoom retrieves a room with its live playback state
func (a *App) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	room, err := a.repo.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	a.syncLive(room)
	return room, nil
}

// ListRooms returns all rooms, newest first
func (a *App) ListRooms(ctx context.Context) ([]*models.Room, error) {
	list, err := a.repo.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	for _, room := range list {
		if live, ok := a.store.GetState(room.ID); ok && live.NewerThan(room.PlaybackState) {
			room.PlaybackState = live
		}
	}
	return list, nil
}

// JoinRoom adds user to the room. It reports whether this was the user's
// first join; joining again changes nothing.
func (a *App) JoinRoom(ctx context.Context, user *models.User, roomID string) (*models.Room, bool, error) {
	if user == nil {
		return nil, false, ErrNotAuthenticated
	}

	a.membershipMu.Lock()
	defer a.membershipMu.Unlock()

	room, err := a.GetRoom(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	if a.tracker != nil {
		if _, err := a.tracker.Join(ctx, roomID, user.Ref()); err != nil {
			return nil, false, err
		}
	}
	if room.HasParticipant(user.ID) {
		return room, false, nil
	}

	room.Participants = append(room.Participants, user.Ref())
	room.ViewerCount++
	if err := a.repo.UpdateParticipants(ctx, roomID, room.Participants, room.ViewerCount); err != nil {
		return nil, false, fmt.Errorf("failed to join room: %w", err)
	}
	a.recordStat(ctx, user.ID, models.StatRoomsJoined)

	log.Info().Str("room_id", roomID).Str("user_id", user.ID).Msg("user joined room")
	return room, true, nil
}

// LeaveRoom removes user from the room. Leaving a room the user is not in is
// a no-op and reports false.
func (a *App) LeaveRoom(ctx context.Context, user *models.User, roomID string) (bool, error) {
	if user == nil {
		return false, ErrNotAuthenticated
	}

	a.membershipMu.Lock()
	defer a.membershipMu.Unlock()

	room, err := a.repo.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	if a.tracker != nil {
		if _, err := a.tracker.Leave(ctx, roomID, user.ID); err != nil {
			return false, err
		}
	}
	if !room.HasParticipant(user.ID) {
		return false, nil
	}

	participants := slices.DeleteFunc(room.Participants, func(p models.UserRef) bool {
		return p.ID == user.ID
	})
	if err := a.repo.UpdateParticipants(ctx, roomID, participants, max(0, room.ViewerCount-1)); err != nil {
		return false, fmt.Errorf("failed to leave room: %w", err)
	}

	log.Info().Str("room_id", roomID).Str("user_id", user.ID).Msg("user left room")
	return true, nil
}

// DeleteRoom removes a room owned by user. The canonical playback state and
// presence of the room go with it.
func (a *App) DeleteRoom(ctx context.Context, user *models.User, roomID string) error {
	if user == nil {
		return ErrNotAuthenticated
	}

	a.membershipMu.Lock()
	defer a.membershipMu.Unlock()

	room, err := a.repo.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != user.ID {
		return fmt.Errorf("delete room %s: %w", roomID, ErrForbidden)
	}
	if err := a.repo.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	a.store.RemoveRoom(roomID)

	if a.tracker != nil {
		members, err := a.tracker.Participants(ctx, roomID)
		if err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("failed to read presence of deleted room")
		}
		for _, m := range members {
			if _, err := a.tracker.Leave(ctx, roomID, m.ID); err != nil {
				log.Warn().Err(err).Str("room_id", roomID).Str("user_id", m.ID).Msg("failed to clear presence")
			}
		}
	}

	log.Info().Str("room_id", roomID).Str("user_id", user.ID).Msg("room deleted")
	return nil
}

// SendMessage appends a chat message from user to the room's log
func (a *App) SendMessage(ctx context.Context, user *models.User, roomID, text string) (*models.Message, error) {
	if user == nil {
		return nil, ErrNotAuthenticated
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message text is required: %w", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return nil, fmt.Errorf("message exceeds %d characters: %w", maxMessageLength, ErrInvalidRequest)
	}

	msg, err := a.repo.AppendMessage(ctx, roomID, models.Message{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Text:      text,
		Type:      models.MessageTypeText,
		Timestamp: a.clock.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	a.emitMessage(roomID, *msg)
	return msg, nil
}

// UpdatePlayback offers a playback state authored by user to the room's
// canonical store. A missing SourceID defaults to the user id.
func (a *App) UpdatePlayback(ctx context.Context, user *models.User, roomID string, state models.PlaybackState) (bool, error) {
	if user == nil {
		return false, ErrNotAuthenticated
	}
	if state.SourceID == "" {
		state.SourceID = user.ID
	}
	if err := state.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if !a.store.HasRoom(roomID) {
		if _, err := a.GetRoom(ctx, roomID); err != nil {
			return false, err
		}
	}
	return a.store.ApplyUpdate(ctx, roomID, state)
}

// LoadRooms seeds the canonical store from every durable room record
func (a *App) LoadRooms(ctx context.Context) (int, error) {
	list, err := a.repo.ListRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load rooms: %w", err)
	}
	for _, room := range list {
		a.store.EnsureRoom(room.ID, room.PlaybackState)
	}
	return len(list), nil
}

// SubscribeMessages registers fn for every stored chat message and returns a
// function that removes it.
func (a *App) SubscribeMessages(fn MessageListener) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *App) emitMessage(roomID string, msg models.Message) {
	a.mu.Lock()
	ids := make([]uint64, 0, len(a.listeners))
	for id := range a.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]MessageListener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, a.listeners[id])
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(roomID, msg)
	}
}

// syncLive makes the store and the returned record agree on the newest state
func (a *App) syncLive(room *models.Room) {
	a.store.EnsureRoom(room.ID, room.PlaybackState)
	if live, ok := a.store.GetState(room.ID); ok && live.NewerThan(room.PlaybackState) {
		room.PlaybackState = live
	}
}

func (a *App) recordStat(ctx context.Context, userID string, stat models.Stat) {
	if a.stats == nil {
		return
	}
	if err := a.stats.IncrementStat(ctx, userID, stat); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("stat", string(stat)).Msg("failed to record stat")
	}
}

// validateCreateRoomRequest validates and normalizes a create room request
func (a *App) validateCreateRoomRequest(req CreateRoomRequest) (CreateRoomRequest, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return req, fmt.Errorf("title is required: %w", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(req.Title) > maxTitleLength {
		return req, fmt.Errorf("title exceeds %d characters: %w", maxTitleLength, ErrInvalidRequest)
	}

	req.VideoSource = strings.TrimSpace(req.VideoSource)
	u, err := url.ParseRequestURI(req.VideoSource)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return req, fmt.Errorf("video source must be an http(s) URL: %w", ErrInvalidRequest)
	}

	if req.Privacy == "" {
		req.Privacy = models.PrivacyPublic
	}
	if !req.Privacy.Valid() {
		return req, fmt.Errorf("unknown privacy %q: %w", req.Privacy, ErrInvalidRequest)
	}
	if req.Thumbnail == "" {
		req.Thumbnail = defaultThumbnail
	}
	if req.ServiceIcon == "" {
		req.ServiceIcon = defaultServiceIcon
	}
	return req, nil
}
