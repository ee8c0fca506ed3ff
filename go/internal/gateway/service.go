package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/presence"
	"github.com/mcdev12/watchparty/go/internal/rooms"
	"github.com/mcdev12/watchparty/go/internal/session"
	"github.com/rs/zerolog/log"
)

// RoomsApp defines what the gateway needs from the rooms application
type RoomsApp interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
	SendMessage(ctx context.Context, user *models.User, roomID, text string) (*models.Message, error)
	UpdatePlayback(ctx context.Context, user *models.User, roomID string, state models.PlaybackState) (bool, error)
	SubscribeMessages(fn rooms.MessageListener) func()
}

// UserResolver looks up the user opening a socket
type UserResolver interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Config holds configuration for the room gateway
type Config struct {
	ConnectionConfig ConnectionConfig
	// CommandTimeout bounds the handling of one client command
	CommandTimeout time.Duration
	// OnRoomActive runs when a room gets its first socket on this node
	OnRoomActive func(ctx context.Context, roomID string) error
	Clock        clockwork.Clock
}

// DefaultConfig returns default configuration for the room gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		CommandTimeout:   5 * time.Second,
	}
}

// Service pushes canonical playback, presence and chat to room sockets and
// accepts viewer commands from them.
type Service struct {
	config  Config
	rooms   RoomsApp
	users   UserResolver
	store   *session.Store
	tracker *presence.Tracker
	clock   clockwork.Clock

	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler

	watchMu sync.Mutex
	watches map[string]*roomWatch
}

type roomWatch struct {
	refs        int
	unsubscribe func()
}

// NewService creates a new room gateway service
func NewService(config Config, roomsApp RoomsApp, users UserResolver, store *session.Store, tracker *presence.Tracker) *Service {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = 5 * time.Second
	}
	s := &Service{
		config:  config,
		rooms:   roomsApp,
		users:   users,
		store:   store,
		tracker: tracker,
		clock:   config.Clock,
		watches: make(map[string]*roomWatch),
	}
	s.connectionManager = NewConnectionManager(config.ConnectionConfig, s)
	s.wsHandler = NewWebSocketHandler(s)
	s.stateHandler = NewStateHandler(s)
	return s
}

// Start fans presence and chat events out to sockets until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")

	stopPresence := s.tracker.Subscribe(s.onPresence)
	defer stopPresence()
	stopMessages := s.rooms.SubscribeMessages(s.onMessage)
	defer stopMessages()

	s.connectionManager.Start(ctx)

	s.watchMu.Lock()
	for roomID, w := range s.watches {
		w.unsubscribe()
		delete(s.watches, roomID)
	}
	s.watchMu.Unlock()

	log.Info().Msg("room gateway service stopped")
	return nil
}

// RegisterRoutes registers the socket and state HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("room gateway routes registered")
}

// Stats returns statistics about open sockets
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// connect registers a socket for user in roomID and sends it a snapshot
func (s *Service) connect(w http.ResponseWriter, r *http.Request, user *models.User, room *models.Room) error {
	if err := s.watch(r.Context(), room.ID); err != nil {
		return err
	}
	conn, err := s.connectionManager.UpgradeConnection(w, r, user.Ref(), room.ID)
	if err != nil {
		s.unwatch(room.ID)
		return err
	}

	ctx := context.WithoutCancel(r.Context())
	if _, err := s.tracker.Join(ctx, room.ID, user.Ref()); err != nil {
		log.Warn().Err(err).Str("room_id", room.ID).Str("user_id", user.ID).Msg("failed to register socket presence")
	}

	if live, ok := s.store.GetState(room.ID); ok && live.NewerThan(room.PlaybackState) {
		room.PlaybackState = live
	}
	entries, err := s.tracker.Entries(ctx, room.ID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", room.ID).Msg("failed to read presence for snapshot")
	}
	s.sendTo(conn, EventTypeStateSnapshot, StateSnapshotPayload{Room: room, Presence: entries})
	return nil
}

// HandleDisconnect clears presence once the user's last socket in the room closes
func (s *Service) HandleDisconnect(c *Connection) {
	defer s.unwatch(c.RoomID)
	if s.connectionManager.UserConnected(c.RoomID, c.User.ID) {
		return
	}
	if _, err := s.tracker.Leave(context.Background(), c.RoomID, c.User.ID); err != nil {
		log.Warn().Err(err).Str("room_id", c.RoomID).Str("user_id", c.User.ID).Msg("failed to clear socket presence")
	}
}

// HandleClientMessage executes one viewer command
func (s *Service) HandleClientMessage(c *Connection, msg ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CommandTimeout)
	defer cancel()

	user, err := s.users.GetUser(ctx, c.User.ID)
	if err != nil {
		s.sendError(c, "unknown user")
		return
	}

	switch msg.Type {
	case ClientMessagePlayback:
		if msg.State == nil {
			s.sendError(c, "playback command requires a state")
			return
		}
		accepted, err := s.rooms.UpdatePlayback(ctx, user, c.RoomID, *msg.State)
		if err != nil {
			s.sendError(c, err.Error())
			return
		}
		if !accepted {
			// The sender is behind; hand it the state that won.
			if current, ok := s.store.GetState(c.RoomID); ok {
				s.sendTo(c, EventTypePlaybackUpdated, PlaybackUpdatedPayload{State: current})
			}
		}

	case ClientMessageChat:
		if _, err := s.rooms.SendMessage(ctx, user, c.RoomID, msg.Text); err != nil {
			s.sendError(c, err.Error())
		}

	case ClientMessageMic:
		if msg.Enabled == nil {
			s.sendError(c, "mic command requires enabled")
			return
		}
		s.tracker.SetMic(c.RoomID, user.ID, *msg.Enabled)

	default:
		s.sendError(c, "unknown command "+string(msg.Type))
	}
}

// watch subscribes to canonical updates of a room while it has sockets
func (s *Service) watch(ctx context.Context, roomID string) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if w, ok := s.watches[roomID]; ok {
		w.refs++
		return nil
	}

	if s.config.OnRoomActive != nil {
		if err := s.config.OnRoomActive(ctx, roomID); err != nil {
			return err
		}
	}
	unsubscribe, err := s.store.Subscribe(roomID, s.onPlayback)
	if err != nil {
		return err
	}
	s.watches[roomID] = &roomWatch{refs: 1, unsubscribe: unsubscribe}
	return nil
}

func (s *Service) unwatch(roomID string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	w, ok := s.watches[roomID]
	if !ok {
		return
	}
	w.refs--
	if w.refs <= 0 {
		w.unsubscribe()
		delete(s.watches, roomID)
	}
}

func (s *Service) onPlayback(roomID string, state models.PlaybackState) {
	s.broadcast(roomID, EventTypePlaybackUpdated, PlaybackUpdatedPayload{State: state})
}

func (s *Service) onMessage(roomID string, msg models.Message) {
	s.broadcast(roomID, EventTypeMessagePosted, MessagePostedPayload{Message: msg})
}

func (s *Service) onPresence(e presence.Event) {
	switch e.Type {
	case presence.EventJoined:
		s.broadcast(e.RoomID, EventTypeParticipantJoined, ParticipantPayload{User: e.User})
	case presence.EventLeft:
		s.broadcast(e.RoomID, EventTypeParticipantLeft, ParticipantPayload{User: e.User})
	case presence.EventMicChanged:
		s.broadcast(e.RoomID, EventTypeMicChanged, MicChangedPayload{UserID: e.User.ID, Enabled: e.MicEnabled})
	case presence.EventSpeakersChanged:
		s.broadcast(e.RoomID, EventTypeSpeakersChanged, SpeakersChangedPayload{Speakers: e.Speakers})
	}
}

func (s *Service) broadcast(roomID string, eventType EventType, payload any) {
	event, err := NewRoomEvent(roomID, eventType, s.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build room event")
		return
	}
	s.connectionManager.BroadcastToRoom(roomID, event)
}

func (s *Service) sendTo(c *Connection, eventType EventType, payload any) {
	event, err := NewRoomEvent(c.RoomID, eventType, s.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build room event")
		return
	}
	if !s.connectionManager.SendTo(c, event) {
		log.Debug().Str("connection_id", c.ID).Str("event_type", string(eventType)).Msg("dropped direct event")
	}
}

func (s *Service) sendError(c *Connection, message string) {
	s.sendTo(c, EventTypeError, ErrorPayload{Message: message})
}

func isNotFound(err error) bool {
	return errors.Is(err, session.ErrRoomNotFound)
}
