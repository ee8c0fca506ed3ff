// Package headless is a viewer without a screen: it signs in, joins a room
// over the RPC services and keeps a clock-driven player in sync through the
// room socket.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchparty/go/clients"
	"github.com/mcdev12/watchparty/go/internal/gateway"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/reconciler"
	"github.com/mcdev12/watchparty/go/internal/rooms"
	"github.com/mcdev12/watchparty/go/internal/users"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for a headless viewer
type Config struct {
	BaseURL string
	Name    string
	RoomID  string
	// Duration of the simulated video in seconds; <= 0 means unbounded
	Duration   float64
	Loop       bool
	Policy     reconciler.Policy
	Clock      clockwork.Clock
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Viewer is a connected headless viewer
type Viewer struct {
	config  Config
	user    *models.User
	rooms   *rooms.Client
	gateway *clients.GatewayClient
	conn    *websocket.Conn
	player  *reconciler.ClockPlayer
	rec     *reconciler.Reconciler
	unread  *rooms.UnreadCounter

	writeMu sync.Mutex

	mu       sync.Mutex
	speakers []string
	closed   bool
}

// Connect signs in as cfg.Name, joins cfg.RoomID and opens the room socket.
// The player is aligned with the room snapshot before Connect returns.
func Connect(ctx context.Context, cfg Config) (*Viewer, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	user, err := users.NewClient(cfg.HTTPClient, cfg.BaseURL).Login(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	roomsClient := rooms.NewClient(cfg.HTTPClient, cfg.BaseURL, user.ID)
	if _, _, err := roomsClient.JoinRoom(ctx, cfg.RoomID); err != nil {
		return nil, fmt.Errorf("join room: %w", err)
	}

	conn, _, err := cfg.Dialer.DialContext(ctx, socketURL(cfg.BaseURL, cfg.RoomID, user.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("open room socket: %w", err)
	}

	v := &Viewer{
		config:  cfg,
		user:    user,
		rooms:   roomsClient,
		gateway: clients.NewGatewayClient(cfg.BaseURL, user.ID, cfg.HTTPClient),
		conn:    conn,
		player:  reconciler.NewClockPlayer(cfg.Clock, cfg.Duration, cfg.Loop),
		unread:  rooms.NewUnreadCounter(user.ID),
	}
	v.rec = reconciler.New(reconciler.Config{
		ID:     "headless-" + uuid.NewString(),
		RoomID: cfg.RoomID,
		Policy: cfg.Policy,
		Clock:  cfg.Clock,
	}, v.player, socketPublisher{v})

	if err := v.awaitSnapshot(); err != nil {
		conn.Close()
		return nil, err
	}
	return v, nil
}

// User returns the signed-in user
func (v *Viewer) User() *models.User {
	return v.user
}

// Player returns the simulated player
func (v *Viewer) Player() *reconciler.ClockPlayer {
	return v.player
}

// Unread returns the number of chat messages received while unseen
func (v *Viewer) Unread() int {
	return v.unread.Unread()
}

// ShowChat shows or hides the chat panel; showing it clears the unread count
func (v *Viewer) ShowChat(visible bool) {
	v.unread.SetVisible(visible)
}

// Speakers returns the last speaker set pushed by the server
func (v *Viewer) Speakers() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.speakers...)
}

// Play starts playback for the whole room
func (v *Viewer) Play(ctx context.Context) error {
	return v.rec.Play(ctx)
}

// Pause pauses playback for the whole room
func (v *Viewer) Pause(ctx context.Context) error {
	return v.rec.Pause(ctx)
}

func (v *Viewer) Seek(ctx context.Context, position float64) error {
	return v.rec.Seek(ctx, position)
}

// Chat posts a message to the room
func (v *Viewer) Chat(text string) error {
	return v.send(gateway.ClientMessage{Type: gateway.ClientMessageChat, Text: text})
}

// SetMic announces the viewer's mic state
func (v *Viewer) SetMic(enabled bool) error {
	return v.send(gateway.ClientMessage{Type: gateway.ClientMessageMic, Enabled: &enabled})
}

// RoomState fetches the room's live state over REST
func (v *Viewer) RoomState(ctx context.Context) (*gateway.RoomStateResponse, error) {
	return v.gateway.RoomState(ctx, v.config.RoomID)
}

// Run consumes socket events until ctx is done or the socket closes
func (v *Viewer) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { v.conn.Close() })
	defer stop()

	for {
		var event gateway.RoomEvent
		if err := v.conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil || v.isClosed() {
				return nil
			}
			return fmt.Errorf("read room socket: %w", err)
		}
		v.handle(event)
	}
}

// Close leaves the room and closes the socket
func (v *Viewer) Close(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	_, leaveErr := v.rooms.LeaveRoom(ctx, v.config.RoomID)
	v.writeMu.Lock()
	v.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	v.writeMu.Unlock()
	return errors.Join(leaveErr, v.conn.Close())
}

func (v *Viewer) awaitSnapshot() error {
	for {
		var event gateway.RoomEvent
		if err := v.conn.ReadJSON(&event); err != nil {
			return fmt.Errorf("await snapshot: %w", err)
		}
		if event.Type != gateway.EventTypeStateSnapshot {
			v.handle(event)
			continue
		}
		var snapshot gateway.StateSnapshotPayload
		if err := json.Unmarshal(event.Data, &snapshot); err != nil || snapshot.Room == nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		for _, msg := range snapshot.Room.ChatLog {
			v.unread.Observe(msg)
		}
		v.rec.Bootstrap(snapshot.Room.PlaybackState)
		return nil
	}
}

func (v *Viewer) handle(event gateway.RoomEvent) {
	switch event.Type {
	case gateway.EventTypePlaybackUpdated:
		var p gateway.PlaybackUpdatedPayload
		if err := json.Unmarshal(event.Data, &p); err == nil {
			v.rec.Apply(p.State)
		}
	case gateway.EventTypeMessagePosted:
		var p gateway.MessagePostedPayload
		if err := json.Unmarshal(event.Data, &p); err == nil {
			v.unread.Observe(p.Message)
		}
	case gateway.EventTypeSpeakersChanged:
		var p gateway.SpeakersChangedPayload
		if err := json.Unmarshal(event.Data, &p); err == nil {
			v.mu.Lock()
			v.speakers = p.Speakers
			v.mu.Unlock()
		}
	case gateway.EventTypeError:
		var p gateway.ErrorPayload
		_ = json.Unmarshal(event.Data, &p)
		log.Warn().Str("room_id", v.config.RoomID).Str("error", p.Message).Msg("server rejected command")
	}
}

func (v *Viewer) send(msg gateway.ClientMessage) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	if err := v.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s command: %w", msg.Type, err)
	}
	return nil
}

func (v *Viewer) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// socketPublisher sends locally authored states over the room socket. The
// server answers a losing offer with the winning state.
type socketPublisher struct {
	v *Viewer
}

func (p socketPublisher) ApplyUpdate(_ context.Context, _ string, state models.PlaybackState) (bool, error) {
	if err := p.v.send(gateway.ClientMessage{Type: gateway.ClientMessagePlayback, State: &state}); err != nil {
		return false, err
	}
	return true, nil
}

func socketURL(baseURL, roomID, userID string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/room?" + url.Values{"room_id": {roomID}, "user_id": {userID}}.Encode()
}
