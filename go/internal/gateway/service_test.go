package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/presence"
	"github.com/mcdev12/watchparty/go/internal/rooms"
	"github.com/mcdev12/watchparty/go/internal/session"
	"github.com/mcdev12/watchparty/go/internal/users"
)

type harness struct {
	server *httptest.Server
	rooms  *rooms.App
	store  *session.Store
	alice  *models.User
	bob    *models.User
	room   *models.Room

	mu     sync.Mutex
	active []string
}

func (h *harness) activeRooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.active...)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewRealClock()

	usersApp := users.NewApp(users.NewMemoryRepository(), nil, clock)
	repo := rooms.NewMemoryRepository()
	store := session.NewStore(repo)
	tracker := presence.NewTracker(presence.NewMemoryStore())
	roomsApp := rooms.NewApp(repo, store, tracker, usersApp, clock)

	h := &harness{rooms: roomsApp, store: store}
	var err error
	if h.alice, err = usersApp.Login(ctx, "Alice"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if h.bob, err = usersApp.Login(ctx, "Bob"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	h.room, err = roomsApp.CreateRoom(ctx, h.alice, rooms.CreateRoomRequest{
		Title:       "Movie night",
		VideoSource: "https://videos.example.com/a.mp4",
	})
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.OnRoomActive = func(_ context.Context, roomID string) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.active = append(h.active, roomID)
		return nil
	}
	svc := NewService(cfg, roomsApp, usersApp, store, tracker)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Start(runCtx)
	}()

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	h.server = httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		<-done
		h.server.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T, roomID, userID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/room?" + url.Values{
		"room_id": {roomID},
		"user_id": {userID},
	}.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads events until one of the wanted type arrives
func readUntil(t *testing.T, conn *websocket.Conn, want EventType) RoomEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var event RoomEvent
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if event.Type == want {
			return event
		}
	}
}

func decode[T any](t *testing.T, event RoomEvent) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		t.Fatalf("decode %s payload: %v", event.Type, err)
	}
	return payload
}

func TestSocketReceivesSnapshot(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, h.room.ID, h.alice.ID)

	snapshot := decode[StateSnapshotPayload](t, readUntil(t, conn, EventTypeStateSnapshot))
	if snapshot.Room == nil || snapshot.Room.ID != h.room.ID {
		t.Fatalf("snapshot room = %+v", snapshot.Room)
	}
	if len(snapshot.Presence) != 1 || snapshot.Presence[0].UserID != h.alice.ID {
		t.Fatalf("snapshot presence = %+v", snapshot.Presence)
	}
	if active := h.activeRooms(); len(active) != 1 || active[0] != h.room.ID {
		t.Fatalf("OnRoomActive calls = %v", active)
	}
}

func TestPlaybackFanOut(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, h.room.ID, h.alice.ID)
	readUntil(t, alice, EventTypeStateSnapshot)
	bob := h.dial(t, h.room.ID, h.bob.ID)
	readUntil(t, bob, EventTypeStateSnapshot)

	joined := decode[ParticipantPayload](t, readUntil(t, alice, EventTypeParticipantJoined))
	if joined.User.ID != h.bob.ID {
		t.Fatalf("joined user = %+v, want bob", joined.User)
	}

	state := models.PlaybackState{IsPlaying: true, Position: 42, UpdatedAt: time.Now().UnixMilli(), SourceID: "alice-tab"}
	if err := alice.WriteJSON(ClientMessage{Type: ClientMessagePlayback, State: &state}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	got := decode[PlaybackUpdatedPayload](t, readUntil(t, bob, EventTypePlaybackUpdated))
	if got.State != state {
		t.Fatalf("bob received %+v, want %+v", got.State, state)
	}

	// A stale offer from bob is answered with the state that won.
	stale := models.PlaybackState{Position: 1, UpdatedAt: state.UpdatedAt - 10}
	if err := bob.WriteJSON(ClientMessage{Type: ClientMessagePlayback, State: &stale}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	got = decode[PlaybackUpdatedPayload](t, readUntil(t, bob, EventTypePlaybackUpdated))
	if got.State != state {
		t.Fatalf("stale sender received %+v, want canonical %+v", got.State, state)
	}
}

func TestChatAndMicFanOut(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, h.room.ID, h.alice.ID)
	readUntil(t, alice, EventTypeStateSnapshot)
	bob := h.dial(t, h.room.ID, h.bob.ID)
	readUntil(t, bob, EventTypeStateSnapshot)

	if err := bob.WriteJSON(ClientMessage{Type: ClientMessageChat, Text: "hello"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	posted := decode[MessagePostedPayload](t, readUntil(t, alice, EventTypeMessagePosted))
	if posted.Message.Text != "hello" || posted.Message.UserID != h.bob.ID {
		t.Fatalf("posted = %+v", posted.Message)
	}

	enabled := true
	if err := bob.WriteJSON(ClientMessage{Type: ClientMessageMic, Enabled: &enabled}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	mic := decode[MicChangedPayload](t, readUntil(t, alice, EventTypeMicChanged))
	if mic.UserID != h.bob.ID || !mic.Enabled {
		t.Fatalf("mic = %+v", mic)
	}

	if err := bob.WriteJSON(ClientMessage{Type: "dance"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if e := decode[ErrorPayload](t, readUntil(t, bob, EventTypeError)); !strings.Contains(e.Message, "dance") {
		t.Fatalf("error = %q", e.Message)
	}
}

func TestDisconnectClearsPresence(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, h.room.ID, h.alice.ID)
	readUntil(t, alice, EventTypeStateSnapshot)
	bob := h.dial(t, h.room.ID, h.bob.ID)
	readUntil(t, bob, EventTypeStateSnapshot)

	bob.Close()
	left := decode[ParticipantPayload](t, readUntil(t, alice, EventTypeParticipantLeft))
	if left.User.ID != h.bob.ID {
		t.Fatalf("left user = %+v, want bob", left.User)
	}
}

func TestSocketRejections(t *testing.T) {
	h := newHarness(t)
	base := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/room?"

	tests := []struct {
		name   string
		query  url.Values
		status int
	}{
		{name: "missing room", query: url.Values{"user_id": {h.alice.ID}}, status: http.StatusBadRequest},
		{name: "unknown room", query: url.Values{"room_id": {"missing"}, "user_id": {h.alice.ID}}, status: http.StatusNotFound},
		{name: "unknown user", query: url.Values{"room_id": {h.room.ID}, "user_id": {"user-nobody"}}, status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(base+tt.query.Encode(), nil)
			if err == nil {
				t.Fatalf("Dial() succeeded")
			}
			if resp == nil || resp.StatusCode != tt.status {
				t.Fatalf("response = %v, want status %d", resp, tt.status)
			}
		})
	}
}

func TestStateRoutes(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.server.URL + "/api/rooms/missing/state")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing room status = %d", resp.StatusCode)
	}

	conn := h.dial(t, h.room.ID, h.alice.ID)
	readUntil(t, conn, EventTypeStateSnapshot)

	var state RoomStateResponse
	getJSON(t, h.server.URL+"/api/rooms/"+h.room.ID+"/state", &state)
	if state.RoomID != h.room.ID || state.Connections != 1 || len(state.Presence) != 1 {
		t.Fatalf("state = %+v", state)
	}

	var active []ActiveRoom
	getJSON(t, h.server.URL+"/api/rooms/active", &active)
	if len(active) != 1 || active[0].RoomID != h.room.ID || active[0].Title != "Movie night" {
		t.Fatalf("active = %+v", active)
	}
}

func getJSON(t *testing.T, u string, v any) {
	t.Helper()
	resp, err := http.Get(u)
	if err != nil {
		t.Fatalf("GET %s error = %v", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d", u, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", u, err)
	}
}
