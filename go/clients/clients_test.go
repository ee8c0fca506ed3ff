package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mcdev12/watchparty/go/internal/gateway"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/rpc"
)

func TestGatewayClient(t *testing.T) {
	state := gateway.RoomStateResponse{
		RoomID:      "room 1",
		Title:       "Movie night",
		Playback:    models.PlaybackState{IsPlaying: true, Position: 12.5, UpdatedAt: 1700000000000, SourceID: "v-1"},
		Presence:    []models.PresenceEntry{},
		ViewerCount: 2,
		Connections: 1,
	}
	active := []gateway.ActiveRoom{{RoomID: "room 1", Title: "Movie night", IsPlaying: true, ViewerCount: 2, Connections: 1}}

	var gotUser string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/rooms/active", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(active)
	})
	mux.HandleFunc("GET /api/rooms/{id}/state", func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get(rpc.UserIDHeader)
		if r.PathValue("id") != "room 1" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"room not found"}`))
			return
		}
		json.NewEncoder(w).Encode(state)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewGatewayClient(srv.URL+"/", "user-1", nil)
	ctx := context.Background()

	got, err := client.RoomState(ctx, "room 1")
	if err != nil {
		t.Fatalf("RoomState() error = %v", err)
	}
	if diff := cmp.Diff(state, *got); diff != "" {
		t.Errorf("RoomState() mismatch (-want +got):\n%s", diff)
	}
	if gotUser != "user-1" {
		t.Errorf("user header = %q, want user-1", gotUser)
	}

	rooms, err := client.ActiveRooms(ctx)
	if err != nil {
		t.Fatalf("ActiveRooms() error = %v", err)
	}
	if diff := cmp.Diff(active, rooms); diff != "" {
		t.Errorf("ActiveRooms() mismatch (-want +got):\n%s", diff)
	}

	_, err = client.RoomState(ctx, "missing")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("RoomState(missing) error = %v, want 404 StatusError", err)
	}
	if statusErr.Body != `{"message":"room not found"}` {
		t.Errorf("StatusError body = %q", statusErr.Body)
	}
}

func TestGetJSONDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var out map[string]any
	if err := NewBaseClient(srv.URL, nil).GetJSON(context.Background(), "/x", &out); err == nil {
		t.Fatal("GetJSON() decoded invalid JSON")
	}
}
