package rooms

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/mcdev12/watchparty/go/internal/models"
)

type staticUsers map[string]*models.User

func (u staticUsers) GetUser(_ context.Context, id string) (*models.User, error) {
	user, ok := u[id]
	if !ok {
		return nil, fmt.Errorf("user %s not found", id)
	}
	return user, nil
}

func newTestServer(t *testing.T, f *fixture) string {
	t.Helper()
	svc := NewService(f.app, staticUsers{alice.ID: alice, bob.ID: bob}, f.store)
	mux := http.NewServeMux()
	mux.Handle(svc.Handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestServiceRoundTrip(t *testing.T) {
	f := newFixture(t)
	url := newTestServer(t, f)
	ctx := context.Background()
	aliceClient := NewClient(http.DefaultClient, url, alice.ID)
	bobClient := NewClient(http.DefaultClient, url, bob.ID)

	room, err := aliceClient.CreateRoom(ctx, CreateRoomRequest{Title: "Movie night", VideoSource: "https://videos.example.com/a.mp4"})
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}

	if _, joined, err := bobClient.JoinRoom(ctx, room.ID); err != nil || !joined {
		t.Fatalf("JoinRoom() = %t, %v", joined, err)
	}
	if _, err := bobClient.SendMessage(ctx, room.ID, "hi"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	update := models.PlaybackState{IsPlaying: true, Position: 5, UpdatedAt: f.clock.Now().UnixMilli()}
	accepted, canonical, err := bobClient.UpdatePlayback(ctx, room.ID, update)
	if err != nil || !accepted {
		t.Fatalf("UpdatePlayback() = %t, %v", accepted, err)
	}
	if canonical.SourceID != bob.ID || canonical.Position != 5 {
		t.Fatalf("canonical state = %+v", canonical)
	}

	// A stale offer is not an error; the reply carries the current state.
	accepted, canonical, err = aliceClient.UpdatePlayback(ctx, room.ID, models.PlaybackState{Position: 1, UpdatedAt: update.UpdatedAt - 1})
	if err != nil || accepted || canonical.Position != 5 {
		t.Fatalf("stale UpdatePlayback() = %t, %+v, %v", accepted, canonical, err)
	}

	got, err := aliceClient.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom() error = %v", err)
	}
	if got.ViewerCount != 2 || len(got.ChatLog) != 2 || !got.PlaybackState.IsPlaying {
		t.Fatalf("GetRoom() = %+v", got)
	}

	summaries, err := bobClient.ListRooms(ctx)
	if err != nil || len(summaries) != 1 || !summaries[0].IsPlaying {
		t.Fatalf("ListRooms() = %+v, %v", summaries, err)
	}

	if left, err := bobClient.LeaveRoom(ctx, room.ID); err != nil || !left {
		t.Fatalf("LeaveRoom() = %t, %v", left, err)
	}

	if err := aliceClient.DeleteRoom(ctx, room.ID); err != nil {
		t.Fatalf("DeleteRoom() error = %v", err)
	}
	if _, err := aliceClient.GetRoom(ctx, room.ID); connect.CodeOf(err) != connect.CodeNotFound {
		t.Fatalf("GetRoom() after delete error = %v, want not found", err)
	}
}

func TestServiceErrorCodes(t *testing.T) {
	f := newFixture(t)
	url := newTestServer(t, f)
	ctx := context.Background()
	room := f.createRoom(t, "Movie night")

	anonymous := NewClient(http.DefaultClient, url, "")
	stranger := NewClient(http.DefaultClient, url, "user-unknown")
	client := NewClient(http.DefaultClient, url, bob.ID)

	tests := []struct {
		name string
		call func() error
		want connect.Code
	}{
		{name: "missing room", want: connect.CodeNotFound, call: func() error {
			_, err := client.GetRoom(ctx, "missing")
			return err
		}},
		{name: "empty id", want: connect.CodeInvalidArgument, call: func() error {
			_, err := client.GetRoom(ctx, "")
			return err
		}},
		{name: "anonymous join", want: connect.CodeUnauthenticated, call: func() error {
			_, _, err := anonymous.JoinRoom(ctx, room.ID)
			return err
		}},
		{name: "unknown caller", want: connect.CodeUnauthenticated, call: func() error {
			_, err := stranger.SendMessage(ctx, room.ID, "hi")
			return err
		}},
		{name: "bad video source", want: connect.CodeInvalidArgument, call: func() error {
			_, err := client.CreateRoom(ctx, CreateRoomRequest{Title: "x", VideoSource: "not a url"})
			return err
		}},
		{name: "delete by non-owner", want: connect.CodePermissionDenied, call: func() error {
			return client.DeleteRoom(ctx, room.ID)
		}},
		{name: "delete missing room", want: connect.CodeNotFound, call: func() error {
			return client.DeleteRoom(ctx, "missing")
		}},
		{name: "negative position", want: connect.CodeInvalidArgument, call: func() error {
			_, _, err := client.UpdatePlayback(ctx, room.ID, models.PlaybackState{Position: -3, UpdatedAt: 1})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if got := connect.CodeOf(err); got != tt.want {
				t.Fatalf("code = %v (err %v), want %v", got, err, tt.want)
			}
		})
	}
}
