package users

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchparty/go/internal/models"
)

var epoch = time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T, sessions SessionStore) *App {
	t.Helper()
	return NewApp(NewMemoryRepository(), sessions, clockwork.NewFakeClockAt(epoch))
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, NewMemorySessionStore())

	user, err := app.Login(ctx, "  Ada Lovelace ")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !strings.HasPrefix(user.ID, "user-") {
		t.Errorf("ID = %q, want user- prefix", user.ID)
	}
	if user.Name != "Ada Lovelace" {
		t.Errorf("Name = %q, want trimmed name", user.Name)
	}
	if want := "https://api.dicebear.com/7.x/avataaars/svg?seed=Ada+Lovelace"; user.Avatar != want {
		t.Errorf("Avatar = %q, want %q", user.Avatar, want)
	}
	if diff := cmp.Diff(DefaultStats(), user.Stats); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
	if !user.CreatedAt.Equal(epoch) {
		t.Errorf("CreatedAt = %v, want %v", user.CreatedAt, epoch)
	}

	current, ok := app.Current(ctx)
	if !ok || current.ID != user.ID {
		t.Fatalf("Current() = %+v, %t; want logged in user", current, ok)
	}
	stored, err := app.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if diff := cmp.Diff(user, stored); diff != "" {
		t.Errorf("stored user mismatch (-want +got):\n%s", diff)
	}
}

func TestLoginRejectsInvalidNames(t *testing.T) {
	app := newTestApp(t, nil)
	for _, name := range []string{"", "   ", strings.Repeat("x", 41)} {
		if _, err := app.Login(context.Background(), name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Login(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
	if _, err := app.Login(context.Background(), strings.Repeat("é", 40)); err != nil {
		t.Errorf("Login(40 runes) error = %v", err)
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	sessions := NewMemorySessionStore()
	app := newTestApp(t, sessions)
	if _, err := app.Login(ctx, "Ada"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := app.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if u, ok := app.Current(ctx); ok {
		t.Fatalf("Current() after logout = %+v", u)
	}
	if _, err := sessions.Load(ctx, currentUserKey); !errors.Is(err, ErrNoSession) {
		t.Fatalf("stored session after logout: err = %v", err)
	}
}

func TestCurrentRestoresStoredSession(t *testing.T) {
	ctx := context.Background()
	sessions := NewFileSessionStore(filepath.Join(t.TempDir(), "session.json"))

	first := newTestApp(t, sessions)
	user, err := first.Login(ctx, "Grace")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := first.IncrementStat(ctx, user.ID, models.StatRoomsCreated); err != nil {
		t.Fatalf("IncrementStat() error = %v", err)
	}

	// A new process with an empty repository picks the session back up.
	second := newTestApp(t, sessions)
	restored, ok := second.Current(ctx)
	if !ok {
		t.Fatalf("Current() found no restored session")
	}
	if restored.ID != user.ID || restored.Stats.RoomsCreated != 1 {
		t.Fatalf("restored user = %+v", restored)
	}
	if _, err := second.GetUser(ctx, user.ID); err != nil {
		t.Fatalf("restored user not registered: %v", err)
	}
}

func TestCurrentDegradesOnCorruptSession(t *testing.T) {
	ctx := context.Background()
	sessions := NewMemorySessionStore()
	if err := sessions.Save(ctx, currentUserKey, []byte(`{"id":`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	app := newTestApp(t, sessions)
	if u, ok := app.Current(ctx); ok {
		t.Fatalf("Current() = %+v, want signed out", u)
	}
}

func TestIncrementStat(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, NewMemorySessionStore())
	user, err := app.Login(ctx, "Ada")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	for _, stat := range []models.Stat{models.StatRoomsJoined, models.StatRoomsJoined, models.StatRoomsCreated} {
		if err := app.IncrementStat(ctx, user.ID, stat); err != nil {
			t.Fatalf("IncrementStat(%s) error = %v", stat, err)
		}
	}
	want := DefaultStats()
	want.RoomsJoined = 2
	want.RoomsCreated = 1

	got, _ := app.GetUser(ctx, user.ID)
	if diff := cmp.Diff(want, got.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	current, _ := app.Current(ctx)
	if diff := cmp.Diff(want, current.Stats); diff != "" {
		t.Errorf("current user stats mismatch (-want +got):\n%s", diff)
	}

	if err := app.IncrementStat(ctx, "user-missing", models.StatRoomsJoined); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("IncrementStat(missing) error = %v, want ErrUserNotFound", err)
	}
	if err := app.IncrementStat(ctx, user.ID, models.Stat("bogus")); err == nil {
		t.Errorf("IncrementStat(bogus) succeeded")
	}
}
