package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/session"
)

var epoch = time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)

type fixture struct {
	clock  *clockwork.FakeClock
	store  *session.Store
	player *ClockPlayer
	rec    *Reconciler
}

func newFixture(t *testing.T, id string) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	store := session.NewStore(nil)
	store.EnsureRoom("room-1", models.DefaultPlaybackState())
	return attach(t, id, clock, store)
}

func attach(t *testing.T, id string, clock *clockwork.FakeClock, store *session.Store) *fixture {
	t.Helper()
	player := NewClockPlayer(clock, 0, false)
	rec := New(Config{ID: id, RoomID: "room-1", Clock: clock}, player, store)
	unsubscribe, err := store.Subscribe("room-1", func(_ string, state models.PlaybackState) {
		rec.Apply(state)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	t.Cleanup(unsubscribe)
	return &fixture{clock: clock, store: store, player: player, rec: rec}
}

func (f *fixture) now() int64 {
	return f.clock.Now().UnixMilli()
}

func TestApplyFreshnessWindow(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		want     Decision
		wantPlay bool
	}{
		{name: "just delivered", age: 0, want: DecisionApplied, wantPlay: true},
		{name: "exactly at window", age: 2000 * time.Millisecond, want: DecisionApplied, wantPlay: true},
		{name: "one millisecond past window", age: 2001 * time.Millisecond, want: DecisionStale},
		{name: "late delivery", age: 2500 * time.Millisecond, want: DecisionStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "viewer-b")
			update := models.PlaybackState{IsPlaying: true, Position: 120, UpdatedAt: f.now()}

			f.clock.Advance(tt.age)
			c := f.rec.Apply(update)

			if c.Decision != tt.want {
				t.Fatalf("Apply() decision = %s, want %s (age %v)", c.Decision, tt.want, c.Age)
			}
			if c.Play != tt.wantPlay || f.player.IsPlaying() != tt.wantPlay {
				t.Fatalf("Apply() = %+v, player playing = %t, want %t", c, f.player.IsPlaying(), tt.wantPlay)
			}
			if tt.want == DecisionStale {
				if seeks, plays, pauses := f.player.Counts(); seeks+plays+pauses != 0 {
					t.Fatalf("player received commands: seeks=%d plays=%d pauses=%d", seeks, plays, pauses)
				}
			}
		})
	}
}

func TestApplyDriftToleranceBoundary(t *testing.T) {
	tests := []struct {
		name      string
		canonical float64
		wantSeek  bool
	}{
		{name: "within tolerance", canonical: 10.9, wantSeek: false},
		{name: "exactly one second", canonical: 11.0, wantSeek: false},
		{name: "beyond tolerance", canonical: 11.1, wantSeek: true},
		{name: "behind beyond tolerance", canonical: 8.5, wantSeek: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "viewer-b")
			if err := f.player.Seek(10.0); err != nil {
				t.Fatalf("Seek() error = %v", err)
			}

			c := f.rec.Apply(models.PlaybackState{Position: tt.canonical, UpdatedAt: f.now()})
			if c.Seek != tt.wantSeek {
				t.Fatalf("Apply().Seek = %t, want %t (drift %v)", c.Seek, tt.wantSeek, c.Drift)
			}
			if tt.wantSeek {
				pos, _ := f.player.Position()
				if pos != tt.canonical {
					t.Fatalf("player position = %v, want %v", pos, tt.canonical)
				}
			}
		})
	}
}

func TestApplyPlayPauseCorrection(t *testing.T) {
	f := newFixture(t, "viewer-b")

	c := f.rec.Apply(models.PlaybackState{IsPlaying: true, Position: 0.2, UpdatedAt: f.now()})
	if !c.Play || c.Pause || c.Seek {
		t.Fatalf("Apply(playing) = %+v, want play only", c)
	}
	if !f.player.IsPlaying() {
		t.Fatalf("player not playing after play correction")
	}

	f.clock.Advance(time.Second)
	c = f.rec.Apply(models.PlaybackState{IsPlaying: false, Position: 1.0, UpdatedAt: f.now()})
	if !c.Pause || c.Play {
		t.Fatalf("Apply(paused) = %+v, want pause", c)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	f := newFixture(t, "viewer-b")
	update := models.PlaybackState{IsPlaying: false, Position: 42, UpdatedAt: f.now()}

	first := f.rec.Apply(update)
	if !first.Seek {
		t.Fatalf("first Apply() = %+v, want seek", first)
	}
	once := f.rec.State()

	second := f.rec.Apply(update)
	if second.Changed() || second.Decision != DecisionDuplicate {
		t.Fatalf("second Apply() = %+v, want duplicate without change", second)
	}
	if diff := cmp.Diff(once, f.rec.State()); diff != "" {
		t.Fatalf("local state changed on re-apply (-once +twice):\n%s", diff)
	}
}

func TestApplyIgnoresOutOfOrderDelivery(t *testing.T) {
	f := newFixture(t, "viewer-b")
	newer := models.PlaybackState{IsPlaying: true, Position: 50, UpdatedAt: f.now()}
	older := models.PlaybackState{IsPlaying: false, Position: 10, UpdatedAt: f.now() - 500}

	f.rec.Apply(newer)
	if c := f.rec.Apply(older); c.Changed() {
		t.Fatalf("Apply(older) = %+v, want no change", c)
	}
	if !f.player.IsPlaying() {
		t.Fatalf("older update paused the player")
	}
}

func TestSelfUpdateSuppression(t *testing.T) {
	f := newFixture(t, "viewer-a")
	if err := f.rec.Play(context.Background()); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	f.clock.Advance(3 * time.Second)

	if err := f.rec.Pause(context.Background()); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	echo, ok := f.store.GetState("room-1")
	if !ok || echo.IsPlaying || echo.SourceID != "viewer-a" {
		t.Fatalf("canonical state after pause = %+v", echo)
	}

	// The same broadcast arriving again through the bus.
	seeksBefore, playsBefore, pausesBefore := f.player.Counts()
	c := f.rec.Apply(echo)
	if c.Decision != DecisionSelfEcho || c.Changed() {
		t.Fatalf("Apply(echo) = %+v, want suppressed self echo", c)
	}
	seeks, plays, pauses := f.player.Counts()
	if seeks != seeksBefore || plays != playsBefore || pauses != pausesBefore {
		t.Fatalf("echo issued redundant commands")
	}
}

func TestLocalActionsUseIncreasingTimestamps(t *testing.T) {
	f := newFixture(t, "viewer-a")
	ctx := context.Background()

	// Three actions within the same millisecond must all become canonical.
	for _, act := range []func(context.Context) error{f.rec.Play, f.rec.Pause, f.rec.Toggle} {
		if err := act(ctx); err != nil {
			t.Fatalf("action error = %v", err)
		}
	}
	got, _ := f.store.GetState("room-1")
	if !got.IsPlaying || got.UpdatedAt != f.now()+2 {
		t.Fatalf("canonical state = %+v, want playing at now+2", got)
	}
}

func TestUnavailablePlayerResumes(t *testing.T) {
	f := newFixture(t, "viewer-b")
	f.player.SetAvailable(false)

	c := f.rec.Apply(models.PlaybackState{IsPlaying: true, Position: 30, UpdatedAt: f.now()})
	if c.Decision != DecisionUnavailable || c.Changed() {
		t.Fatalf("Apply() with unavailable player = %+v", c)
	}
	if err := f.rec.Play(context.Background()); !errors.Is(err, ErrPlayerUnavailable) {
		t.Fatalf("Play() error = %v, want ErrPlayerUnavailable", err)
	}

	f.player.SetAvailable(true)
	f.clock.Advance(100 * time.Millisecond)
	c = f.rec.Apply(models.PlaybackState{IsPlaying: true, Position: 30.1, UpdatedAt: f.now()})
	if c.Decision != DecisionApplied || !c.Seek || !c.Play {
		t.Fatalf("Apply() after recovery = %+v, want seek and play", c)
	}
}

func TestEndToEndScenario(t *testing.T) {
	a := newFixture(t, "viewer-a")
	b := attach(t, "viewer-b", a.clock, a.store)
	ctx := context.Background()

	// Viewer A plays at t=0; B is freshly joined and paused.
	if err := a.rec.Play(ctx); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if !b.player.IsPlaying() {
		t.Fatalf("viewer B did not start playing")
	}
	if pos, _ := b.player.Position(); pos > 0.01 {
		t.Fatalf("viewer B position = %v, want ≈0", pos)
	}

	a.clock.Advance(5 * time.Second)
	if pos, _ := b.player.Position(); pos < 4.99 || pos > 5.01 {
		t.Fatalf("viewer B position before seek = %v, want ≈5", pos)
	}

	if err := a.rec.Seek(ctx, 300); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if pos, _ := b.player.Position(); pos != 300 {
		t.Fatalf("viewer B position after seek = %v, want 300", pos)
	}
	if seeks, _, _ := a.player.Counts(); seeks != 1 {
		t.Fatalf("viewer A received %d seeks, want exactly its own", seeks)
	}

	got, _ := a.store.GetState("room-1")
	want := models.PlaybackState{IsPlaying: true, Position: 300, UpdatedAt: epoch.UnixMilli() + 5000, SourceID: "viewer-a"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("canonical state mismatch (-want +got):\n%s", diff)
	}
}

func TestBootstrapIgnoresFreshness(t *testing.T) {
	f := newFixture(t, "viewer-c")
	state := models.PlaybackState{IsPlaying: true, Position: 100, UpdatedAt: f.now(), SourceID: "viewer-a"}
	f.clock.Advance(30 * time.Second)

	c := f.rec.Bootstrap(state)
	if !c.Seek || !c.Play {
		t.Fatalf("Bootstrap() = %+v, want seek and play", c)
	}
	if pos, _ := f.player.Position(); pos != 130 {
		t.Fatalf("player position = %v, want 130", pos)
	}

	// The bootstrap state counts as applied.
	if c := f.rec.Apply(state); c.Decision != DecisionDuplicate {
		t.Fatalf("Apply(bootstrap state) = %+v, want duplicate", c)
	}
}

func TestBootstrapPausedRoom(t *testing.T) {
	f := newFixture(t, "viewer-c")
	c := f.rec.Bootstrap(models.DefaultPlaybackState())
	if c.Changed() {
		t.Fatalf("Bootstrap(default) = %+v, want no change", c)
	}
}

func TestLocalActionSupersedesAppliedUpdate(t *testing.T) {
	f := newFixture(t, "viewer-a")
	other := attach(t, "viewer-b", f.clock, f.store)
	ctx := context.Background()

	// B acts with a stamp slightly ahead of A's clock; A's answer must still win.
	if _, err := f.store.ApplyUpdate(ctx, "room-1", models.PlaybackState{IsPlaying: true, Position: 10, UpdatedAt: f.now() + 1, SourceID: "viewer-b"}); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	if err := f.rec.Pause(ctx); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	got, _ := f.store.GetState("room-1")
	if got.IsPlaying || got.SourceID != "viewer-a" || got.UpdatedAt != f.now()+2 {
		t.Fatalf("canonical state = %+v, want paused by viewer-a at now+2", got)
	}
	if other.player.IsPlaying() {
		t.Fatalf("viewer B still playing")
	}
}

// rejectAll is a publisher that loses every offer, as when another viewer's
// state with the same timestamp reached the store first.
type rejectAll struct{}

func (rejectAll) ApplyUpdate(context.Context, string, models.PlaybackState) (bool, error) {
	return false, nil
}

func TestLosingTieConvergesToCanonical(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	player := NewClockPlayer(clock, 0, false)
	rec := New(Config{ID: "viewer-b", RoomID: "room-1", Clock: clock}, player, rejectAll{})
	ctx := context.Background()

	if err := rec.Play(ctx); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if !player.IsPlaying() {
		t.Fatalf("local action was not applied locally")
	}

	winner := models.PlaybackState{IsPlaying: false, Position: 0, UpdatedAt: clock.Now().UnixMilli(), SourceID: "viewer-a"}
	c := rec.Apply(winner)
	if c.Decision != DecisionApplied || !c.Pause {
		t.Fatalf("Apply(winner) = %+v, want applied pause", c)
	}
	if player.IsPlaying() {
		t.Fatalf("player still playing while the room is paused")
	}

	// Redelivery of the winner is still a duplicate.
	if c := rec.Apply(winner); c.Decision != DecisionDuplicate {
		t.Fatalf("Apply(winner) again = %+v, want duplicate", c)
	}
}
