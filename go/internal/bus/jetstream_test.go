package bus

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/session"
)

// newTestJetStream connects to the server named by WATCHPARTY_TEST_NATS_URL
// with a stream and subject prefix private to the test.
func newTestJetStream(t *testing.T, streamName, prefix string) *JetStreamBus {
	t.Helper()
	url := os.Getenv("WATCHPARTY_TEST_NATS_URL")
	if url == "" {
		t.Skip("WATCHPARTY_TEST_NATS_URL not set")
	}

	cfg := DefaultJetStreamConfig()
	cfg.URL = url
	cfg.StreamName = streamName
	cfg.SubjectPrefix = prefix
	cfg.MaxReconnects = 0

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := NewJetStreamBus(ctx, cfg)
	if err != nil {
		t.Fatalf("NewJetStreamBus() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.js.DeleteStream(ctx, streamName)
		b.Close()
	})
	return b
}

func testStreamNames() (string, string) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "PLAYBACK_TEST_" + id, "wptest." + id
}

func streamMsgs(t *testing.T, b *JetStreamBus) uint64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := b.js.Stream(ctx, b.config.StreamName)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	return info.State.Msgs
}

func TestJetStreamBusPreservesSenderOrder(t *testing.T) {
	name, prefix := testStreamNames()
	b := newTestJetStream(t, name, prefix)
	ctx := context.Background()

	var got recorder
	sub, err := b.Subscribe(ctx, "room-1", got.handle)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })

	const n = 50
	for i := int64(1); i <= n; i++ {
		state := models.PlaybackState{IsPlaying: i%2 == 0, Position: float64(i), UpdatedAt: i, SourceID: "viewer-a"}
		if err := b.Publish(ctx, "room-1", state); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	eventually(t, func() bool { return len(got.snapshot()) >= n })
	want := make([]int64, n)
	for i := range want {
		want[i] = int64(i + 1)
	}
	if diff := cmp.Diff(want, got.snapshot()); diff != "" {
		t.Fatalf("delivery order mismatch (-want +got):\n%s", diff)
	}
}

func TestJetStreamBusDedupesRepublishedState(t *testing.T) {
	name, prefix := testStreamNames()
	b := newTestJetStream(t, name, prefix)
	ctx := context.Background()

	state := models.PlaybackState{IsPlaying: true, Position: 42, UpdatedAt: 1000, SourceID: "viewer-a"}
	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, "room-1", state); err != nil {
			t.Fatalf("Publish() #%d error = %v", i+1, err)
		}
	}
	if n := streamMsgs(t, b); n != 1 {
		t.Fatalf("stream holds %d messages, want 1", n)
	}

	// The same timestamp from another writer is a different state.
	other := state
	other.SourceID = "viewer-b"
	if err := b.Publish(ctx, "room-1", other); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n := streamMsgs(t, b); n != 2 {
		t.Fatalf("stream holds %d messages, want 2", n)
	}
}

func TestJetStreamBusReplaysLatestState(t *testing.T) {
	name, prefix := testStreamNames()
	b := newTestJetStream(t, name, prefix)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if err := b.Publish(ctx, "room-1", models.PlaybackState{Position: float64(i), UpdatedAt: i}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := b.Publish(ctx, "room-2", models.PlaybackState{UpdatedAt: 99}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	var got recorder
	sub, err := b.Subscribe(ctx, "room-1", got.handle)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })

	eventually(t, func() bool { return len(got.snapshot()) >= 1 })
	time.Sleep(100 * time.Millisecond)
	if diff := cmp.Diff([]int64{3}, got.snapshot()); diff != "" {
		t.Fatalf("late subscriber deliveries mismatch (-want +got):\n%s", diff)
	}
}

func TestBridgeConvergesAcrossJetStreamNodes(t *testing.T) {
	name, prefix := testStreamNames()
	nodeA := newTestJetStream(t, name, prefix)
	nodeB := newTestJetStream(t, name, prefix)
	ctx := context.Background()

	storeA := session.NewStore(nil)
	storeB := session.NewStore(nil)
	for _, s := range []*session.Store{storeA, storeB} {
		s.EnsureRoom("room-1", models.DefaultPlaybackState())
	}
	bridgeA := NewBridge(storeA, nodeA)
	bridgeB := NewBridge(storeB, nodeB)
	t.Cleanup(bridgeA.Close)
	t.Cleanup(bridgeB.Close)
	for _, br := range []*Bridge{bridgeA, bridgeB} {
		if err := br.Attach(ctx, "room-1"); err != nil {
			t.Fatalf("Attach() error = %v", err)
		}
	}

	play := models.PlaybackState{IsPlaying: true, Position: 10, UpdatedAt: 1000, SourceID: "viewer-a"}
	if _, err := storeA.ApplyUpdate(ctx, "room-1", play); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	eventually(t, func() bool {
		got, _ := storeB.GetState("room-1")
		return got == play
	})

	pause := models.PlaybackState{IsPlaying: false, Position: 12, UpdatedAt: 2000, SourceID: "viewer-b"}
	if _, err := storeB.ApplyUpdate(ctx, "room-1", pause); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	eventually(t, func() bool {
		got, _ := storeA.GetState("room-1")
		return got == pause
	})

	// Inbound states are not republished, so each state is stored once.
	time.Sleep(100 * time.Millisecond)
	if n := streamMsgs(t, nodeA); n != 2 {
		t.Fatalf("stream holds %d messages, want 2", n)
	}
}

func TestSubjectTokens(t *testing.T) {
	tests := []struct {
		roomID  string
		wantErr bool
	}{
		{roomID: "room-1"},
		{roomID: "0b6f6c1e-8d8e-4f7b-9d0c-1f1e0a3b2c4d"},
		{roomID: "", wantErr: true},
		{roomID: "room.1", wantErr: true},
		{roomID: "room*", wantErr: true},
		{roomID: "room>", wantErr: true},
		{roomID: "room 1", wantErr: true},
	}
	for _, tt := range tests {
		if err := validSubjectToken(tt.roomID); (err != nil) != tt.wantErr {
			t.Errorf("validSubjectToken(%q) error = %v, wantErr %t", tt.roomID, err, tt.wantErr)
		}
	}

	a := messageID("room-1", models.PlaybackState{UpdatedAt: 5, SourceID: "a"})
	b := messageID("room-1", models.PlaybackState{UpdatedAt: 5, SourceID: "b"})
	if a == b {
		t.Fatalf("messageID() collides across writers: %q", a)
	}
}
