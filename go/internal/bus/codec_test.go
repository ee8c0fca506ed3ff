package bus

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mcdev12/watchparty/go/internal/models"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestDecodeStateWireFormat(t *testing.T) {
	want := models.PlaybackState{IsPlaying: true, Position: 754.25, UpdatedAt: 1792353600123, SourceID: "viewer-a"}

	room, got, err := DecodeState(EncodeState("room-1", want))
	if err != nil {
		t.Fatalf("DecodeState() error = %v", err)
	}
	if room != "room-1" {
		t.Fatalf("DecodeState() room = %q, want room-1", room)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("DecodeState() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeStateSkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendString(b, "future field")
	b = protowire.AppendTag(b, fieldPosition, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(12.5))
	b = protowire.AppendTag(b, fieldUpdatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)

	_, got, err := DecodeState(b)
	if err != nil {
		t.Fatalf("DecodeState() error = %v", err)
	}
	if got.Position != 12.5 || got.UpdatedAt != 42 {
		t.Fatalf("DecodeState() = %+v", got)
	}
}

func TestDecodeStateJSONEnvelope(t *testing.T) {
	payload := []byte(`{"room_id":"room-9","state":{"is_playing":true,"position":3.5,"updated_at":77,"source_id":"cli"}}`)

	room, got, err := DecodeState(payload)
	if err != nil {
		t.Fatalf("DecodeState() error = %v", err)
	}
	want := models.PlaybackState{IsPlaying: true, Position: 3.5, UpdatedAt: 77, SourceID: "cli"}
	if room != "room-9" || got != want {
		t.Fatalf("DecodeState() = %q, %+v; want room-9, %+v", room, got, want)
	}
}

func TestDecodeStateErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "truncated fixed64", payload: EncodeState("room-1", models.PlaybackState{Position: 1})[:4]},
		{name: "bad json", payload: []byte(`{"room_id":`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeState(tt.payload); err == nil {
				t.Fatalf("DecodeState() error = nil, want error")
			}
		})
	}
}

func TestValidSubjectToken(t *testing.T) {
	for _, id := range []string{"", "a.b", "room*", "room>", "has space"} {
		if err := validSubjectToken(id); err == nil {
			t.Errorf("validSubjectToken(%q) = nil, want error", id)
		}
	}
	if err := validSubjectToken("3f2c9a4e-8d1b-4c7a-9f00-1a2b3c4d5e6f"); err != nil {
		t.Errorf("validSubjectToken(uuid) error = %v", err)
	}
	if got := roomSubject("watchparty.playback", "room-1"); got != "watchparty.playback.room-1" {
		t.Errorf("roomSubject() = %q", got)
	}
}
