package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mcdev12/watchparty/go/internal/models"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire field numbers of the playback message
const (
	fieldIsPlaying protowire.Number = 1
	fieldPosition  protowire.Number = 2
	fieldUpdatedAt protowire.Number = 3
	fieldSourceID  protowire.Number = 4
	fieldRoomID    protowire.Number = 5
)

var errEmptyPayload = errors.New("empty playback payload")

// jsonEnvelope is accepted on decode so debugging tools can publish plain JSON
type jsonEnvelope struct {
	RoomID string               `json:"room_id"`
	State  models.PlaybackState `json:"state"`
}

// EncodeState encodes a playback update in protobuf wire format
func EncodeState(roomID string, s models.PlaybackState) []byte {
	b := make([]byte, 0, 32+len(roomID)+len(s.SourceID))
	b = protowire.AppendTag(b, fieldIsPlaying, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(s.IsPlaying))
	b = protowire.AppendTag(b, fieldPosition, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.Position))
	b = protowire.AppendTag(b, fieldUpdatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.UpdatedAt))
	if s.SourceID != "" {
		b = protowire.AppendTag(b, fieldSourceID, protowire.BytesType)
		b = protowire.AppendString(b, s.SourceID)
	}
	if roomID != "" {
		b = protowire.AppendTag(b, fieldRoomID, protowire.BytesType)
		b = protowire.AppendString(b, roomID)
	}
	return b
}

// DecodeState decodes a payload written by EncodeState or a JSON envelope.
// Unknown fields are skipped.
func DecodeState(b []byte) (string, models.PlaybackState, error) {
	var (
		roomID string
		s      models.PlaybackState
	)
	if len(b) == 0 {
		return "", s, errEmptyPayload
	}
	if b[0] == '{' {
		var env jsonEnvelope
		if err := json.Unmarshal(b, &env); err != nil {
			return "", s, fmt.Errorf("decode json envelope: %w", err)
		}
		return env.RoomID, env.State, nil
	}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", s, fmt.Errorf("decode tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldIsPlaying && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			s.IsPlaying = protowire.DecodeBool(v)
		case num == fieldPosition && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			s.Position = math.Float64frombits(v)
		case num == fieldUpdatedAt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			s.UpdatedAt = int64(v)
		case num == fieldSourceID && typ == protowire.BytesType:
			s.SourceID, n = protowire.ConsumeString(b)
		case num == fieldRoomID && typ == protowire.BytesType:
			roomID, n = protowire.ConsumeString(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return "", s, fmt.Errorf("decode field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return roomID, s, nil
}
