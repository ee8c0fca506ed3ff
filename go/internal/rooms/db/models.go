package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sqlc-dev/pqtype"
)

type Room struct {
	ID                string
	Title             string
	VideoSource       string
	Privacy           string
	Metadata          pqtype.NullRawMessage
	Participants      json.RawMessage
	ViewerCount       int32
	IsPlaying         bool
	Position          float64
	PlaybackUpdatedAt int64
	PlaybackSourceID  sql.NullString
	CreatedBy         sql.NullString
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type RoomMessage struct {
	RoomID    string
	Seq       int64
	ID        string
	UserID    string
	Text      string
	Type      string
	CreatedAt time.Time
}
