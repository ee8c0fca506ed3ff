package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sqlc-dev/pqtype"
)

const roomColumns = `id, title, video_source, privacy, metadata, participants, viewer_count,
    is_playing, position, playback_updated_at, playback_source_id, created_by, created_at, updated_at`

func scanRoom(row interface{ Scan(...interface{}) error }) (Room, error) {
	var i Room
	err := row.Scan(
		&i.ID,
		&i.Title,
		&i.VideoSource,
		&i.Privacy,
		&i.Metadata,
		&i.Participants,
		&i.ViewerCount,
		&i.IsPlaying,
		&i.Position,
		&i.PlaybackUpdatedAt,
		&i.PlaybackSourceID,
		&i.CreatedBy,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createRoom = `INSERT INTO rooms (
    id, title, video_source, privacy, metadata, participants, viewer_count,
    is_playing, position, playback_updated_at, playback_source_id, created_by, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
RETURNING ` + roomColumns

type CreateRoomParams struct {
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
}

func (q *Queries) CreateRoom(ctx context.Context, arg CreateRoomParams) (Room, error) {
	row := q.db.QueryRowContext(ctx, createRoom,
		arg.ID,
		arg.Title,
		arg.VideoSource,
		arg.Privacy,
		arg.Metadata,
		arg.Participants,
		arg.ViewerCount,
		arg.IsPlaying,
		arg.Position,
		arg.PlaybackUpdatedAt,
		arg.PlaybackSourceID,
		arg.CreatedBy,
		arg.CreatedAt,
	)
	return scanRoom(row)
}

const getRoom = `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

func (q *Queries) GetRoom(ctx context.Context, id string) (Room, error) {
	return scanRoom(q.db.QueryRowContext(ctx, getRoom, id))
}

const getRoomForUpdate = `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1 FOR UPDATE`

func (q *Queries) GetRoomForUpdate(ctx context.Context, id string) (Room, error) {
	return scanRoom(q.db.QueryRowContext(ctx, getRoomForUpdate, id))
}

const listRooms = `SELECT ` + roomColumns + ` FROM rooms ORDER BY created_at DESC, id`

func (q *Queries) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := q.db.QueryContext(ctx, listRooms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Room
	for rows.Next() {
		i, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateParticipants = `UPDATE rooms
SET participants = $2, viewer_count = $3, updated_at = now()
WHERE id = $1`

type UpdateParticipantsParams struct {
	ID           string
	Participants json.RawMessage
	ViewerCount  int32
}

func (q *Queries) UpdateParticipants(ctx context.Context, arg UpdateParticipantsParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateParticipants, arg.ID, arg.Participants, arg.ViewerCount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Only newer states are written, mirroring the in-memory last-writer-wins rule.
const updatePlaybackState = `UPDATE rooms
SET is_playing = $2, position = $3, playback_updated_at = $4, playback_source_id = $5, updated_at = now()
WHERE id = $1 AND playback_updated_at < $4`

type UpdatePlaybackStateParams struct {
	ID                string
	IsPlaying         bool
	Position          float64
	PlaybackUpdatedAt int64
	PlaybackSourceID  sql.NullString
}

func (q *Queries) UpdatePlaybackState(ctx context.Context, arg UpdatePlaybackStateParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updatePlaybackState,
		arg.ID,
		arg.IsPlaying,
		arg.Position,
		arg.PlaybackUpdatedAt,
		arg.PlaybackSourceID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Messages go with the room through ON DELETE CASCADE.
const deleteRoom = `DELETE FROM rooms WHERE id = $1`

func (q *Queries) DeleteRoom(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteRoom, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const nextMessageSeq = `SELECT COALESCE(MAX(seq), 0) + 1 FROM room_messages WHERE room_id = $1`

func (q *Queries) NextMessageSeq(ctx context.Context, roomID string) (int64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx, nextMessageSeq, roomID).Scan(&seq)
	return seq, err
}

const createMessage = `INSERT INTO room_messages (room_id, seq, id, user_id, text, type, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

type CreateMessageParams struct {
	RoomID    string
	Seq       int64
	ID        string
	UserID    string
	Text      string
	Type      string
	CreatedAt time.Time
}

func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) error {
	_, err := q.db.ExecContext(ctx, createMessage,
		arg.RoomID,
		arg.Seq,
		arg.ID,
		arg.UserID,
		arg.Text,
		arg.Type,
		arg.CreatedAt,
	)
	return err
}

const listMessages = `SELECT room_id, seq, id, user_id, text, type, created_at
FROM room_messages WHERE room_id = $1 ORDER BY seq`

func (q *Queries) ListMessages(ctx context.Context, roomID string) ([]RoomMessage, error) {
	rows, err := q.db.QueryContext(ctx, listMessages, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RoomMessage
	for rows.Next() {
		var i RoomMessage
		if err := rows.Scan(
			&i.RoomID,
			&i.Seq,
			&i.ID,
			&i.UserID,
			&i.Text,
			&i.Type,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
