package rooms

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/rooms/db"
	"github.com/mcdev12/watchparty/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

// Querier defines what the repository needs from the database layer
type Querier interface {
	CreateRoom(ctx context.Context, arg db.CreateRoomParams) (db.Room, error)
	GetRoom(ctx context.Context, id string) (db.Room, error)
	GetRoomForUpdate(ctx context.Context, id string) (db.Room, error)
	ListRooms(ctx context.Context) ([]db.Room, error)
	UpdateParticipants(ctx context.Context, arg db.UpdateParticipantsParams) (int64, error)
	UpdatePlaybackState(ctx context.Context, arg db.UpdatePlaybackStateParams) (int64, error)
	DeleteRoom(ctx context.Context, id string) (int64, error)
	NextMessageSeq(ctx context.Context, roomID string) (int64, error)
	CreateMessage(ctx context.Context, arg db.CreateMessageParams) error
	ListMessages(ctx context.Context, roomID string) ([]db.RoomMessage, error)
}

// Repository implements room data access on Postgres
type Repository struct {
	database *sql.DB
	queries  Querier
}

// NewRepository creates a new rooms repository
func NewRepository(database *sql.DB) *Repository {
	return &Repository{
		database: database,
		queries:  db.New(database),
	}
}

// Migrate creates the rooms schema if needed
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.database.ExecContext(ctx, db.Schema); err != nil {
		return fmt.Errorf("failed to migrate rooms schema: %w", err)
	}
	return nil
}

func txQueries(tx *sql.Tx) *db.Queries {
	return db.New(tx)
}

// CreateRoom inserts the room and its initial chat log in one transaction
func (r *Repository) CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error) {
	params, err := r.modelToCreateParams(room)
	if err != nil {
		return nil, err
	}

	var created *models.Room
	err = sqlutil.Run(ctx, r.database, txQueries, func(q *db.Queries) error {
		row, err := q.CreateRoom(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}
		for i, msg := range room.ChatLog {
			if err := q.CreateMessage(ctx, db.CreateMessageParams{
				RoomID:    room.ID,
				Seq:       int64(i + 1),
				ID:        msg.ID,
				UserID:    msg.UserID,
				Text:      msg.Text,
				Type:      string(msg.Type),
				CreatedAt: msg.Timestamp,
			}); err != nil {
				return fmt.Errorf("failed to create message: %w", err)
			}
		}
		created, err = r.dbRoomToModel(row)
		return err
	})
	if err != nil {
		return nil, err
	}

	created.ChatLog = append([]models.Message(nil), room.ChatLog...)
	for i := range created.ChatLog {
		created.ChatLog[i].Seq = int64(i + 1)
	}
	return created, nil
}

// GetRoom retrieves a room with its chat log
func (r *Repository) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	row, err := r.queries.GetRoom(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %s: %w", id, ErrRoomNotFound)
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	room, err := r.dbRoomToModel(row)
	if err != nil {
		return nil, err
	}

	messages, err := r.queries.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	room.ChatLog = r.dbMessagesToModels(messages)
	return room, nil
}

// ListRooms returns every room, newest first, without chat logs
func (r *Repository) ListRooms(ctx context.Context) ([]*models.Room, error) {
	rows, err := r.queries.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	out := make([]*models.Room, 0, len(rows))
	for _, row := range rows {
		room, err := r.dbRoomToModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, nil
}

// UpdateParticipants replaces the stored participant set and viewer count
func (r *Repository) UpdateParticipants(ctx context.Context, id string, participants []models.UserRef, viewerCount int) error {
	data, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}
	n, err := r.queries.UpdateParticipants(ctx, db.UpdateParticipantsParams{
		ID:           id,
		Participants: data,
		ViewerCount:  int32(viewerCount),
	})
	if err != nil {
		return fmt.Errorf("failed to update participants: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("room %s: %w", id, ErrRoomNotFound)
	}
	return nil
}

// DeleteRoom removes a room and its chat log
func (r *Repository) DeleteRoom(ctx context.Context, id string) error {
	n, err := r.queries.DeleteRoom(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("room %s: %w", id, ErrRoomNotFound)
	}
	return nil
}

// AppendMessage stores msg with the next sequence number of the room
func (r *Repository) AppendMessage(ctx context.Context, roomID string, msg models.Message) (*models.Message, error) {
	err := sqlutil.Run(ctx, r.database, txQueries, func(q *db.Queries) error {
		// Row lock serializes sequence allocation per room.
		if _, err := q.GetRoomForUpdate(ctx, roomID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("room %s: %w", roomID, ErrRoomNotFound)
			}
			return fmt.Errorf("failed to lock room: %w", err)
		}
		seq, err := q.NextMessageSeq(ctx, roomID)
		if err != nil {
			return fmt.Errorf("failed to allocate message sequence: %w", err)
		}
		msg.Seq = seq
		return q.CreateMessage(ctx, db.CreateMessageParams{
			RoomID:    roomID,
			Seq:       seq,
			ID:        msg.ID,
			UserID:    msg.UserID,
			Text:      msg.Text,
			Type:      string(msg.Type),
			CreatedAt: msg.Timestamp,
		})
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SavePlaybackState persists state if it is newer than the stored one. It
// satisfies session.Persister.
func (r *Repository) SavePlaybackState(ctx context.Context, roomID string, state models.PlaybackState) error {
	_, err := r.queries.UpdatePlaybackState(ctx, db.UpdatePlaybackStateParams{
		ID:                roomID,
		IsPlaying:         state.IsPlaying,
		Position:          state.Position,
		PlaybackUpdatedAt: state.UpdatedAt,
		PlaybackSourceID:  sqlutil.ToNullString(state.SourceID),
	})
	if err != nil {
		return fmt.Errorf("failed to save playback state: %w", err)
	}
	return nil
}

func (r *Repository) modelToCreateParams(room *models.Room) (db.CreateRoomParams, error) {
	metadata, err := json.Marshal(room.Metadata)
	if err != nil {
		return db.CreateRoomParams{}, fmt.Errorf("failed to marshal room metadata: %w", err)
	}
	participants := room.Participants
	if participants == nil {
		participants = []models.UserRef{}
	}
	participantsJSON, err := json.Marshal(participants)
	if err != nil {
		return db.CreateRoomParams{}, fmt.Errorf("failed to marshal participants: %w", err)
	}

	return db.CreateRoomParams{
		ID:                room.ID,
		Title:             room.Title,
		VideoSource:       room.VideoSource,
		Privacy:           string(room.Privacy),
		Metadata:          pqtype.NullRawMessage{RawMessage: metadata, Valid: true},
		Participants:      participantsJSON,
		ViewerCount:       int32(room.ViewerCount),
		IsPlaying:         room.PlaybackState.IsPlaying,
		Position:          room.PlaybackState.Position,
		PlaybackUpdatedAt: room.PlaybackState.UpdatedAt,
		PlaybackSourceID:  sqlutil.ToNullString(room.PlaybackState.SourceID),
		CreatedBy:         sqlutil.ToNullString(room.CreatedBy),
		CreatedAt:         room.CreatedAt,
	}, nil
}

// dbRoomToModel converts a database room to domain model
func (r *Repository) dbRoomToModel(row db.Room) (*models.Room, error) {
	room := &models.Room{
		ID:          row.ID,
		Title:       row.Title,
		VideoSource: row.VideoSource,
		Privacy:     models.Privacy(row.Privacy),
		ViewerCount: int(row.ViewerCount),
		PlaybackState: models.PlaybackState{
			IsPlaying: row.IsPlaying,
			Position:  row.Position,
			UpdatedAt: row.PlaybackUpdatedAt,
			SourceID:  sqlutil.FromNullString(row.PlaybackSourceID),
		},
		CreatedBy: sqlutil.FromNullString(row.CreatedBy),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Metadata.Valid {
		if err := json.Unmarshal(row.Metadata.RawMessage, &room.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal room metadata: %w", err)
		}
	}
	if len(row.Participants) > 0 {
		if err := json.Unmarshal(row.Participants, &room.Participants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
		}
	}
	return room, nil
}

func (r *Repository) dbMessagesToModels(rows []db.RoomMessage) []models.Message {
	out := make([]models.Message, 0, len(rows))
	for _, m := range rows {
		out = append(out, models.Message{
			ID:        m.ID,
			Seq:       m.Seq,
			UserID:    m.UserID,
			Text:      m.Text,
			Type:      models.MessageType(m.Type),
			Timestamp: m.CreatedAt,
		})
	}
	return out
}
