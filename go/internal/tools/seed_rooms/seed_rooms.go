package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/watchparty/go/internal/dbconfig"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/rooms/db"
)

const demoVideo = "https://www.w3schools.com/html/mov_bbb.mp4"

var (
	alice   = models.UserRef{ID: "1", Name: "Alice", Avatar: "https://picsum.photos/id/1011/50/50"}
	bob     = models.UserRef{ID: "2", Name: "Bob", Avatar: "https://picsum.photos/id/1012/50/50"}
	charlie = models.UserRef{ID: "3", Name: "Charlie", Avatar: "https://picsum.photos/id/1025/50/50"}
	dave    = models.UserRef{ID: "4", Name: "Dave", Avatar: "https://picsum.photos/id/1005/50/50"}
	eve     = models.UserRef{ID: "5", Name: "Eve", Avatar: "https://picsum.photos/id/1027/50/50"}
)

// demoRooms is the lobby a fresh install starts with
var demoRooms = []models.Room{
	{
		ID: "room-1", Title: "Gravity Falls Marathon", VideoSource: demoVideo, Privacy: models.PrivacyPublic,
		Metadata:     models.RoomMetadata{Thumbnail: "https://picsum.photos/id/10/400/225", ServiceIcon: "youtube"},
		Participants: []models.UserRef{alice, bob, charlie}, ViewerCount: 51,
	},
	{
		ID: "room-2", Title: "SpongeBob Season 1", VideoSource: demoVideo, Privacy: models.PrivacyPublic,
		Metadata:     models.RoomMetadata{Thumbnail: "https://picsum.photos/id/14/400/225", ServiceIcon: "netflix"},
		Participants: []models.UserRef{dave, eve}, ViewerCount: 26,
	},
	{
		ID: "room-3", Title: "Chernobyl: Exclusion Zone", VideoSource: demoVideo, Privacy: models.PrivacyFriendsOnly,
		Metadata:     models.RoomMetadata{Thumbnail: "https://picsum.photos/id/18/400/225", ServiceIcon: "web"},
		Participants: []models.UserRef{alice, eve}, ViewerCount: 13,
	},
	{
		ID: "room-4", Title: "Late Night Music Mix", VideoSource: demoVideo, Privacy: models.PrivacyPublic,
		Metadata:     models.RoomMetadata{Thumbnail: "https://picsum.photos/id/20/400/225", ServiceIcon: "youtube"},
		Participants: []models.UserRef{bob}, ViewerCount: 115,
	},
}

// execer is the part of pgxpool.Pool the seeder uses
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type summary struct {
	total, inserted, skipped, errs int
}

func main() {
	ctx := context.Background()

	// 1) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 2) Make sure the tables exist
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Insert and count
	s := seedRooms(ctx, pool, demoRooms)

	// 4) Print summary
	fmt.Printf(
		"Rooms seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		s.total, s.inserted, s.skipped, s.errs,
	)
}

func seedRooms(ctx context.Context, conn execer, list []models.Room) summary {
	s := summary{total: len(list)}
	for _, r := range list {
		metadata, err := json.Marshal(r.Metadata)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode metadata for room %s: %v\n", r.ID, err)
			s.errs++
			continue
		}
		participants, err := json.Marshal(r.Participants)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode participants for room %s: %v\n", r.ID, err)
			s.errs++
			continue
		}

		cmdTag, err := conn.Exec(ctx, `
            INSERT INTO rooms (
              id, title, video_source, privacy, metadata, participants, viewer_count
            ) VALUES (
              $1,$2,$3,$4,$5,$6,$7
            )
            ON CONFLICT (id) DO NOTHING
        `,
			r.ID, r.Title, r.VideoSource, string(r.Privacy), metadata, participants, r.ViewerCount,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting room %s: %v\n", r.ID, err)
			s.errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			s.inserted++
		} else {
			s.skipped++
		}
	}
	return s
}
