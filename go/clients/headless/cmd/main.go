package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchparty/go/clients/headless"
	"github.com/mcdev12/watchparty/go/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	logging.Setup(logging.Config{
		Level:   getEnv("LOG_LEVEL", "info"),
		Pretty:  true,
		Service: "headless-viewer",
	})

	roomID := os.Getenv("ROOM_ID")
	if roomID == "" {
		log.Fatal().Msg("ROOM_ID is required")
	}
	duration, _ := strconv.ParseFloat(getEnv("VIDEO_DURATION", "0"), 64)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	viewer, err := headless.Connect(ctx, headless.Config{
		BaseURL:  getEnv("WATCHPARTY_URL", "http://localhost:8080"),
		Name:     getEnv("VIEWER_NAME", "Headless"),
		RoomID:   roomID,
		Duration: duration,
		Loop:     os.Getenv("VIDEO_LOOP") == "true",
		Clock:    clock,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect viewer")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := viewer.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("failed to leave room")
		}
	}()
	log.Info().Str("room_id", roomID).Str("user_id", viewer.User().ID).Msg("viewer joined room")

	go report(ctx, clock, viewer)
	if err := viewer.Run(ctx); err != nil {
		log.Error().Err(err).Msg("viewer stopped")
	}
}

func report(ctx context.Context, clock clockwork.Clock, viewer *headless.Viewer) {
	ticker := clock.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			pos, _ := viewer.Player().Position()
			log.Info().
				Float64("position", pos).
				Bool("playing", viewer.Player().IsPlaying()).
				Int("unread", viewer.Unread()).
				Strs("speakers", viewer.Speakers()).
				Msg("viewer state")
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
