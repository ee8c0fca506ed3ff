package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mcdev12/watchparty/go/internal/dbconfig"
	"github.com/mcdev12/watchparty/go/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := loadConfig(getEnv("WATCHPARTY_CONFIG", "watchparty.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.Setup(cfg.Log)
	log.Info().Str("port", cfg.Server.Port).Str("level", cfg.Log.Level).Msg("starting watchparty")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		log.Fatal().Err(err).Msg("watchparty server failed")
	}
}

func run(ctx context.Context, cfg *Config, logger zerolog.Logger) error {
	var database *sql.DB
	if cfg.Database.Enabled {
		var err error
		database, err = setupDatabase(ctx, dbconfig.NewConfigFromEnv())
		if err != nil {
			return err
		}
		defer database.Close()
	}

	services, err := setupServices(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close services")
		}
	}()

	server := setupServer(cfg, services, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return services.Gateway.Start(gctx)
	})
	if services.Sampler != nil {
		g.Go(func() error {
			return services.Sampler.Run(gctx)
		})
	}
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("watchparty shutdown complete")
	return nil
}
