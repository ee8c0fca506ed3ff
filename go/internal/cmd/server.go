package main

import (
	"net/http"
	"time"

	"github.com/mcdev12/watchparty/go/internal/logging"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg *Config, services *Services, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	// Register services
	registerServices(mux, services)

	// Add health check endpoint
	setupHealthCheck(mux)

	handler := logging.HTTPMiddleware(logger)(c.Handler(mux))

	// WriteTimeout stays unset; it would cut long-lived sockets.
	return &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	// Register user service
	userServicePath, userServiceHandler := services.Users.Handler()
	mux.Handle(userServicePath, userServiceHandler)

	// Register room service
	roomServicePath, roomServiceHandler := services.Rooms.Handler()
	mux.Handle(roomServicePath, roomServiceHandler)

	// Register socket and live state routes
	services.Gateway.RegisterRoutes(mux)
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Warn().Err(err).Msg("failed to write health check response")
		}
	})
}
