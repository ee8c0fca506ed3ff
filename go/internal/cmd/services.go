package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchparty/go/internal/bus"
	"github.com/mcdev12/watchparty/go/internal/gateway"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/presence"
	"github.com/mcdev12/watchparty/go/internal/rooms"
	"github.com/mcdev12/watchparty/go/internal/session"
	"github.com/mcdev12/watchparty/go/internal/users"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Users   *users.Service
	Rooms   *rooms.Service
	Gateway *gateway.Service
	Sampler *presence.Sampler

	closers []func() error
}

// Close releases the bus and presence connections
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// roomsRepository is what both room storage backends provide
type roomsRepository interface {
	rooms.RoomsRepository
	session.Persister
}

func setupServices(ctx context.Context, cfg *Config, database *sql.DB) (*Services, error) {
	// Wire up dependency injection chain
	// Storage → canonical store / presence → App layer → Service layer
	clock := clockwork.NewRealClock()
	services := &Services{}

	// Users
	userApp := users.NewApp(users.NewMemoryRepository(), nil, clock)

	// Rooms storage
	var roomsRepo roomsRepository
	if database != nil {
		repo := rooms.NewRepository(database)
		if err := repo.Migrate(ctx); err != nil {
			return nil, err
		}
		roomsRepo = repo
	} else {
		roomsRepo = rooms.NewMemoryRepository()
		log.Warn().Msg("database disabled, rooms are kept in memory")
	}
	store := session.NewStore(roomsRepo)

	// Presence
	var presenceStore presence.Store
	switch cfg.Presence.Driver {
	case "redis":
		redisStore, err := presence.NewRedisStore(ctx, presence.RedisConfig{
			Address:  cfg.Presence.RedisAddr,
			Password: cfg.Presence.RedisPassword,
			DB:       cfg.Presence.RedisDB,
			Prefix:   cfg.Presence.KeyPrefix,
			TTL:      cfg.Presence.TTL,
		})
		if err != nil {
			return nil, err
		}
		services.closers = append(services.closers, redisStore.Close)
		presenceStore = redisStore
	default:
		presenceStore = presence.NewMemoryStore()
	}
	tracker := presence.NewTracker(presenceStore)

	roomApp := rooms.NewApp(roomsRepo, store, tracker, userApp, clock)
	n, err := roomApp.LoadRooms(ctx)
	if err != nil {
		services.Close()
		return nil, err
	}

	// Bus
	var playbackBus bus.Bus
	switch cfg.Bus.Driver {
	case "jetstream":
		jsCfg := bus.DefaultJetStreamConfig()
		jsCfg.URL = cfg.Bus.NATSURL
		jsCfg.StreamName = cfg.Bus.StreamName
		jsCfg.SubjectPrefix = cfg.Bus.SubjectPrefix
		jsBus, err := bus.NewJetStreamBus(ctx, jsCfg)
		if err != nil {
			services.Close()
			return nil, err
		}
		playbackBus = jsBus
	default:
		playbackBus = bus.NewLocalBus()
	}
	bridge := bus.NewBridge(store, playbackBus)
	services.closers = append(services.closers, func() error {
		bridge.Close()
		return playbackBus.Close()
	})
	for _, roomID := range store.Rooms() {
		if err := bridge.Attach(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("failed to bridge room")
		}
	}
	log.Info().Int("rooms", n).Str("bus", cfg.Bus.Driver).Str("presence", cfg.Presence.Driver).Msg("canonical store loaded")

	bridged := &bridgedRooms{App: roomApp, bridge: bridge, store: store}

	gatewayCfg := gateway.DefaultConfig()
	gatewayCfg.Clock = clock
	gatewayCfg.OnRoomActive = bridge.Attach

	services.Users = users.NewService(userApp)
	services.Rooms = rooms.NewService(bridged, userApp, store)
	services.Gateway = gateway.NewService(gatewayCfg, bridged, userApp, store, tracker)

	if cfg.Speaking.Enabled {
		services.Sampler = presence.NewSampler(tracker,
			presence.MicGatedSource{Tracker: tracker, Source: presence.NewRandomSource(nil, cfg.Speaking.Probability)},
			presence.SamplerConfig{
				Interval: cfg.Speaking.Interval,
				Clock:    clock,
				Rooms:    store.Rooms,
			})
	}
	return services, nil
}

// bridgedRooms attaches rooms to the bus as soon as this node touches them
type bridgedRooms struct {
	*rooms.App
	bridge *bus.Bridge
	store  *session.Store
}

func (b *bridgedRooms) CreateRoom(ctx context.Context, user *models.User, req rooms.CreateRoomRequest) (*models.Room, error) {
	room, err := b.App.CreateRoom(ctx, user, req)
	if err != nil {
		return nil, err
	}
	b.attach(ctx, room.ID)
	return room, nil
}

func (b *bridgedRooms) JoinRoom(ctx context.Context, user *models.User, roomID string) (*models.Room, bool, error) {
	room, joined, err := b.App.JoinRoom(ctx, user, roomID)
	if err != nil {
		return nil, false, err
	}
	b.attach(ctx, roomID)
	return room, joined, nil
}

func (b *bridgedRooms) UpdatePlayback(ctx context.Context, user *models.User, roomID string, state models.PlaybackState) (bool, error) {
	if !b.store.HasRoom(roomID) {
		if _, err := b.App.GetRoom(ctx, roomID); err != nil {
			return false, err
		}
	}
	b.attach(ctx, roomID)
	return b.App.UpdatePlayback(ctx, user, roomID, state)
}

func (b *bridgedRooms) DeleteRoom(ctx context.Context, user *models.User, roomID string) error {
	if err := b.App.DeleteRoom(ctx, user, roomID); err != nil {
		return err
	}
	b.bridge.Detach(roomID)
	return nil
}

func (b *bridgedRooms) attach(ctx context.Context, roomID string) {
	if err := b.bridge.Attach(ctx, roomID); err != nil {
		log.Warn().Err(fmt.Errorf("attach room %s: %w", roomID, err)).Msg("room not bridged")
	}
}
