package bus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConfig holds configuration for the NATS JetStream binding
type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep playback history
	MaxMsgsPerRoom  int64         // Messages kept per room subject
	Replicas        int
	DuplicateWindow time.Duration // Window for Nats-Msg-Id dedupe
}

// DefaultJetStreamConfig returns default JetStream configuration
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "PLAYBACK_STATE",
		SubjectPrefix:   "watchparty.playback",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		MaxMsgsPerRoom:  16,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
	}
}

// JetStreamBus propagates playback states through a NATS JetStream stream.
// Every room has its own subject; each subscription is an ordered consumer
// that starts at the room's latest state.
type JetStreamBus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig

	mu   sync.Mutex
	subs map[*jetStreamSub]struct{}
}

type jetStreamSub struct {
	bus *JetStreamBus
	cc  jetstream.ConsumeContext
}

// NewJetStreamBus connects to NATS and ensures the playback stream exists
func NewJetStreamBus(ctx context.Context, cfg JetStreamConfig) (*JetStreamBus, error) {
	opts := []nats.Option{
		nats.Name("watchparty"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b := &JetStreamBus{
		nc:     nc,
		js:     js,
		config: cfg,
		subs:   make(map[*jetStreamSub]struct{}),
	}
	if err := b.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return b, nil
}

func (b *JetStreamBus) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:              b.config.StreamName,
		Description:       "Canonical playback state per watch party room",
		Subjects:          []string{b.config.SubjectPrefix + ".>"},
		Retention:         jetstream.LimitsPolicy,
		MaxAge:            b.config.MaxAge,
		MaxMsgsPerSubject: b.config.MaxMsgsPerRoom,
		Storage:           jetstream.FileStorage,
		Replicas:          b.config.Replicas,
		Duplicates:        b.config.DuplicateWindow,
	}

	stream, err := b.js.Stream(ctx, b.config.StreamName)
	if err != nil {
		if _, err = b.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", b.config.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = b.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", b.config.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

// Subject returns the subject carrying roomID's playback updates
func (b *JetStreamBus) Subject(roomID string) string {
	return roomSubject(b.config.SubjectPrefix, roomID)
}

func (b *JetStreamBus) Publish(ctx context.Context, roomID string, state models.PlaybackState) error {
	if err := validSubjectToken(roomID); err != nil {
		return err
	}
	subject := b.Subject(roomID)
	ack, err := b.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    EncodeState(roomID, state),
		Header: nats.Header{
			"Room-ID":   []string{roomID},
			"Source-ID": []string{state.SourceID},
		},
	},
		jetstream.WithMsgID(messageID(roomID, state)),
		jetstream.WithExpectStream(b.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("source_id", state.SourceID).
		Int64("updated_at", state.UpdatedAt).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("published playback state")
	return nil
}

func (b *JetStreamBus) Subscribe(ctx context.Context, roomID string, h Handler) (Subscription, error) {
	if err := validSubjectToken(roomID); err != nil {
		return nil, err
	}
	subject := b.Subject(roomID)
	consumer, err := b.js.OrderedConsumer(ctx, b.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create ordered consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		msgRoom, state, err := DecodeState(msg.Data())
		if err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to decode playback state")
			return
		}
		if msgRoom == "" {
			msgRoom = roomID
		}
		h(msgRoom, state)
	})
	if err != nil {
		return nil, fmt.Errorf("start consumer: %w", err)
	}

	s := &jetStreamSub{bus: b, cc: cc}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	log.Info().Str("subject", subject).Msg("subscribed to playback updates")
	return s, nil
}

func (s *jetStreamSub) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.cc.Stop()
	return nil
}

// Close stops all consumers and drains the connection
func (b *JetStreamBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*jetStreamSub]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.cc.Stop()
	}
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			b.nc.Close()
			return fmt.Errorf("drain NATS connection: %w", err)
		}
	}
	return nil
}

func roomSubject(prefix, roomID string) string {
	return prefix + "." + roomID
}

// messageID identifies one canonical state so republishing it from several
// nodes inside the duplicate window is stored once.
func messageID(roomID string, s models.PlaybackState) string {
	return roomID + ":" + s.SourceID + ":" + strconv.FormatInt(s.UpdatedAt, 10)
}

func validSubjectToken(roomID string) error {
	if roomID == "" || strings.ContainsAny(roomID, ".*> \t\r\n") {
		return fmt.Errorf("room id %q is not a valid subject token", roomID)
	}
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgsPerSubject == b.MaxMsgsPerSubject &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
