package reconciler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Publisher accepts locally authored canonical updates. session.Store satisfies it.
type Publisher interface {
	ApplyUpdate(ctx context.Context, roomID string, candidate models.PlaybackState) (bool, error)
}

// Decision explains what a Reconciler did with an update
type Decision string

const (
	DecisionApplied     Decision = "applied"
	DecisionStale       Decision = "stale"
	DecisionDuplicate   Decision = "duplicate"
	DecisionSelfEcho    Decision = "self_echo"
	DecisionUnavailable Decision = "unavailable"
)

// Correction is the outcome of evaluating one canonical update
type Correction struct {
	Decision Decision
	Seek     bool
	SeekTo   float64
	Play     bool
	Pause    bool
	Drift    float64
	Age      time.Duration
}

// Changed reports whether any command was issued to the player
func (c Correction) Changed() bool {
	return c.Seek || c.Play || c.Pause
}

// Config holds configuration for a Reconciler
type Config struct {
	ID     string
	RoomID string
	Policy Policy
	Clock  clockwork.Clock
}

// Reconciler keeps one viewer's player aligned with the room's canonical state
type Reconciler struct {
	id        string
	roomID    string
	policy    Policy
	clock     clockwork.Clock
	player    Player
	publisher Publisher

	mu                   sync.Mutex
	lastAppliedUpdatedAt int64
	lastAppliedSourceID  string
	lastIssuedUpdatedAt  int64
}

// New creates a Reconciler for player. publisher receives local actions.
func New(cfg Config, player Player, publisher Publisher) *Reconciler {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	return &Reconciler{
		id:        cfg.ID,
		roomID:    cfg.RoomID,
		policy:    cfg.Policy,
		clock:     cfg.Clock,
		player:    player,
		publisher: publisher,
	}
}

// ID returns the source id stamped on updates this Reconciler authors
func (r *Reconciler) ID() string {
	return r.id
}

// Apply evaluates a canonical update against the local player and issues the
// corrections the policy allows.
func (r *Reconciler) Apply(update models.PlaybackState) Correction {
	r.mu.Lock()
	defer r.mu.Unlock()

	age := time.Duration(r.clock.Now().UnixMilli()-update.UpdatedAt) * time.Millisecond
	c := Correction{Age: age}

	if update.SourceID != "" && update.SourceID == r.id && update.UpdatedAt <= r.lastIssuedUpdatedAt {
		c.Decision = DecisionSelfEcho
		return c
	}
	if r.seenLocked(update) {
		c.Decision = DecisionDuplicate
		return c
	}
	if !r.policy.fresh(age) {
		c.Decision = DecisionStale
		log.Debug().
			Str("room_id", r.roomID).
			Str("viewer_id", r.id).
			Dur("age", age).
			Msg("ignoring playback update outside freshness window")
		return c
	}
	if !r.player.Available() {
		c.Decision = DecisionUnavailable
		return c
	}
	local, err := r.player.Position()
	if err != nil {
		c.Decision = DecisionUnavailable
		return c
	}

	c.Decision = DecisionApplied
	c.Drift = math.Abs(local - update.Position)
	r.lastAppliedUpdatedAt = update.UpdatedAt
	r.lastAppliedSourceID = update.SourceID

	if r.policy.needsSeek(c.Drift) {
		c.Seek = true
		c.SeekTo = update.Position
		if err := r.player.Seek(update.Position); err != nil {
			log.Warn().Err(err).Str("room_id", r.roomID).Str("viewer_id", r.id).Msg("seek correction failed")
		}
	}

	if update.IsPlaying != r.player.IsPlaying() {
		if update.IsPlaying {
			c.Play = true
			if err := r.player.Play(); err != nil {
				log.Warn().Err(err).Str("room_id", r.roomID).Str("viewer_id", r.id).Msg("play correction failed")
			}
		} else {
			c.Pause = true
			if err := r.player.Pause(); err != nil {
				log.Warn().Err(err).Str("room_id", r.roomID).Str("viewer_id", r.id).Msg("pause correction failed")
			}
		}
	}

	if c.Changed() {
		log.Debug().
			Str("room_id", r.roomID).
			Str("viewer_id", r.id).
			Str("source_id", update.SourceID).
			Bool("seek", c.Seek).
			Float64("drift", c.Drift).
			Bool("play", c.Play).
			Bool("pause", c.Pause).
			Msg("applied playback correction")
	}
	return c
}

// Bootstrap aligns a freshly joined player with the room's current state.
// Freshness does not apply here; a playing state is extrapolated by its age.
func (r *Reconciler) Bootstrap(state models.PlaybackState) Correction {
	r.mu.Lock()
	defer r.mu.Unlock()

	age := time.Duration(r.clock.Now().UnixMilli()-state.UpdatedAt) * time.Millisecond
	c := Correction{Age: age}
	if !r.player.Available() {
		c.Decision = DecisionUnavailable
		return c
	}
	local, err := r.player.Position()
	if err != nil {
		c.Decision = DecisionUnavailable
		return c
	}

	target := state.Position
	if state.IsPlaying && state.UpdatedAt > 0 && age > 0 {
		target += age.Seconds()
	}
	c.Decision = DecisionApplied
	c.Drift = math.Abs(local - target)
	if state.UpdatedAt > r.lastAppliedUpdatedAt {
		r.lastAppliedUpdatedAt = state.UpdatedAt
		r.lastAppliedSourceID = state.SourceID
	}

	if r.policy.needsSeek(c.Drift) {
		c.Seek = true
		c.SeekTo = target
		if err := r.player.Seek(target); err != nil {
			log.Warn().Err(err).Str("room_id", r.roomID).Str("viewer_id", r.id).Msg("bootstrap seek failed")
		}
	}
	if state.IsPlaying != r.player.IsPlaying() {
		if state.IsPlaying {
			c.Play = true
			err = r.player.Play()
		} else {
			c.Pause = true
			err = r.player.Pause()
		}
		if err != nil {
			log.Warn().Err(err).Str("room_id", r.roomID).Str("viewer_id", r.id).Msg("bootstrap play state failed")
		}
	}

	log.Debug().
		Str("room_id", r.roomID).
		Str("viewer_id", r.id).
		Float64("position", target).
		Bool("playing", state.IsPlaying).
		Msg("bootstrapped player from canonical state")
	return c
}

// Play starts playback locally and publishes the new canonical state
func (r *Reconciler) Play(ctx context.Context) error {
	return r.act(ctx, func(pos float64, _ bool) (float64, bool) { return pos, true })
}

// Pause stops playback locally and publishes the new canonical state
func (r *Reconciler) Pause(ctx context.Context) error {
	return r.act(ctx, func(pos float64, _ bool) (float64, bool) { return pos, false })
}

// Toggle flips between playing and paused
func (r *Reconciler) Toggle(ctx context.Context) error {
	return r.act(ctx, func(pos float64, playing bool) (float64, bool) { return pos, !playing })
}

// Seek moves playback to position, keeping the current play state
func (r *Reconciler) Seek(ctx context.Context, position float64) error {
	if position < 0 {
		return fmt.Errorf("seek to %v: %w", position, models.ErrInvalidPlaybackState)
	}
	return r.act(ctx, func(_ float64, playing bool) (float64, bool) { return position, playing })
}

// act publishes a locally authored update before applying it to the player, so
// the echo of our own broadcast is recognised and suppressed.
func (r *Reconciler) act(ctx context.Context, next func(pos float64, playing bool) (float64, bool)) error {
	r.mu.Lock()
	if !r.player.Available() {
		r.mu.Unlock()
		return ErrPlayerUnavailable
	}
	pos, err := r.player.Position()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("read position: %w", err)
	}
	newPos, playing := next(pos, r.player.IsPlaying())

	// A local action must supersede everything this viewer has seen or sent.
	now := r.clock.Now().UnixMilli()
	if floor := max(r.lastIssuedUpdatedAt, r.lastAppliedUpdatedAt); now <= floor {
		now = floor + 1
	}
	update := models.PlaybackState{
		IsPlaying: playing,
		Position:  newPos,
		UpdatedAt: now,
		SourceID:  r.id,
	}
	r.lastIssuedUpdatedAt = now
	if now > r.lastAppliedUpdatedAt {
		r.lastAppliedUpdatedAt = now
		r.lastAppliedSourceID = r.id
	}
	r.mu.Unlock()

	var publishErr error
	if r.publisher != nil {
		accepted, err := r.publisher.ApplyUpdate(ctx, r.roomID, update)
		if err != nil {
			publishErr = fmt.Errorf("publish playback update: %w", err)
		} else if !accepted {
			log.Debug().
				Str("room_id", r.roomID).
				Str("viewer_id", r.id).
				Int64("updated_at", now).
				Msg("local playback update superseded by a newer canonical state")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if newPos != pos {
		if err := r.player.Seek(newPos); err != nil {
			return fmt.Errorf("seek: %w", err)
		}
	}
	if playing != r.player.IsPlaying() {
		if playing {
			err = r.player.Play()
		} else {
			err = r.player.Pause()
		}
		if err != nil {
			return fmt.Errorf("set playing=%t: %w", playing, err)
		}
	}
	return publishErr
}

// seenLocked reports whether update is no newer than the last applied state.
// A different writer at the same timestamp is not a duplicate: it is the
// canonical state that beat this viewer's own offer.
func (r *Reconciler) seenLocked(update models.PlaybackState) bool {
	if update.UpdatedAt != r.lastAppliedUpdatedAt {
		return update.UpdatedAt < r.lastAppliedUpdatedAt
	}
	return update.SourceID == r.lastAppliedSourceID
}

// State returns a snapshot of the viewer's local player state
func (r *Reconciler) State() models.LocalPlayerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, _ := r.player.Position()
	return models.LocalPlayerState{
		LocalPosition:        pos,
		LocalIsPlaying:       r.player.IsPlaying(),
		LastAppliedUpdatedAt: r.lastAppliedUpdatedAt,
	}
}
