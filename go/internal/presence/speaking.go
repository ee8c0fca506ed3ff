package presence

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultSampleInterval is how often speaker sets are re-evaluated
const DefaultSampleInterval = 1500 * time.Millisecond

// SpeakingSource reports whether a remote participant is currently speaking
type SpeakingSource interface {
	Speaking(roomID, userID string) bool
}

// RandomSource marks a participant as speaking with a fixed probability. It
// stands in until real audio-level signals are wired.
type RandomSource struct {
	mu          sync.Mutex
	rng         *rand.Rand
	probability float64
}

// NewRandomSource creates a RandomSource. A nil rng uses a time-seeded one.
func NewRandomSource(rng *rand.Rand, probability float64) *RandomSource {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RandomSource{rng: rng, probability: probability}
}

func (s *RandomSource) Speaking(_, _ string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.probability
}

// MicGatedSource only lets participants with their mic on speak
type MicGatedSource struct {
	Tracker *Tracker
	Source  SpeakingSource
}

func (s MicGatedSource) Speaking(roomID, userID string) bool {
	return s.Tracker.MicEnabled(roomID, userID) && s.Source.Speaking(roomID, userID)
}

// SamplerConfig holds configuration for a Sampler
type SamplerConfig struct {
	Interval time.Duration
	Clock    clockwork.Clock
	// LocalUserID is the participant running this sampler, if any. Their
	// speaking flag follows their mic exactly.
	LocalUserID string
	// Rooms lists the rooms to sample on each tick
	Rooms func() []string
}

// Sampler periodically recomputes each room's speaker set
type Sampler struct {
	tracker *Tracker
	source  SpeakingSource
	config  SamplerConfig
}

// NewSampler creates a Sampler
func NewSampler(tracker *Tracker, source SpeakingSource, cfg SamplerConfig) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSampleInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Sampler{tracker: tracker, source: source, config: cfg}
}

// Run samples every interval until ctx is done
func (s *Sampler) Run(ctx context.Context) error {
	ticker := s.config.Clock.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.config.Interval).Msg("speaking sampler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("speaking sampler stopped")
			return nil
		case <-ticker.Chan():
			if s.config.Rooms == nil {
				continue
			}
			for _, roomID := range s.config.Rooms() {
				if _, err := s.Sample(ctx, roomID); err != nil {
					log.Warn().Err(err).Str("room_id", roomID).Msg("failed to sample speakers")
				}
			}
		}
	}
}

// Sample recomputes roomID's speaker set once and returns it
func (s *Sampler) Sample(ctx context.Context, roomID string) ([]string, error) {
	members, err := s.tracker.Participants(ctx, roomID)
	if err != nil {
		return nil, err
	}

	speakers := make([]string, 0, len(members))
	for _, m := range members {
		var speaking bool
		if m.ID == s.config.LocalUserID {
			speaking = s.tracker.MicEnabled(roomID, m.ID)
		} else if s.source != nil {
			speaking = s.source.Speaking(roomID, m.ID)
		}
		if speaking {
			speakers = append(speakers, m.ID)
		}
	}
	s.tracker.setSpeakers(roomID, speakers)
	return s.tracker.Speakers(roomID), nil
}
