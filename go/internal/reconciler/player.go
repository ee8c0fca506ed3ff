package reconciler

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Player is the local video element a Reconciler drives
type Player interface {
	// Available reports whether the media resource is loaded and controllable
	Available() bool
	Position() (float64, error)
	IsPlaying() bool
	Seek(position float64) error
	Play() error
	Pause() error
}

// ClockPlayer is a headless Player whose position advances with a clock while
// playing. It backs the headless viewer client and tests.
type ClockPlayer struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	available bool
	playing   bool
	base      float64
	baseAt    time.Time
	duration  float64
	loop      bool

	seeks  int
	plays  int
	pauses int
}

// NewClockPlayer creates an available, paused player at position 0.
// duration <= 0 means unbounded.
func NewClockPlayer(clock clockwork.Clock, duration float64, loop bool) *ClockPlayer {
	return &ClockPlayer{
		clock:     clock,
		available: true,
		baseAt:    clock.Now(),
		duration:  duration,
		loop:      loop,
	}
}

// SetAvailable marks the media resource as loaded or failed
func (p *ClockPlayer) SetAvailable(available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = available
}

func (p *ClockPlayer) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *ClockPlayer) Position() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.available {
		return 0, ErrPlayerUnavailable
	}
	return p.positionLocked(), nil
}

func (p *ClockPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *ClockPlayer) Seek(position float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.available {
		return ErrPlayerUnavailable
	}
	p.base = position
	p.baseAt = p.clock.Now()
	p.seeks++
	return nil
}

func (p *ClockPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.available {
		return ErrPlayerUnavailable
	}
	if !p.playing {
		p.base = p.positionLocked()
		p.baseAt = p.clock.Now()
		p.playing = true
	}
	p.plays++
	return nil
}

func (p *ClockPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.available {
		return ErrPlayerUnavailable
	}
	if p.playing {
		p.base = p.positionLocked()
		p.baseAt = p.clock.Now()
		p.playing = false
	}
	p.pauses++
	return nil
}

// Counts returns how many seek, play and pause commands the player received
func (p *ClockPlayer) Counts() (seeks, plays, pauses int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seeks, p.plays, p.pauses
}

func (p *ClockPlayer) positionLocked() float64 {
	pos := p.base
	if p.playing {
		pos += p.clock.Since(p.baseAt).Seconds()
	}
	if p.duration > 0 && pos > p.duration {
		if p.loop {
			pos = math.Mod(pos, p.duration)
		} else {
			pos = p.duration
		}
	}
	return pos
}
