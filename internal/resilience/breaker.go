// Package resilience keeps meeting-notes generation working when an LLM
// backend misbehaves. A [Breaker] tracks one backend's health; [LLMFallback]
// chains backends behind their breakers so a completion request falls through
// to the next healthy model instead of failing the note.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the backend is cooling
// down after repeated failures.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// BreakerState is the health mode of a [Breaker].
type BreakerState uint8

const (
	// BreakerClosed is the healthy mode; calls pass through.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrBreakerOpen] until the cooldown
	// elapses.
	BreakerOpen

	// BreakerProbing lets calls through again after the cooldown; a failure
	// re-opens, enough successes close.
	BreakerProbing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. The zero value gets usable defaults.
type BreakerConfig struct {
	// Name labels the backend in log messages.
	Name string

	// Threshold is how many consecutive failures open the breaker. Default: 3.
	Threshold int

	// Cooldown is how long the breaker stays open before probing. Default: 30s.
	Cooldown time.Duration

	// Probes is how many consecutive successes close a probing breaker.
	// Default: 1.
	Probes int
}

// Breaker guards calls to one notes backend. After Threshold consecutive
// failures it rejects calls for Cooldown, then probes; Probes consecutive
// successes restore it. Safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probeOK  int
}

// NewBreaker creates a [Breaker], filling zero config fields with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		probes:    cfg.Probes,
	}
}

// Do runs fn if the breaker allows it and folds the result into the health
// accounting. While open and cooling down it returns [ErrBreakerOpen] without
// calling fn.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerProbing
		b.probeOK = 0
		slog.Info("resilience: breaker probing", "backend", b.name)
	}
	probing := b.state == BreakerProbing
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if probing || b.failures >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = time.Now()
			slog.Warn("resilience: breaker opened", "backend", b.name, "failures", b.failures)
		}
		return err
	}
	if probing {
		b.probeOK++
		if b.probeOK >= b.probes {
			b.state = BreakerClosed
			b.failures = 0
			slog.Info("resilience: breaker closed", "backend", b.name)
		}
		return nil
	}
	b.failures = 0
	return nil
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports [BreakerProbing]; the transition itself happens on the next
// Do call.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cooldown {
		return BreakerProbing
	}
	return b.state
}
