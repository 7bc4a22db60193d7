// Package resilience provides the cross-cutting failure-handling primitives
// for Earshot: a three-state circuit breaker, a per-operation failure tracker
// that raises warning events, and retry/fallback helpers with exponential
// backoff.
//
// The package has no globals — breakers and trackers are injected at wire-up
// so tests can substitute their own instances. All types are safe for
// concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] when the breaker is open and the
// reset timeout has not yet elapsed. Callers treat it like any other external
// unavailability: the work is skipped, never surfaced to the client.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed is the normal state — calls pass through.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects all calls with [ErrCircuitOpen] until the reset
	// timeout elapses.
	BreakerOpen

	// BreakerHalfOpen admits probe calls after the reset timeout. Enough
	// consecutive successes close the breaker; any failure re-opens it.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the tuning knobs for a [Breaker]. Zero values are
// replaced with defaults by [NewBreaker].
type BreakerConfig struct {
	// Name labels the breaker in logs and in the /errors report.
	Name string

	// FailureThreshold is the number of consecutive failures in the closed
	// state before the breaker opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open (measured from the last
	// failure) before a probe call is admitted. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is the number of consecutive successful probe calls
	// required to close the breaker again. Default: 3.
	HalfOpenProbes int
}

// Breaker is a three-state circuit breaker guarding one named external
// operation (the STT stream, the LLM endpoint).
type Breaker struct {
	name           string
	threshold      int
	resetTimeout   time.Duration
	halfOpenProbes int

	mu          sync.Mutex
	state       BreakerState
	failures    int // consecutive failures while closed
	probeOK     int // consecutive probe successes while half-open
	lastFailure time.Time
}

// NewBreaker creates a [Breaker] from cfg, substituting defaults for zero
// fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 3
	}
	return &Breaker{
		name:           cfg.Name,
		threshold:      cfg.FailureThreshold,
		resetTimeout:   cfg.ResetTimeout,
		halfOpenProbes: cfg.HalfOpenProbes,
	}
}

// Do runs fn if the breaker admits the call, and feeds the outcome back into
// the state machine. When the breaker is open and the reset timeout has not
// elapsed, fn is not called and [ErrCircuitOpen] is returned.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// admit decides whether a call may proceed, performing the open → half-open
// transition when the reset timeout has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if time.Since(b.lastFailure) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.probeOK = 0
		slog.Info("circuit breaker half-open", "name", b.name)
	}
	return nil
}

// record feeds one call outcome into the state machine.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		if err != nil {
			// Any probe failure re-opens immediately.
			b.state = BreakerOpen
			b.lastFailure = time.Now()
			slog.Warn("circuit breaker re-opened", "name", b.name)
			return
		}
		b.probeOK++
		if b.probeOK >= b.halfOpenProbes {
			b.state = BreakerClosed
			b.failures = 0
			slog.Info("circuit breaker closed", "name", b.name)
		}

	default: // closed
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		b.lastFailure = time.Now()
		if b.failures >= b.threshold {
			b.state = BreakerOpen
			slog.Warn("circuit breaker opened",
				"name", b.name, "consecutive_failures", b.failures)
		}
	}
}

// State returns the current state. A breaker that is open but past its reset
// timeout reports [BreakerHalfOpen]; the actual transition happens on the
// next [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.resetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Name returns the breaker's label.
func (b *Breaker) Name() string { return b.name }

// Reset forces the breaker back to closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probeOK = 0
}
