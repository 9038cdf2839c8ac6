// Package circuitbreaker implements the circuit breaker pattern for outbound providers.
//
// A breaker tracks consecutive provider failures and temporarily blocks calls to a
// provider that keeps failing, so queued jobs fail fast instead of each waiting out
// a full provider timeout.
//
// States:
//   - Closed: Normal operation, calls allowed
//   - Open: Too many failures, calls blocked until the cooldown elapses
//   - HalfOpen: Cooldown elapsed, a single probe call is allowed
package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	Closed   State = iota // Normal operation, calls allowed
	Open                  // Failing, calls blocked
	HalfOpen              // Probing whether the provider recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int           // Consecutive failures before the circuit opens (default: 5)
	Cooldown  time.Duration // Time in open state before a probe is allowed (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// Breaker guards calls to a single provider.
type Breaker struct {
	name   string
	config Config

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures
	openedAt time.Time // when the circuit last opened
	probing  bool      // a half-open probe is in flight
}

// New creates a new circuit breaker for the named provider.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:   name,
		config: cfg.withDefaults(),
		state:  Closed,
	}
}

// Name returns the provider key the breaker guards.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call should be attempted. In half-open state only
// the first caller gets through until that probe records its outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.config.Cooldown {
			return false
		}
		b.transition(HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// RetryAfter returns how long until an open circuit admits a probe.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return 0
	}
	if remaining := b.config.Cooldown - time.Since(b.openedAt); remaining > 0 {
		return remaining
	}
	return 0
}

// RecordSuccess records a successful call and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	b.transition(Closed)
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probing = false

	if b.state == HalfOpen || b.failures >= b.config.Threshold {
		b.openedAt = time.Now()
		b.transition(Open)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	slog.Info("Circuit breaker state change",
		"component", "circuitbreaker",
		"provider", b.name,
		"from", b.state.String(),
		"to", to.String(),
		"failures", b.failures,
	)
	b.state = to
}
