// Package breaker isolates failing providers.
//
// A Breaker counts consecutive failures inside a rolling window. Reaching
// the threshold opens it; once the reset timeout has elapsed the next
// Allow moves it to half-open and admits exactly one probe, whose outcome
// closes or re-opens it.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds breaker thresholds.
type Config struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Window bounds how far apart two failures may be and still count as
	// consecutive. Zero disables the window.
	Window time.Duration
	// ResetTimeout is the cooldown before an open circuit admits a probe.
	ResetTimeout time.Duration
}

// DefaultConfig returns threshold 5, window 5m, reset 60s.
func DefaultConfig() Config {
	return Config{
		Threshold:    5,
		Window:       5 * time.Minute,
		ResetTimeout: 60 * time.Second,
	}
}

// Clock returns the current time.
type Clock func() time.Time

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides time.Now.
func WithClock(c Clock) Option {
	return func(b *Breaker) { b.now = c }
}

// WithStateListener registers a callback fired on every transition.
// It runs with the breaker lock held and must not call back into the breaker.
func WithStateListener(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.listeners = append(b.listeners, fn) }
}

// Breaker is a per-provider circuit breaker. It is safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config
	now  Clock

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	probing     bool

	listeners []func(name string, from, to State)
}

// New creates a closed breaker.
func New(name string, cfg Config, opts ...Option) *Breaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
	}
	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	stateGauge.WithLabelValues(name).Set(float64(Closed))
	return b
}

// Name returns the provider name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. An open circuit whose cooldown
// has elapsed transitions to half-open and the caller becomes the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false
		}
		b.transition(HalfOpen)
		b.probing = true
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Available reports whether Allow would currently admit a call, without
// changing state. Registries use it to filter candidates.
func (b *Breaker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		return b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout
	default:
		return !b.probing
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state == HalfOpen {
		b.transition(Closed)
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.cfg.Window > 0 && !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.Window {
		b.failures = 0
	}
	b.failures++
	b.lastFailure = now

	switch b.state {
	case HalfOpen:
		b.probing = false
		b.openedAt = now
		b.transition(Open)
	case Closed:
		if b.failures >= b.cfg.Threshold {
			b.openedAt = now
			b.transition(Open)
		}
	}
}

// Release gives up a half-open probe without recording an outcome, for
// calls abandoned because the caller went away.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.probing = false
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State        State         `json:"state"`
	FailureCount int           `json:"failure_count"`
	LastFailure  time.Time     `json:"last_failure,omitempty"`
	ResetTimeout time.Duration `json:"reset_timeout"`
}

// Snapshot returns the current breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:        b.state,
		FailureCount: b.failures,
		LastFailure:  b.lastFailure,
		ResetTimeout: b.cfg.ResetTimeout,
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	stateGauge.WithLabelValues(b.name).Set(float64(to))
	transitionsTotal.WithLabelValues(b.name, to.String()).Inc()
	for _, fn := range b.listeners {
		fn(b.name, from, to)
	}
}
