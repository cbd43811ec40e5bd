// Package resilience keeps a failing diagnostic sink from slowing down the
// dedup pipeline: a circuit breaker that skips the sink while it is broken
// and a short retry loop for transient disk errors.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// MarshalText lets State appear as a word in JSON health output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText is the inverse of MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "closed":
		*s = Closed
	case "open":
		*s = Open
	case "half-open":
		*s = HalfOpen
	default:
		return fmt.Errorf("unknown breaker state %q", b)
	}
	return nil
}

// ErrOpen is returned without calling the sink while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Failures  int       `json:"consecutive_failures"`
	Trips     uint64    `json:"trips"`
	LastError string    `json:"last_error,omitempty"`
	OpenedAt  time.Time `json:"opened_at,omitzero"`
}

// Option customises a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithHook is called on every state change, outside the breaker lock.
func WithHook(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.hook = fn }
}

// Breaker counts consecutive sink failures. After TripAfter of them it opens
// and rejects calls until Cooldown has passed; then a trial call decides
// whether it closes again or reopens.
type Breaker struct {
	cfg  Config
	now  func() time.Time
	hook func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	trials   int
	trips    uint64
	openedAt time.Time
	lastErr  error
}

// New builds a closed breaker.
func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{cfg: cfg.normalize(), now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs fn unless the breaker is open, and records its outcome.
// Context errors are returned as is and do not count as sink failures.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	b.Record(err)
	return err
}

// Allow reports whether a call may go through, moving an open breaker to
// half-open once the cooldown has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	if b.state != Open {
		b.mu.Unlock()
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
		b.mu.Unlock()
		return ErrOpen
	}
	from := b.moveLocked(HalfOpen)
	b.mu.Unlock()
	b.notify(from, HalfOpen)
	return nil
}

// Record feeds one call result into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	var from, to State
	changed := false

	if err == nil {
		b.failures = 0
		if b.state == HalfOpen {
			b.trials++
			if b.trials >= b.cfg.TrialsToHeal {
				from, to, changed = b.moveLocked(Closed), Closed, true
			}
		}
	} else {
		b.failures++
		b.lastErr = err
		if b.state == HalfOpen || (b.state == Closed && b.failures >= b.cfg.TripAfter) {
			from, to, changed = b.moveLocked(Open), Open, true
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
}

// Reset closes the breaker and forgets failures. Trips are kept.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.moveLocked(Closed)
	b.failures = 0
	b.lastErr = nil
	b.mu.Unlock()
	if from != Closed {
		b.notify(from, Closed)
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot for health reporting.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Stats{
		Name:     b.cfg.Name,
		State:    b.state,
		Failures: b.failures,
		Trips:    b.trips,
	}
	if b.lastErr != nil {
		s.LastError = b.lastErr.Error()
	}
	if b.state != Closed {
		s.OpenedAt = b.openedAt
	}
	return s
}

func (b *Breaker) moveLocked(to State) State {
	from := b.state
	b.state = to
	b.trials = 0
	switch to {
	case Open:
		b.openedAt = b.now()
		b.trips++
	case Closed:
		b.failures = 0
	}
	return from
}

func (b *Breaker) notify(from, to State) {
	switch to {
	case Open:
		slog.Warn("diagnostic sink disabled", "breaker", b.cfg.Name, "cooldown", b.cfg.Cooldown)
	case Closed:
		slog.Info("diagnostic sink restored", "breaker", b.cfg.Name)
	default:
		slog.Debug("probing diagnostic sink", "breaker", b.cfg.Name)
	}
	if b.hook != nil {
		b.hook(b.cfg.Name, from, to)
	}
}
