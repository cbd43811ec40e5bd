// Package orchestrator runs dedup sessions over a capture source
package orchestrator

import (
	"context"
	"sync"

	"github.com/phaysaal/seenslide-desktop/internal/capture"
	"github.com/phaysaal/seenslide-desktop/internal/decision"
	"github.com/phaysaal/seenslide-desktop/internal/dedup"
	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
	"github.com/phaysaal/seenslide-desktop/internal/orchestrator/recent"
	"github.com/phaysaal/seenslide-desktop/internal/orchestrator/screen"
	"github.com/phaysaal/seenslide-desktop/internal/session"
	"github.com/phaysaal/seenslide-desktop/internal/trace"
)

// Options configures a Manager.
type Options struct {
	CaptureRate float64
	// Strategy is used when StartSession is given no strategy.
	Strategy   dedup.Config
	RecentSize int
}

// StartRequest describes a new session. Zero values fall back to Manager defaults.
type StartRequest struct {
	SessionID string        `json:"session_id,omitempty"`
	Strategy  *dedup.Config `json:"strategy,omitempty"`
}

// StateFunc observes session start and stop.
type StateFunc func(active bool, snap session.Snapshot)

// run is one active session and its capture loop.
type run struct {
	owner  *Manager
	engine *dedup.Engine
	state  *session.State
	proc   *screen.Processor
	cancel context.CancelFunc
	done   chan struct{}

	// mu is held for reading from evaluation until the record is stored, so a
	// reset never interleaves with a frame in flight.
	mu sync.RWMutex
}

// ProcessFrame evaluates f against this run's session.
func (r *run) ProcessFrame(ctx context.Context, f frame.CaptureFrame) (decision.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, err := r.engine.Evaluate(ctx, r.state, f)
	if err != nil {
		return rec, err
	}
	r.owner.remember(r, rec)
	return rec, nil
}

// reset clears the session and the recent decisions as one step.
func (r *run) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Reset()
	r.owner.recent.Clear()
}

func (r *run) snapshot() session.Snapshot {
	snap := r.state.Snapshot()
	snap.Strategy = r.engine.Config().Name()
	return snap
}

// Manager coordinates the capture source, the dedup engine and session lifecycle.
// At most one session is active at a time.
type Manager struct {
	source   capture.Source
	notifier dedup.Notifier
	opts     Options
	recent   *recent.Store

	mu       sync.RWMutex
	active   *run
	last     session.Snapshot
	onChange StateFunc
}

// New creates a new manager. A nil source means frames arrive only through ProcessFrame.
func New(source capture.Source, notifier dedup.Notifier, opts Options) *Manager {
	if opts.CaptureRate <= 0 {
		opts.CaptureRate = DefaultCaptureRate
	}
	if opts.RecentSize <= 0 {
		opts.RecentSize = DefaultRecentSize
	}
	if len(opts.Strategy.Stages) == 0 {
		opts.Strategy = dedup.HybridConfig(dedup.DefaultThreshold)
	}
	return &Manager{
		source:   source,
		notifier: notifier,
		opts:     opts,
		recent:   recent.NewStore(opts.RecentSize),
	}
}

// OnStateChange registers fn to be called after a session starts or stops.
func (m *Manager) OnStateChange(fn StateFunc) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// DefaultStrategy returns the strategy used when a start request names none.
func (m *Manager) DefaultStrategy() dedup.Config { return m.opts.Strategy }

// StartSession validates the strategy, opens a fresh session and starts the capture loop.
func (m *Manager) StartSession(ctx context.Context, req StartRequest) (session.Snapshot, error) {
	cfg := m.opts.Strategy
	if req.Strategy != nil {
		cfg = *req.Strategy
	}
	opts := []dedup.Option{}
	if m.notifier != nil {
		opts = append(opts, dedup.WithNotifier(m.notifier))
	}
	engine, err := dedup.New(cfg, opts...)
	if err != nil {
		return session.Snapshot{}, err
	}

	m.mu.Lock()
	if m.active != nil {
		id := m.active.state.ID()
		m.mu.Unlock()
		return session.Snapshot{}, apperrors.Newf(apperrors.CodeSessionAlreadyActive, "session %s is already active", id).
			WithMetadata("session_id", id)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		owner:  m,
		engine: engine,
		state:  engine.NewSession(req.SessionID),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.proc = screen.NewProcessor(m.source, r)
	m.recent.Clear()
	m.active = r
	onChange := m.onChange
	m.mu.Unlock()

	snap := r.snapshot()
	trace.Logger(ctx).Info("session started", "session_id", snap.SessionID, "strategy", snap.Strategy,
		"history_depth", engine.Config().HistoryDepth)

	if onChange != nil {
		onChange(true, snap)
	}
	if m.source != nil {
		go m.loop(runCtx, r)
	} else {
		close(r.done)
	}
	return snap, nil
}

func (m *Manager) loop(ctx context.Context, r *run) {
	err := r.proc.Run(ctx, m.opts.CaptureRate, nil)
	if err != nil {
		trace.Logger(ctx).Error("session aborted", "session_id", r.state.ID(), "error", err)
	}
	m.finish(r)
	close(r.done)
}

// finish ends r if it is still the active run. Used when the loop exits on its own.
func (m *Manager) finish(r *run) {
	m.mu.Lock()
	if m.active != r {
		m.mu.Unlock()
		return
	}
	m.active = nil
	snap := r.snapshot()
	m.last = snap
	onChange := m.onChange
	m.mu.Unlock()

	r.cancel()
	trace.Logger(context.Background()).Info("session ended", "session_id", snap.SessionID,
		"unique", snap.UniqueCount, "duplicate", snap.DuplicateCount)
	if onChange != nil {
		onChange(false, snap)
	}
}

// StopSession stops the capture loop and returns the final statistics.
func (m *Manager) StopSession() (session.Snapshot, error) {
	m.mu.Lock()
	r := m.active
	if r == nil {
		m.mu.Unlock()
		return session.Snapshot{}, apperrors.New(apperrors.CodeSessionNotActive, "no active session")
	}
	m.active = nil
	onChange := m.onChange
	m.mu.Unlock()

	r.cancel()
	<-r.done

	snap := r.snapshot()
	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	r.state.Reset()
	trace.Logger(context.Background()).Info("session stopped", "session_id", snap.SessionID,
		"unique", snap.UniqueCount, "duplicate", snap.DuplicateCount, "rejection_rate", snap.RejectionRate)
	if onChange != nil {
		onChange(false, snap)
	}
	return snap, nil
}

// ResetSession clears the reference and counters of the active session. The strategy is kept.
func (m *Manager) ResetSession() (session.Snapshot, error) {
	m.mu.RLock()
	r := m.active
	m.mu.RUnlock()
	if r == nil {
		return session.Snapshot{}, apperrors.New(apperrors.CodeSessionNotActive, "no active session")
	}
	r.reset()
	trace.Logger(context.Background()).Info("session reset", "session_id", r.state.ID())
	return r.snapshot(), nil
}

// Snapshot returns the active session's statistics, or the last finished
// session's with active false.
func (m *Manager) Snapshot() (session.Snapshot, bool) {
	m.mu.RLock()
	r, last := m.active, m.last
	m.mu.RUnlock()
	if r == nil {
		return last, false
	}
	return r.snapshot(), true
}

// Active reports whether a session is running.
func (m *Manager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active != nil
}

// ProcessFrame evaluates one frame against the active session.
func (m *Manager) ProcessFrame(ctx context.Context, f frame.CaptureFrame) (decision.Record, error) {
	m.mu.RLock()
	r := m.active
	m.mu.RUnlock()
	if r == nil {
		return decision.Record{}, apperrors.New(apperrors.CodeSessionNotActive, "no active session")
	}
	return r.ProcessFrame(ctx, f)
}

// remember stores rec unless r has been stopped or replaced since it was evaluated.
func (m *Manager) remember(r *run, rec decision.Record) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == r {
		m.recent.Add(rec)
	}
}

// Recent returns up to n recent decisions, newest first.
func (m *Manager) Recent(n int) []decision.Record {
	return m.recent.Latest(n)
}

// CaptureStats returns capture loop counters for the active session.
func (m *Manager) CaptureStats() (screen.Stats, bool) {
	m.mu.RLock()
	r := m.active
	m.mu.RUnlock()
	if r == nil {
		return screen.Stats{}, false
	}
	return r.proc.Stats(), true
}

// Stop ends any active session and closes the capture source.
func (m *Manager) Stop() {
	if _, err := m.StopSession(); err != nil && !apperrors.IsCode(err, apperrors.CodeSessionNotActive) {
		trace.Logger(context.Background()).Warn("stop session failed", "error", err)
	}
	if m.source != nil {
		if err := m.source.Close(); err != nil {
			trace.Logger(context.Background()).Warn("close capture source failed", "error", err)
		}
	}
}
