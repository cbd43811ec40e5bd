// Package session holds the per-session comparison reference and statistics.
//
// A State is owned by exactly one capture session. Every read or mutation goes
// through the same lock, so lifecycle calls (Reset, Snapshot) never interleave
// with an in-flight evaluation.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/phaysaal/seenslide-desktop/internal/decision"
	"github.com/phaysaal/seenslide-desktop/internal/fingerprint"
	"github.com/phaysaal/seenslide-desktop/internal/syncx"
)

// Reference is the fingerprint set of one accepted slide, one entry per configured kind.
type Reference map[fingerprint.Kind]fingerprint.Fingerprint

// History is the mutable session state. It is only reachable inside State.Txn.
type History struct {
	startedAt    time.Time
	depth        int
	current      Reference
	past         []Reference // most recent first
	sequence     uint64
	unique       uint64
	duplicate    uint64
	stageMatches map[fingerprint.Kind]uint64
}

func newHistory(depth int, now time.Time) History {
	return History{
		startedAt:    now,
		depth:        max(depth, 0),
		stageMatches: make(map[fingerprint.Kind]uint64),
	}
}

// HasReference reports whether a slide has been accepted yet.
func (h *History) HasReference() bool { return h.current != nil }

// Reference returns the current reference fingerprint for kind.
func (h *History) Reference(kind fingerprint.Kind) (fingerprint.Fingerprint, bool) {
	fp, ok := h.current[kind]
	return fp, ok
}

// Depth is the number of older accepted slides retained besides the current one.
func (h *History) Depth() int { return h.depth }

// Past returns the n-th older accepted slide (1 = the one before current).
func (h *History) Past(n int) (Reference, bool) {
	if n < 1 || n > len(h.past) {
		return nil, false
	}
	return h.past[n-1], true
}

// PastLen is the number of older references currently retained.
func (h *History) PastLen() int { return len(h.past) }

// Accept replaces the current reference and returns the new slide sequence number.
func (h *History) Accept(ref Reference) uint64 {
	if h.current != nil && h.depth > 0 {
		h.past = append([]Reference{h.current}, h.past...)
		if len(h.past) > h.depth {
			h.past = h.past[:h.depth]
		}
	}
	h.current = ref
	h.sequence++
	return h.sequence
}

// Record updates counters from a finished decision.
func (h *History) Record(rec decision.Record) {
	switch rec.Verdict {
	case decision.Unique:
		h.unique++
	case decision.Duplicate:
		h.duplicate++
		if s, ok := rec.Matched(); ok {
			h.stageMatches[s.Kind]++
		}
	}
}

// Sequence returns the last accepted slide number.
func (h *History) Sequence() uint64 { return h.sequence }

// Snapshot is a read-only view of session counters.
type Snapshot struct {
	SessionID      string            `json:"session_id"`
	StartedAt      time.Time         `json:"started_at"`
	UniqueCount    uint64            `json:"unique_count"`
	DuplicateCount uint64            `json:"duplicate_count"`
	Total          uint64            `json:"total"`
	RejectionRate  float64           `json:"rejection_rate"`
	Sequence       uint64            `json:"sequence"`
	StageMatches   map[string]uint64 `json:"stage_matches"`
	Strategy       string            `json:"strategy,omitempty"`
}

func (h *History) snapshot(id string) Snapshot {
	total := h.unique + h.duplicate
	rate := 0.0
	if total > 0 {
		rate = float64(h.duplicate) / float64(total)
	}
	matches := make(map[string]uint64, len(h.stageMatches))
	for k, n := range h.stageMatches {
		matches[k.String()] = n
	}
	return Snapshot{
		SessionID:      id,
		StartedAt:      h.startedAt,
		UniqueCount:    h.unique,
		DuplicateCount: h.duplicate,
		Total:          total,
		RejectionRate:  rate,
		Sequence:       h.sequence,
		StageMatches:   matches,
	}
}

// State guards one session's History.
type State struct {
	id    string
	depth int
	now   func() time.Time
	guard *syncx.Guard[History]
}

// New starts a session. An empty id gets a fresh UUID. depth is the number of
// older accepted slides kept for history search; 0 keeps only the last one.
func New(id string, depth int) *State {
	if id == "" {
		id = uuid.NewString()
	}
	s := &State{id: id, depth: depth, now: time.Now}
	s.guard = syncx.NewGuard(newHistory(depth, s.now()))
	return s
}

// ID returns the session identifier.
func (s *State) ID() string { return s.id }

// Txn runs fn under the session's exclusive lock.
func (s *State) Txn(fn func(*History) error) error {
	return s.guard.Txn(fn)
}

// Reset clears the reference and zeroes all counters.
func (s *State) Reset() {
	s.guard.Replace(newHistory(s.depth, s.now()))
}

// Snapshot returns current counters. Safe to call concurrently with evaluation.
func (s *State) Snapshot() Snapshot {
	return syncx.View(s.guard, func(h *History) Snapshot { return h.snapshot(s.id) })
}

// Reference returns a copy of the current reference set, nil before the first accept.
func (s *State) Reference() Reference {
	return syncx.View(s.guard, func(h *History) Reference {
		if h.current == nil {
			return nil
		}
		out := make(Reference, len(h.current))
		for k, v := range h.current {
			out[k] = v
		}
		return out
	})
}
