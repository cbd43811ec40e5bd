// Package recent keeps a bounded, in-memory window of recent decisions for the status API
package recent

import (
	"sync"
	"time"

	"github.com/phaysaal/seenslide-desktop/internal/decision"
)

// Store is a bounded ring of decision records, oldest first.
type Store struct {
	mu      sync.RWMutex
	entries []decision.Record
	maxSize int
}

// NewStore creates a store keeping at most maxEntries records.
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Store{
		entries: make([]decision.Record, 0, maxEntries),
		maxSize: maxEntries,
	}
}

// Add appends a record, evicting the oldest beyond capacity.
func (s *Store) Add(rec decision.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, rec)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
}

// Latest returns up to n records, newest first. n <= 0 returns all.
func (s *Store) Latest(n int) []decision.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]decision.Record, 0, n)
	for i := len(s.entries) - 1; i >= len(s.entries)-n; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// Since returns records timestamped within the last d, oldest first.
func (s *Store) Since(d time.Duration) []decision.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-d)
	var out []decision.Record
	for _, e := range s.entries {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Accepted returns the UNIQUE records currently retained, oldest first.
func (s *Store) Accepted() []decision.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []decision.Record
	for _, e := range s.entries {
		if e.Verdict == decision.Unique {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear drops all records.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
}
