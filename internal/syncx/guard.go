// Package syncx holds small lock helpers shared by the session code.
package syncx

import "sync"

// Guard keeps a value behind an RWMutex. Callers only reach the value
// inside a callback, so the lock can never be forgotten.
type Guard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard wraps initial.
func NewGuard[T any](initial T) *Guard[T] {
	return &Guard[T]{value: initial}
}

// Txn runs fn under the write lock and returns its error. fn must not keep
// the pointer.
func (g *Guard[T]) Txn(fn func(*T) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}

// Replace swaps in v and returns the previous value.
func (g *Guard[T]) Replace(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// View runs fn under the read lock and returns what it derives.
func View[T, R any](g *Guard[T], fn func(*T) R) R {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(&g.value)
}
