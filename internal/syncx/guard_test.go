package syncx

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refs struct{ accepted []string }

func TestTxnMutates(t *testing.T) {
	g := NewGuard(refs{})

	require.NoError(t, g.Txn(func(r *refs) error {
		r.accepted = append(r.accepted, "slide-1")
		return nil
	}))

	assert.Equal(t, 1, View(g, func(r *refs) int { return len(r.accepted) }))
}

func TestTxnReturnsError(t *testing.T) {
	g := NewGuard(refs{})
	errKind := errors.New("kind mismatch")

	err := g.Txn(func(*refs) error { return errKind })

	assert.ErrorIs(t, err, errKind)
}

func TestReplaceReturnsPrevious(t *testing.T) {
	g := NewGuard(refs{accepted: []string{"a", "b"}})

	old := g.Replace(refs{})

	assert.Len(t, old.accepted, 2)
	assert.Empty(t, View(g, func(r *refs) []string { return r.accepted }))
}

func TestConcurrentTxn(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = g.Txn(func(v *int) error { *v++; return nil })
		}()
		go func() {
			defer wg.Done()
			_ = View(g, func(v *int) int { return *v })
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, View(g, func(v *int) int { return *v }))
}
