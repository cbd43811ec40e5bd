package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phaysaal/seenslide-desktop/internal/decision"
)

func receive(t *testing.T, ch <-chan decision.Record) decision.Record {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decision")
		return decision.Record{}
	}
}

func TestPublishDecisionRoutesByVerdict(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all, err := bus.Subscribe(ctx, TopicDecisions)
	require.NoError(t, err)
	unique, err := bus.Subscribe(ctx, TopicUnique)
	require.NoError(t, err)

	require.NoError(t, bus.PublishDecision(ctx, decision.Record{CaptureID: "a", Verdict: decision.Unique, Sequence: 1}))
	require.NoError(t, bus.PublishDecision(ctx, decision.Record{CaptureID: "b", Verdict: decision.Duplicate, MatchedStage: 0}))

	assert.Equal(t, "a", receive(t, all).CaptureID)
	assert.Equal(t, "b", receive(t, all).CaptureID)

	got := receive(t, unique)
	assert.Equal(t, "a", got.CaptureID)
	assert.Equal(t, uint64(1), got.Sequence)

	select {
	case rec := <-unique:
		t.Errorf("duplicate %s leaked onto %s", rec.CaptureID, TopicUnique)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeEndsOnClose(t *testing.T) {
	bus := NewBus(0)
	ch, err := bus.Subscribe(context.Background(), TopicDecisions)
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}
