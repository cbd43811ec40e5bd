package orchestrator

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phaysaal/seenslide-desktop/internal/decision"
	"github.com/phaysaal/seenslide-desktop/internal/dedup"
	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
	"github.com/phaysaal/seenslide-desktop/internal/session"
)

func solid(id string, shade byte) frame.CaptureFrame {
	const w, h = 16, 16
	pix := make([]byte, w*h*frame.BytesPerPixel)
	for i := 0; i < len(pix); i += frame.BytesPerPixel {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = shade, shade, shade, 255
	}
	return frame.CaptureFrame{Pix: pix, Width: w, Height: h, CaptureID: id, Timestamp: time.Now()}
}

type scriptedSource struct {
	mu     sync.Mutex
	frames []frame.CaptureFrame
	closed bool
}

func (s *scriptedSource) Capture(context.Context) (frame.CaptureFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return frame.CaptureFrame{}, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type stateEvents struct {
	mu     sync.Mutex
	events []bool
	stops  chan session.Snapshot
}

func newStateEvents() *stateEvents { return &stateEvents{stops: make(chan session.Snapshot, 4)} }

func (s *stateEvents) observe(active bool, snap session.Snapshot) {
	s.mu.Lock()
	s.events = append(s.events, active)
	s.mu.Unlock()
	if !active {
		s.stops <- snap
	}
}

func TestManualSessionLifecycle(t *testing.T) {
	m := New(nil, nil, Options{Strategy: dedup.ExactConfig()})
	ctx := context.Background()

	_, err := m.ProcessFrame(ctx, solid("a", 10))
	require.True(t, apperrors.IsCode(err, apperrors.CodeSessionNotActive))

	snap, err := m.StartSession(ctx, StartRequest{SessionID: "talk-1"})
	require.NoError(t, err)
	assert.Equal(t, "talk-1", snap.SessionID)
	assert.Equal(t, dedup.StrategyExact, snap.Strategy)
	assert.True(t, m.Active())

	_, err = m.StartSession(ctx, StartRequest{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSessionAlreadyActive))

	for _, f := range []frame.CaptureFrame{solid("a", 10), solid("b", 10), solid("c", 20), solid("d", 20)} {
		_, err := m.ProcessFrame(ctx, f)
		require.NoError(t, err)
	}

	live, active := m.Snapshot()
	require.True(t, active)
	assert.Equal(t, uint64(2), live.UniqueCount)
	assert.Equal(t, uint64(2), live.DuplicateCount)
	assert.InDelta(t, 0.5, live.RejectionRate, 1e-9)

	recent := m.Recent(0)
	require.Len(t, recent, 4)
	assert.Equal(t, "d", recent[0].CaptureID)
	assert.Equal(t, decision.Duplicate, recent[0].Verdict)

	final, err := m.StopSession()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), final.Total)
	assert.False(t, m.Active())

	last, active := m.Snapshot()
	assert.False(t, active)
	assert.Equal(t, final, last)

	_, err = m.StopSession()
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSessionNotActive))
}

func TestResetKeepsSessionAndStrategy(t *testing.T) {
	m := New(nil, nil, Options{})
	ctx := context.Background()

	_, err := m.ResetSession()
	require.True(t, apperrors.IsCode(err, apperrors.CodeSessionNotActive))

	_, err = m.StartSession(ctx, StartRequest{SessionID: "s"})
	require.NoError(t, err)
	_, err = m.ProcessFrame(ctx, solid("a", 10))
	require.NoError(t, err)

	snap, err := m.ResetSession()
	require.NoError(t, err)
	assert.Equal(t, "s", snap.SessionID)
	assert.Equal(t, dedup.StrategyHybrid, snap.Strategy)
	assert.Zero(t, snap.Total)
	assert.Empty(t, m.Recent(0))

	rec, err := m.ProcessFrame(ctx, solid("a", 10))
	require.NoError(t, err)
	assert.Equal(t, decision.Unique, rec.Verdict, "first frame after reset is unique")
}

func TestResetWaitsForFrameInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	notifier := dedup.NotifierFunc(func(context.Context, decision.Record, frame.View, frame.View) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	m := New(nil, notifier, Options{Strategy: dedup.ExactConfig()})
	ctx := context.Background()
	_, err := m.StartSession(ctx, StartRequest{})
	require.NoError(t, err)

	processed := make(chan error, 1)
	go func() {
		_, err := m.ProcessFrame(ctx, solid("a", 10))
		processed <- err
	}()
	<-entered

	reset := make(chan session.Snapshot, 1)
	go func() {
		snap, err := m.ResetSession()
		assert.NoError(t, err)
		reset <- snap
	}()

	select {
	case <-reset:
		t.Fatal("reset completed while a frame was being evaluated")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-processed)
	snap := <-reset

	assert.Zero(t, snap.Total)
	assert.Empty(t, m.Recent(0), "a decision made before the reset must not survive it")

	rec, err := m.ProcessFrame(ctx, solid("a", 10))
	require.NoError(t, err)
	assert.Equal(t, decision.Unique, rec.Verdict)
	assert.Len(t, m.Recent(0), 1)
}

func TestStaleRunDoesNotRecordIntoNextSession(t *testing.T) {
	m := New(nil, nil, Options{Strategy: dedup.ExactConfig()})
	ctx := context.Background()

	_, err := m.StartSession(ctx, StartRequest{SessionID: "first"})
	require.NoError(t, err)
	m.mu.RLock()
	stale := m.active
	m.mu.RUnlock()
	_, err = m.StopSession()
	require.NoError(t, err)

	_, err = m.StartSession(ctx, StartRequest{SessionID: "second"})
	require.NoError(t, err)
	_, err = stale.ProcessFrame(ctx, solid("late", 10))
	require.NoError(t, err)

	assert.Empty(t, m.Recent(0))
}

func TestStartSessionRejectsInvalidStrategy(t *testing.T) {
	m := New(nil, nil, Options{})

	_, err := m.StartSession(context.Background(), StartRequest{Strategy: &dedup.Config{}})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeEmptyStages))
	assert.False(t, m.Active())
}

func TestCaptureLoopEndsWhenSourceExhausted(t *testing.T) {
	src := &scriptedSource{frames: []frame.CaptureFrame{solid("a", 10), solid("b", 10), solid("c", 200)}}
	events := newStateEvents()
	m := New(src, nil, Options{CaptureRate: 1000, Strategy: dedup.ExactConfig()})
	m.OnStateChange(events.observe)

	_, err := m.StartSession(context.Background(), StartRequest{})
	require.NoError(t, err)

	select {
	case snap := <-events.stops:
		assert.Equal(t, uint64(2), snap.UniqueCount)
		assert.Equal(t, uint64(1), snap.DuplicateCount)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after the source was exhausted")
	}
	assert.False(t, m.Active())

	events.mu.Lock()
	assert.Equal(t, []bool{true, false}, events.events)
	events.mu.Unlock()
}

func TestConfigErrorAbortsSession(t *testing.T) {
	cfg := dedup.ExactConfig()
	cfg.Crop = &frame.Region{X: 0, Y: 0, W: 64, H: 64}
	src := &scriptedSource{frames: []frame.CaptureFrame{solid("a", 10), solid("b", 10)}}
	events := newStateEvents()
	m := New(src, nil, Options{CaptureRate: 1000, Strategy: cfg})
	m.OnStateChange(events.observe)

	_, err := m.StartSession(context.Background(), StartRequest{})
	require.NoError(t, err)

	select {
	case snap := <-events.stops:
		assert.Zero(t, snap.Total)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not abort on crop region error")
	}

	src.mu.Lock()
	remaining := len(src.frames)
	src.mu.Unlock()
	assert.Equal(t, 1, remaining, "loop should stop at the first frame")
}

func TestNotifierReceivesDecisions(t *testing.T) {
	var mu sync.Mutex
	var verdicts []decision.Verdict
	notifier := dedup.NotifierFunc(func(_ context.Context, rec decision.Record, original, _ frame.View) {
		mu.Lock()
		verdicts = append(verdicts, rec.Verdict)
		mu.Unlock()
		assert.False(t, original.Empty())
	})
	m := New(nil, notifier, Options{Strategy: dedup.ExactConfig()})
	ctx := context.Background()

	_, err := m.StartSession(ctx, StartRequest{})
	require.NoError(t, err)
	for _, f := range []frame.CaptureFrame{solid("a", 1), solid("b", 1)} {
		_, err := m.ProcessFrame(ctx, f)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []decision.Verdict{decision.Unique, decision.Duplicate}, verdicts)
}

func TestStopClosesSource(t *testing.T) {
	src := &scriptedSource{}
	m := New(src, nil, Options{})

	m.Stop()

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.True(t, src.closed)
}
