package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phaysaal/seenslide-desktop/internal/decision"
	"github.com/phaysaal/seenslide-desktop/internal/dedup"
	"github.com/phaysaal/seenslide-desktop/internal/diagnostics"
	"github.com/phaysaal/seenslide-desktop/internal/events"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
	"github.com/phaysaal/seenslide-desktop/internal/orchestrator"
	"github.com/phaysaal/seenslide-desktop/internal/resilience"
)

func solid(id string, shade byte) frame.CaptureFrame {
	const w, h = 8, 8
	pix := make([]byte, w*h*frame.BytesPerPixel)
	for i := 0; i < len(pix); i += frame.BytesPerPixel {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = shade, shade, shade, 255
	}
	return frame.CaptureFrame{Pix: pix, Width: w, Height: h, CaptureID: id, Timestamp: time.Now()}
}

type fixedStats struct{ s diagnostics.Stats }

func (f fixedStats) Stats() diagnostics.Stats { return f.s }

type fixture struct {
	mgr *orchestrator.Manager
	bus *events.Bus
	srv *Server
	h   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := events.NewBus(events.DefaultBuffer)
	t.Cleanup(func() { _ = bus.Close() })

	notifier := dedup.NotifierFunc(func(ctx context.Context, rec decision.Record, _, _ frame.View) {
		_ = bus.PublishDecision(ctx, rec)
	})
	mgr := orchestrator.New(nil, notifier, orchestrator.Options{Strategy: dedup.ExactConfig()})
	srv := New(mgr, bus, fixedStats{diagnostics.Stats{Delivered: 3}})
	return &fixture{mgr: mgr, bus: bus, srv: srv, h: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/session/start", http.NoBody)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, called, "preflight must not reach the API")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "traceparent")
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORSSimpleRequest(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", http.NoBody))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "x-trace-id")
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SESSION_NOT_ACTIVE", decode[errorBody](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/api/session/start", `{"session_id":"lecture-7"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decode[SnapshotMessage](t, rec)
	assert.Equal(t, "lecture-7", started.Session.SessionID)
	assert.Equal(t, dedup.StrategyExact, started.Session.Strategy)

	rec = f.do(t, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SESSION_ALREADY_ACTIVE", decode[errorBody](t, rec).Error)

	ctx := context.Background()
	for _, fr := range []frame.CaptureFrame{solid("a", 1), solid("b", 1), solid("c", 9)} {
		_, err := f.mgr.ProcessFrame(ctx, fr)
		require.NoError(t, err)
	}

	rec = f.do(t, http.MethodGet, "/api/session", "")
	current := decode[sessionResponse](t, rec)
	assert.True(t, current.Active)
	assert.Equal(t, uint64(2), current.Session.UniqueCount)
	assert.Equal(t, uint64(1), current.Session.DuplicateCount)

	rec = f.do(t, http.MethodGet, "/api/decisions?limit=2", "")
	recs := decode[[]decision.Record](t, rec)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].CaptureID)
	assert.Equal(t, decision.Duplicate, recs[1].Verdict)

	rec = f.do(t, http.MethodPost, "/api/session/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[SnapshotMessage](t, rec).Session.Total)

	rec = f.do(t, http.MethodPost, "/api/session/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lecture-7", decode[SnapshotMessage](t, rec).Session.SessionID)
}

func TestStartWithEmptyBodyUsesDefaults(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session/start", strings.NewReader(""))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, dedup.StrategyExact, decode[SnapshotMessage](t, rec).Session.Strategy)

	_, _ = f.mgr.StopSession()
	rec = f.do(t, http.MethodPost, "/api/session/start", `{"session_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CONFIG_INVALID", decode[errorBody](t, rec).Error)
}

func TestStartRejectsBadStrategy(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"unknown strategy", `{"strategy":"fuzzy"}`, "CONFIG_INVALID"},
		{"threshold out of range", `{"threshold":1.2}`, "CONFIG_INVALID"},
		{"bad crop", `{"crop_region":"0,0,-1,5"}`, "CONFIG_INVALID_CROP_REGION"},
		{"bad hash size", `{"hash_size":5}`, "CONFIG_INVALID_HASH_SIZE"},
		{"malformed json", `{"strategy":`, "CONFIG_INVALID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/api/session/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[errorBody](t, rec).Error)
			assert.False(t, f.mgr.Active())
		})
	}
}

func TestStartWithTolerance(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/session/start", `{"strategy":"perceptual","tolerance":10,"history_depth":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, dedup.StrategyPerceptual, decode[SnapshotMessage](t, rec).Session.Strategy)
}

func TestStartBodyStrategy(t *testing.T) {
	def := dedup.HybridConfig(0.95)
	def.HistoryDepth = 1

	got, err := StartBody{}.Build(def)
	require.NoError(t, err)
	assert.Nil(t, got, "empty body keeps the default")

	threshold := 0.8
	got, err = StartBody{Threshold: &threshold}.Build(def)
	require.NoError(t, err)
	require.Len(t, got.Stages, 2)
	assert.Equal(t, 1.0, got.Stages[0].Threshold, "exact stage untouched")
	assert.Equal(t, 0.8, got.Stages[1].Threshold)
	assert.Equal(t, 0.95, def.Stages[1].Threshold, "default must not be mutated")
	assert.Equal(t, 1, got.HistoryDepth)

	got, err = StartBody{Strategy: "exact", HashAlgorithm: "sha256"}.Build(def)
	require.NoError(t, err)
	assert.Equal(t, dedup.StrategyExact, got.Name())
	assert.EqualValues(t, "sha256", got.HashAlgorithm)
}

func TestDecisionsLimitValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/decisions?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/decisions", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", h.Status)
	assert.False(t, h.SessionActive)
	require.NotNil(t, h.Diagnostics)
	assert.Equal(t, uint64(3), h.Diagnostics.Delivered)
	assert.Equal(t, resilience.Closed, h.Diagnostics.Breaker.State)
	assert.NotEmpty(t, rec.Header().Get("x-trace-id"))
}

func TestHealthDegradedWhenBreakerOpen(t *testing.T) {
	f := newFixture(t)
	f.srv.stats = fixedStats{diagnostics.Stats{Breaker: resilience.Stats{Name: "diagnostics", State: resilience.Open, Trips: 1}}}

	rec := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h := decode[healthResponse](t, rec)
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, resilience.Open, h.Diagnostics.Breaker.State)
}

func TestWebSocketStreamsDecisions(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := f.mgr.StartSession(ctx, orchestrator.StartRequest{SessionID: "ws"})
	require.NoError(t, err)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var hello SnapshotMessage
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	assert.Equal(t, "snapshot", hello.Type)
	assert.True(t, hello.Active)
	assert.Equal(t, "ws", hello.Session.SessionID)

	for _, fr := range []frame.CaptureFrame{solid("a", 1), solid("b", 1)} {
		_, err := f.mgr.ProcessFrame(ctx, fr)
		require.NoError(t, err)
	}

	var first, second DecisionMessage
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	require.NoError(t, wsjson.Read(ctx, conn, &second))
	assert.Equal(t, "a", first.Decision.CaptureID)
	assert.Equal(t, decision.Unique, first.Decision.Verdict)
	assert.Equal(t, decision.Duplicate, second.Decision.Verdict)

	require.NoError(t, wsjson.Write(ctx, conn, ClientMessage{Type: "reset"}))
	var reset SnapshotMessage
	require.NoError(t, wsjson.Read(ctx, conn, &reset))
	assert.Equal(t, "session_reset", reset.Type)
	assert.Zero(t, reset.Session.Total)

	require.NoError(t, wsjson.Write(ctx, conn, ClientMessage{Type: "bogus"}))
	var bad ErrorMessage
	require.NoError(t, wsjson.Read(ctx, conn, &bad))
	assert.Equal(t, "UNKNOWN_MESSAGE", bad.Code)
}

func TestClientLimiterWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l := newClientLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < RateLimitMessages; i++ {
		require.True(t, l.allow(), "message %d", i)
	}
	assert.False(t, l.allow(), "burst beyond the limit")

	now = now.Add(RateLimitWindow)
	assert.True(t, l.allow(), "window has slid past the burst")
}

func TestMessageTypes(t *testing.T) {
	tests := []struct {
		name    string
		msg     any
		typeVal string
	}{
		{"decision", DecisionMessage{Type: "decision"}, "decision"},
		{"snapshot", SnapshotMessage{Type: "snapshot"}, "snapshot"},
		{"error", ErrorMessage{Type: "error", Code: "X"}, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("json.Marshal error: %v", err)
			}
			var base ClientMessage
			if err := json.NewDecoder(bytes.NewReader(data)).Decode(&base); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if base.Type != tt.typeVal {
				t.Errorf("type = %q, want %q", base.Type, tt.typeVal)
			}
		})
	}
}
