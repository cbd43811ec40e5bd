// Package server exposes session control and the decision stream over HTTP,
// WebSocket and gRPC health
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phaysaal/seenslide-desktop/internal/decision"
	"github.com/phaysaal/seenslide-desktop/internal/dedup"
	"github.com/phaysaal/seenslide-desktop/internal/diagnostics"
	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/events"
	"github.com/phaysaal/seenslide-desktop/internal/orchestrator"
	"github.com/phaysaal/seenslide-desktop/internal/orchestrator/screen"
	"github.com/phaysaal/seenslide-desktop/internal/resilience"
	"github.com/phaysaal/seenslide-desktop/internal/session"
	"github.com/phaysaal/seenslide-desktop/internal/trace"
)

// Controller is the session surface the handlers drive.
type Controller interface {
	StartSession(ctx context.Context, req orchestrator.StartRequest) (session.Snapshot, error)
	StopSession() (session.Snapshot, error)
	ResetSession() (session.Snapshot, error)
	Snapshot() (session.Snapshot, bool)
	Recent(n int) []decision.Record
	CaptureStats() (screen.Stats, bool)
	DefaultStrategy() dedup.Config
}

// Subscriber streams decisions from a topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan decision.Record, error)
}

// StatsSource reports diagnostic dispatcher counters.
type StatsSource interface {
	Stats() diagnostics.Stats
}

// Message types sent over /ws.
type DecisionMessage struct {
	Type     string          `json:"type"`
	Decision decision.Record `json:"decision"`
}

type SnapshotMessage struct {
	Type    string           `json:"type"`
	Active  bool             `json:"active"`
	Session session.Snapshot `json:"session"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientMessage is an inbound websocket request: "snapshot" or "reset".
type ClientMessage struct {
	Type string `json:"type"`
}

// clientLimiter caps how many control messages one websocket client may
// send per RateLimitWindow.
type clientLimiter struct {
	mu   sync.Mutex
	now  func() time.Time
	sent []time.Time // oldest first
}

func newClientLimiter() *clientLimiter {
	return &clientLimiter{now: time.Now}
}

func (l *clientLimiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	expired := 0
	for expired < len(l.sent) && now.Sub(l.sent[expired]) >= RateLimitWindow {
		expired++
	}
	l.sent = l.sent[expired:]

	if len(l.sent) >= RateLimitMessages {
		return false
	}
	l.sent = append(l.sent, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl  Controller
	bus   Subscriber
	stats StatsSource

	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// New creates a new server. bus and stats may be nil.
func New(ctrl Controller, bus Subscriber, stats StatsSource) *Server {
	return &Server{
		ctrl:  ctrl,
		bus:   bus,
		stats: stats,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware, trace.Middleware, middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/session", s.handleSession)
		r.Post("/session/start", s.handleStart)
		r.Post("/session/stop", s.handleStop)
		r.Post("/session/reset", s.handleReset)
		r.Get("/decisions", s.handleDecisions)
	})
	return r
}

// Connections returns the number of open websocket clients.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// corsMiddleware lets a browser dashboard on another origin drive the
// control API and read the trace id of each response.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		} else {
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Expose-Headers", trace.TraceIDKey+", "+trace.TraceparentKey)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+trace.TraceparentKey+", "+trace.TraceIDKey+", "+trace.SpanIDKey)
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error    string            `json:"error"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Wrap(err, apperrors.CodeInternal, "internal error")
	}
	log := trace.Logger(r.Context())
	if appErr.HTTPStatus() >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, appErr.HTTPStatus(), errorBody{
		Error:    string(appErr.Code),
		Message:  appErr.Message,
		Metadata: appErr.Metadata,
	})
}

type healthResponse struct {
	Status        string             `json:"status"`
	SessionActive bool               `json:"session_active"`
	Connections   int                `json:"connections"`
	Capture       *screen.Stats      `json:"capture,omitempty"`
	Diagnostics   *diagnostics.Stats `json:"diagnostics,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Connections: s.Connections()}
	if cs, ok := s.ctrl.CaptureStats(); ok {
		resp.SessionActive = true
		resp.Capture = &cs
	}
	if s.stats != nil {
		ds := s.stats.Stats()
		resp.Diagnostics = &ds
		if ds.Breaker.State != resilience.Closed {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionResponse struct {
	Active   bool             `json:"active"`
	Session  session.Snapshot `json:"session"`
	Strategy dedup.Config     `json:"default_strategy"`
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	snap, active := s.ctrl.Snapshot()
	writeJSON(w, http.StatusOK, sessionResponse{Active: active, Session: snap, Strategy: s.ctrl.DefaultStrategy()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body StartBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "decode start request"))
		return
	}
	strategy, err := body.Build(s.ctrl.DefaultStrategy())
	if err != nil {
		writeError(w, r, err)
		return
	}

	snap, err := s.ctrl.StartSession(r.Context(), orchestrator.StartRequest{SessionID: body.SessionID, Strategy: strategy})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotMessage{Type: "session_started", Active: true, Session: snap})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctrl.StopSession()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotMessage{Type: "session_stopped", Session: snap})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctrl.ResetSession()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotMessage{Type: "session_reset", Active: true, Session: snap})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := DefaultDecisionsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, apperrors.Newf(apperrors.CodeConfigInvalid, "limit %q must be a positive integer", v))
			return
		}
		limit = min(n, MaxDecisionsLimit)
	}
	recs := s.ctrl.Recent(limit)
	if recs == nil {
		recs = []decision.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, r, apperrors.New(apperrors.CodeInternal, "decision stream unavailable"))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	decisions, err := s.bus.Subscribe(ctx, events.TopicDecisions)
	if err != nil {
		log.Error("subscribe failed", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	snap, active := s.ctrl.Snapshot()
	if err := s.write(ctx, conn, SnapshotMessage{Type: "snapshot", Active: active, Session: snap}); err != nil {
		return
	}

	go func() {
		defer cancel()
		s.readLoop(ctx, conn, r.RemoteAddr)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-decisions:
			if !ok {
				return
			}
			if err := s.write(ctx, conn, DecisionMessage{Type: "decision", Decision: rec}); err != nil {
				log.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

// readLoop serves inbound control messages until the client goes away.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, remote string) {
	log := trace.Logger(ctx)
	rl := newClientLimiter()
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", remote)
			_ = s.write(ctx, conn, ErrorMessage{Type: "error", Code: "RATE_LIMITED", Message: "rate limit exceeded"})
			continue
		}

		switch msg.Type {
		case "snapshot":
			snap, active := s.ctrl.Snapshot()
			_ = s.write(ctx, conn, SnapshotMessage{Type: "snapshot", Active: active, Session: snap})
		case "reset":
			snap, err := s.ctrl.ResetSession()
			if err != nil {
				_ = s.write(ctx, conn, errorMessage(err))
				continue
			}
			_ = s.write(ctx, conn, SnapshotMessage{Type: "session_reset", Active: true, Session: snap})
		default:
			_ = s.write(ctx, conn, ErrorMessage{Type: "error", Code: "UNKNOWN_MESSAGE", Message: "unknown message type " + strconv.Quote(msg.Type)})
		}
	}
}

func errorMessage(err error) ErrorMessage {
	if appErr, ok := apperrors.As(err); ok {
		return ErrorMessage{Type: "error", Code: string(appErr.Code), Message: appErr.Message}
	}
	return ErrorMessage{Type: "error", Code: string(apperrors.CodeInternal), Message: err.Error()}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
