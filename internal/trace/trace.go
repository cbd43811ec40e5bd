// Package trace carries trace and span ids through contexts, HTTP headers and
// gRPC metadata, and attaches them to slog output. Ids follow W3C Trace Context.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Propagation keys for gRPC metadata and HTTP headers.
const (
	TraceIDKey     = "x-trace-id"
	SpanIDKey      = "x-span-id"
	TraceparentKey = "traceparent"
)

// Context identifies one span within a trace.
type Context struct {
	TraceID string
	SpanID  string
	Parent  string // caller's span id, empty for a root span
}

// Root starts a new trace.
func Root() Context {
	return Context{TraceID: randomHex(16), SpanID: randomHex(8)}
}

// Child opens a span under c in the same trace.
func (c Context) Child() Context {
	return Context{TraceID: c.TraceID, SpanID: randomHex(8), Parent: c.SpanID}
}

// Valid reports whether both ids are well-formed.
func (c Context) Valid() bool {
	return validHex(c.TraceID, 32) && validHex(c.SpanID, 16)
}

// Remote continues a trace received from a caller. Missing ids are generated.
func Remote(traceID, callerSpanID string) Context {
	if !validHex(traceID, 32) {
		return Root()
	}
	if !validHex(callerSpanID, 16) {
		callerSpanID = ""
	}
	return Context{TraceID: traceID, SpanID: randomHex(8), Parent: callerSpanID}
}

// Traceparent formats the context as a W3C traceparent header value.
func (c Context) Traceparent() string {
	return fmt.Sprintf("00-%s-%s-01", c.TraceID, c.SpanID)
}

// ParseTraceparent reads a W3C traceparent value as the caller's context.
func ParseTraceparent(v string) (traceID, spanID string, ok bool) {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) != 4 || !validHex(parts[0], 2) || !validHex(parts[1], 32) || !validHex(parts[2], 16) {
		return "", "", false
	}
	if strings.Trim(parts[1], "0") == "" || strings.Trim(parts[2], "0") == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func validHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

type ctxKey struct{}

// FromContext returns the trace stored in ctx.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

func (c Context) logArgs() []any {
	if c.Parent == "" {
		return []any{"trace_id", c.TraceID, "span_id", c.SpanID}
	}
	return []any{"trace_id", c.TraceID, "span_id", c.SpanID, "parent_span_id", c.Parent}
}

// Span is a timed operation within a trace. Attributes keep insertion order.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time

	mu      sync.Mutex
	endTime time.Time
	attrs   []slog.Attr
	err     error
}

// StartSpan opens a span as a child of the trace in ctx, or as a new root.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tc := Root()
	if parent, ok := FromContext(ctx); ok && parent.TraceID != "" {
		tc = parent.Child()
	}
	return WithContext(ctx, tc), &Span{Name: name, Ctx: tc, StartTime: time.Now()}
}

// End marks the span as complete. Later calls keep the first end time.
func (s *Span) End() {
	s.mu.Lock()
	if s.endTime.IsZero() {
		s.endTime = time.Now()
	}
	s.mu.Unlock()
}

// SetAttr sets a span attribute, replacing an earlier value for key.
func (s *Span) SetAttr(key string, val any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.attrs {
		if s.attrs[i].Key == key {
			s.attrs[i].Value = slog.AnyValue(val)
			return
		}
	}
	s.attrs = append(s.attrs, slog.Any(key, val))
}

// Attr returns the value recorded for key.
func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attrs {
		if a.Key == key {
			return a.Value.Any(), true
		}
	}
	return nil, false
}

// Fail records err on the span.
func (s *Span) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Err returns the error recorded with Fail.
func (s *Span) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Duration returns span duration, zero while the span is open.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		return 0
	}
	return s.endTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer for structured logging.
func (s *Span) LogValue() slog.Value {
	d := s.Duration()
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs := make([]slog.Attr, 0, 5+len(s.attrs))
	attrs = append(attrs,
		slog.String("span_name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", d),
	)
	if s.Ctx.Parent != "" {
		attrs = append(attrs, slog.String("parent_span_id", s.Ctx.Parent))
	}
	if s.err != nil {
		attrs = append(attrs, slog.String("error", s.err.Error()))
	}
	attrs = append(attrs, s.attrs...)
	return slog.GroupValue(attrs...)
}

// Logger returns slog.Default with the context's trace ids attached.
func Logger(ctx context.Context) *slog.Logger {
	if tc, ok := FromContext(ctx); ok {
		return slog.Default().With(tc.logArgs()...)
	}
	return slog.Default()
}
