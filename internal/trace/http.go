// Package trace - HTTP middleware for trace extraction.
package trace

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Middleware continues or starts a trace for each request, echoes the trace id
// in the response and logs the request once it completes.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := extractFromHeaders(r)
		w.Header().Set(TraceIDKey, tc.TraceID)
		w.Header().Set(TraceparentKey, tc.Traceparent())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		ctx := WithContext(r.Context(), tc)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		Logger(ctx).Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

// extractFromHeaders gets trace context from traceparent, falling back to x-trace-id.
func extractFromHeaders(r *http.Request) Context {
	if traceID, spanID, ok := ParseTraceparent(r.Header.Get(TraceparentKey)); ok {
		return Remote(traceID, spanID)
	}
	return Remote(r.Header.Get(TraceIDKey), r.Header.Get(SpanIDKey))
}
