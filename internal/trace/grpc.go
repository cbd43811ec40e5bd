// Package trace - gRPC server interceptors for trace extraction.
package trace

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor continues the caller's trace and logs each call.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = extractMetadata(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor continues the caller's trace for streaming calls.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := extractMetadata(ss.Context())
		start := time.Now()
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		logCall(ctx, info.FullMethod, start, err)
		return err
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

// extractMetadata builds the server span context from incoming metadata.
// traceparent wins over the x-trace-id pair.
func extractMetadata(ctx context.Context) context.Context {
	md, _ := metadata.FromIncomingContext(ctx)
	if tp := first(md, TraceparentKey); tp != "" {
		if traceID, spanID, ok := ParseTraceparent(tp); ok {
			return WithContext(ctx, Remote(traceID, spanID))
		}
	}
	return WithContext(ctx, Remote(first(md, TraceIDKey), first(md, SpanIDKey)))
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func logCall(ctx context.Context, method string, start time.Time, err error) {
	log := Logger(ctx)
	if err != nil {
		log.Warn("grpc call failed", "method", method, "code", status.Code(err).String(),
			"duration", time.Since(start), "error", err)
		return
	}
	log.Debug("grpc call", "method", method, "duration", time.Since(start))
}
