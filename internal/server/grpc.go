package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/phaysaal/seenslide-desktop/internal/session"
	"github.com/phaysaal/seenslide-desktop/internal/trace"
)

// NewGRPC builds a gRPC server exposing the standard health service. ServiceName
// reports NOT_SERVING until a session starts; the overall server is always SERVING.
func NewGRPC() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}

// HealthReporter returns a session state hook that mirrors session activity
// onto the ServiceName health status.
func HealthReporter(hs *health.Server) func(active bool, snap session.Snapshot) {
	return func(active bool, _ session.Snapshot) {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if active {
			st = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(ServiceName, st)
	}
}
