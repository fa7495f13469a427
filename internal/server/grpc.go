package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer returns a gRPC server carrying the standard grpc.health.v1 service, traced
// with otelgrpc, and the health server so the caller can drive its status.
func NewGRPCServer(opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	hs := health.NewServer()
	RegisterServices(s, hs)
	return s, hs
}

// RegisterServices registers the health service and server reflection on s.
func RegisterServices(s *grpc.Server, hs *health.Server) {
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
}
