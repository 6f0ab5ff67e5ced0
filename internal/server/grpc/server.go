// Package grpcserver exposes the portal's gRPC edge: access checks,
// health and the shared interceptors.
package grpcserver

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Options configures New.
type Options struct {
	// Creds enables TLS when set.
	Creds      credentials.TransportCredentials
	Authorizer *Authorizer
	// Reflection registers server reflection (dev only).
	Reflection bool
}

// Server bundles the gRPC server with its health service.
type Server struct {
	GRPC   *grpc.Server
	Health *health.Server
}

// New builds a server with interceptors, the Access service and health.
func New(logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("grpc")

	unary := []grpc.UnaryServerInterceptor{RecoverUnary(log), LoggingUnary(log)}
	var stream []grpc.StreamServerInterceptor
	if opts.Authorizer != nil {
		unary = append(unary, opts.Authorizer.Unary())
		stream = append(stream, opts.Authorizer.Stream())
	}
	so := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
	if opts.Creds != nil {
		so = append(so, grpc.Creds(opts.Creds))
	}

	s := grpc.NewServer(so...)
	RegisterAccessServer(s, AccessServer{})

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if opts.Reflection {
		reflection.Register(s)
	}
	return &Server{GRPC: s, Health: hs}
}
