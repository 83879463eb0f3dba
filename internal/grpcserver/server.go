package grpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/pobradovic08/appserver/internal/tlsutil"
)

// ServiceName is the health service name reported alongside the overall
// ("") status.
const ServiceName = "appserver"

// Server exposes grpc.health.v1.Health for orchestrators that probe over gRPC.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listenAddr string
}

// ServerDeps holds the dependencies for the gRPC server.
type ServerDeps struct {
	ListenAddr string
	// CertLoader enables TLS when set.
	CertLoader *tlsutil.CertificateLoader
}

// NewServer creates the gRPC server. Both the overall and the named service
// start out SERVING.
func NewServer(deps ServerDeps) *Server {
	var opts []grpc.ServerOption

	if deps.CertLoader != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsutil.NewServerTLSConfig(deps.CertLoader))))
	}

	opts = append(opts,
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		health:     health.NewServer(),
		listenAddr: deps.ListenAddr,
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)

	s.SetServing(true)
	return s
}

// SetServing flips the reported status of every service.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Start begins listening for gRPC connections.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("gRPC listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("starting gRPC server", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("gRPC serve: %w", err)
	}
	return nil
}

// Shutdown reports NOT_SERVING to watchers, then drains in-flight RPCs.
// If ctx expires first, remaining connections are closed.
func (s *Server) Shutdown(ctx context.Context) {
	slog.Info("shutting down gRPC server")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		slog.Warn("gRPC graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	}
}
