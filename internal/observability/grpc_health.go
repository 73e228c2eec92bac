package observability

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// GRPCHealthServer exposes the standard grpc.health.v1 service so
// orchestrators can probe the relay without HTTP.
type GRPCHealthServer struct {
	server *grpc.Server
	health *health.Server
	checks []NamedCheck
}

// NewGRPCHealthServer creates a gRPC server with the health service registered
func NewGRPCHealthServer(checks ...NamedCheck) *GRPCHealthServer {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    10 * time.Second,
			Timeout: 3 * time.Second,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	return &GRPCHealthServer{
		server: server,
		health: hs,
		checks: checks,
	}
}

// Refresh re-runs the readiness checks and publishes the overall status
func (s *GRPCHealthServer) Refresh(ctx context.Context) bool {
	_, ok := RunChecks(ctx, s.checks...)
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return ok
}

// Serve listens on addr and blocks until the server stops. The status is
// refreshed every interval until ctx is done.
func (s *GRPCHealthServer) Serve(ctx context.Context, addr string, interval time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()

	return s.server.Serve(lis)
}

// Stop marks the service as not serving and stops the server gracefully
func (s *GRPCHealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
