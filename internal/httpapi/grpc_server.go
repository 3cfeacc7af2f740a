package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const grpcServiceName = "vesting-api"

// GRPCHealth bridges the readiness probe into the standard gRPC health
// service so orchestrators can probe over gRPC as well as HTTP.
type GRPCHealth struct {
	srv   *health.Server
	probe ReadyProbe
}

// NewGRPCHealth creates the health bridge, initially not serving.
func NewGRPCHealth(probe ReadyProbe) *GRPCHealth {
	g := &GRPCHealth{
		srv:   health.NewServer(),
		probe: probe,
	}
	g.srv.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return g
}

// Register attaches the health service to a gRPC server.
func (g *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, g.srv)
}

// Watch re-evaluates the readiness probe on the given interval until the
// context ends, flipping the advertised status accordingly.
func (g *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	g.refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.srv.Shutdown()
			return
		case <-ticker.C:
			g.refresh(ctx)
		}
	}
}

func (g *GRPCHealth) refresh(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	if err := g.probe.Check(checkCtx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.srv.SetServingStatus(grpcServiceName, status)
	g.srv.SetServingStatus("", status)
}
