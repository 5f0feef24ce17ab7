package observability

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth serves grpc.health.v1.Health with a status that follows the
// same dependency checks as the HTTP readiness endpoint.
type GRPCHealth struct {
	server *health.Server
	checks []DependencyCheck
}

// NewGRPCHealth creates the health service. It reports NOT_SERVING until the
// first Refresh.
func NewGRPCHealth(checks ...DependencyCheck) *GRPCHealth {
	h := &GRPCHealth{
		server: health.NewServer(),
		checks: checks,
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Refresh runs the checks once and updates the serving status.
func (h *GRPCHealth) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, ok := CheckDependencies(ctx, h.checks)
	if ok {
		h.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Run refreshes the status every interval until ctx is done.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	logger := GetLogger()
	h.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.Refresh(ctx) {
				logger.Warn().Msg("Dependency check failed, gRPC health set to NOT_SERVING")
			}
		}
	}
}

// Shutdown marks every service NOT_SERVING so clients drain.
func (h *GRPCHealth) Shutdown() {
	h.server.Shutdown()
}

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
}
