package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"colegio.org/internal/obs"
)

// GRPCServer serves the standard gRPC health protocol, mirroring database
// readiness for both the overall service and serviceName.
type GRPCServer struct {
	readiness readinessChecker
	health    *health.Server
	interval  time.Duration
	logger    *zap.Logger
}

func NewGRPCServer(r readinessChecker, interval time.Duration, logger *zap.Logger) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCServer{
		readiness: r,
		health:    health.NewServer(),
		interval:  interval,
		logger:    logger,
	}
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh probes readiness once and publishes the result.
func (s *GRPCServer) Refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st := healthpb.HealthCheckResponse_SERVING
	if err := s.readiness.Check(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("readiness probe failed", zap.Error(err))
		obs.SetReady(false)
	} else {
		obs.SetReady(true)
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
}

// Run refreshes the health status until ctx is cancelled, then marks the
// service as shutting down.
func (s *GRPCServer) Run(ctx context.Context) {
	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
