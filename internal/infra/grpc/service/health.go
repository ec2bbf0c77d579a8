package service

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/DioGolang/BookingSaga/pkg/logger"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the orchestrator worker.
const ServiceName = "booking.saga.Orchestrator"

type Probe func(ctx context.Context) error

// HealthServer exposes grpc.health.v1 for the worker. Serving status follows
// the registered probes.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	probes   map[string]Probe
	interval time.Duration
	logger   logger.Logger
}

func NewHealthServer(log logger.Logger, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{
		server:   srv,
		health:   hs,
		probes:   make(map[string]Probe),
		interval: interval,
		logger:   log,
	}
}

func (s *HealthServer) AddProbe(name string, p Probe) {
	s.probes[name] = p
}

// Check runs every probe once and updates the serving status.
func (s *HealthServer) Check(ctx context.Context) bool {
	healthy := true
	for name, probe := range s.probes {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := probe(pctx)
		cancel()
		if err != nil {
			healthy = false
			s.logger.Warn(ctx, "Health probe failed", logger.String("probe", name), logger.WithError(err))
		}
	}
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
	return healthy
}

// Serve listens on addr until ctx is done.
func (s *HealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	go func() {
		s.Check(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.server.GracefulStop()
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()

	s.logger.Info(ctx, "gRPC health server listening", logger.String("addr", addr))
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (s *HealthServer) Server() *grpc.Server { return s.server }
