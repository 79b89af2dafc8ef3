package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"pharmsync/internal/config"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SyncServiceName is the health service name reported for the sync daemon.
const SyncServiceName = "pharmsync.v1.Sync"

// Pinger reports whether the local state store answers.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// GRPCHealthServer exposes the standard gRPC health service. Status follows
// the state store: SERVING while it answers pings, NOT_SERVING otherwise.
type GRPCHealthServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	store    Pinger
	interval time.Duration
	log      zerolog.Logger
}

func NewGRPCHealthServer(cfg config.APIGRPCConfig, store Pinger, logger *zerolog.Logger) (*GRPCHealthServer, error) {
	addr := fmt.Sprintf(":%d", cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	return newGRPCHealthServer(lis, store, time.Duration(cfg.CheckIntervalSeconds)*time.Second, logger), nil
}

func newGRPCHealthServer(lis net.Listener, store Pinger, interval time.Duration, logger *zerolog.Logger) *GRPCHealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingUnaryInterceptor(logger)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCHealthServer{
		server:   srv,
		health:   hs,
		listener: lis,
		store:    store,
		interval: interval,
		log:      logger.With().Str("component", "grpc_health").Logger(),
	}
}

func loggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug().
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("grpc request")
		return resp, err
	}
}

func (s *GRPCHealthServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve runs the health checks in the background and blocks serving RPCs.
func (s *GRPCHealthServer) Serve(ctx context.Context) error {
	s.check(ctx)
	go s.watch(ctx)
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC health listening")
	return s.server.Serve(s.listener)
}

func (s *GRPCHealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *GRPCHealthServer) check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	pingCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()
	if err := s.store.PingContext(pingCtx); err != nil {
		s.log.Warn().Err(err).Msg("state store ping failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(SyncServiceName, status)
}

func (s *GRPCHealthServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	}
}
