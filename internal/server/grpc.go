package server

import (
	"EscrowLedger/internal/auth"
	"EscrowLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway in front of
// the same EscrowService.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       *EscrowService
	authenticator *auth.Authenticator
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// ServerDeps holds all dependencies needed by the gRPC services.
type ServerDeps struct {
	Commands      Commands
	Reads         Reads
	EventLog      EventLog
	Authenticator *auth.Authenticator
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// PublicMethods lists the gRPC methods served without a token.
var PublicMethods = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	interceptors := []grpc.UnaryServerInterceptor{deps.Authenticator.UnaryInterceptor}
	if deps.Metrics != nil {
		interceptors = append([]grpc.UnaryServerInterceptor{metricsInterceptor(deps.Metrics)}, interceptors...)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))

	svc := NewEscrowService(deps.Commands, deps.Reads, deps.EventLog, deps.StartTime)
	grpcServer.RegisterService(&EscrowServiceDesc, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       svc,
		authenticator: deps.Authenticator,
		healthChecker: deps.HealthChecker,
		logger:        deps.Logger,
	}
}

// Serve serves gRPC on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartGRPC listens on the configured address and serves gRPC (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// StartHTTPGateway serves the HTTP/JSON API and health endpoints (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP gateway shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http gateway: %w", err)
	}
	return nil
}
