package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	apphealth "github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/health"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the chat rooms
const ServiceName = "chat.Rooms"

// Server exposes the standard gRPC health protocol for the process
type Server struct {
	srv    *grpc.Server
	health *health.Server
	log    *logger.Logger
}

// NewServer creates a gRPC server with the health service registered
func NewServer(log *logger.Logger) *Server {
	s := &Server{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		log:    log,
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.SetServing(true)
	return s
}

// SetServing flips the overall and room service status
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve accepts connections on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// ListenAndServe listens on :port and serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", port, err)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.log.Info("gRPC server listening", "port", port)
	return s.Serve(lis)
}

// Track mirrors the checker's overall health into the gRPC status
func (s *Server) Track(ctx context.Context, checker *apphealth.Checker, period time.Duration) {
	if period <= 0 {
		period = 15 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		s.SetServing(checker.IsSystemHealthy())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop marks the server as not serving and drains in-flight calls
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
