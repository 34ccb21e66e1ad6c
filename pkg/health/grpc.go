// Package health exposes liveness over gRPC (grpc.health.v1) and HTTP.
package health

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Server struct {
	gs  *grpc.Server
	hs  *health.Server
	lis net.Listener
}

// Listen binds addr. The server reports NOT_SERVING until SetServing(true).
func Listen(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{gs: gs, hs: hs, lis: lis}, nil
}

func (s *Server) Addr() string { return s.lis.Addr().String() }

// Serve blocks until Stop.
func (s *Server) Serve() error {
	if err := s.gs.Serve(s.lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus("", status)
}

// Stop flips to NOT_SERVING and drains in-flight calls until ctx expires.
func (s *Server) Stop(ctx context.Context) {
	s.hs.Shutdown()
	done := make(chan struct{})
	go func() {
		s.gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.gs.Stop()
		<-done
	}
}
