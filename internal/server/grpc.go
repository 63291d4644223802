package server

import (
	"flag"
	"fmt"
	"net"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/DrC0ns0le/ripd/internal/router"
	"github.com/DrC0ns0le/ripd/internal/system"
	"github.com/DrC0ns0le/ripd/pkg/logging"
)

// RouterService is the health service name that tracks the router worker.
const RouterService = "ripd.Router"

var (
	grpcPort       = flag.Int("grpc.port", 5122, "port for grpc server")
	healthInterval = flag.Duration("grpc.health.interval", time.Second, "interval between router health refreshes")
)

type GRPCServer struct {
	router *router.Router
	health *health.Server

	port   int
	server *grpc.Server
	stopCh chan struct{}
	logger logging.Logger
}

// NewGRPCServer builds the server and registers its services, so Stop is
// safe to call before or while Start runs.
func NewGRPCServer(global *system.Node) *GRPCServer {
	s := &GRPCServer{
		router: global.Router,
		health: health.NewServer(),
		port:   *grpcPort,
		server: grpc.NewServer(),
		stopCh: make(chan struct{}),
		logger: global.Logger.With("component", "grpc"),
	}
	s.register()
	return s
}

func (s *GRPCServer) Start() error {
	// start gRPC server
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	go s.watchRouter()

	s.logger.Infof("gRPC server listening at %v", listener.Addr())
	if err := s.server.Serve(listener); err != nil {
		return fmt.Errorf("failed to serve gRPC server: %w", err)
	}

	return nil
}

func (s *GRPCServer) Stop() error {
	close(s.stopCh)
	s.health.Shutdown()
	s.server.GracefulStop()
	return nil
}

func (s *GRPCServer) register() {
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
}

func (s *GRPCServer) watchRouter() {
	ticker := time.NewTicker(*healthInterval)
	defer ticker.Stop()

	s.refreshHealth()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refreshHealth()
		}
	}
}

// refreshHealth mirrors the router worker state into the health service.
func (s *GRPCServer) refreshHealth() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.router.Running() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(RouterService, status)
}
