package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/DrC0ns0le/ripd/internal/system"
	"github.com/DrC0ns0le/ripd/pkg/logging"
)

// Server is one of the daemon's control surfaces. Start may block while
// serving. Stop must be safe to call before Start has returned.
type Server interface {
	Start() error
	Stop() error
}

// ServerManager runs the HTTP, gRPC and control socket surfaces of a Node
// next to its router. A surface failing to start is logged and does not
// affect routing.
type ServerManager struct {
	stopCh  chan struct{}
	errCh   chan error
	servers []Server
	logger  logging.Logger
}

func NewServerManager(global *system.Node) *ServerManager {
	return &ServerManager{
		stopCh: global.StopCh,
		servers: []Server{
			NewHTTPServer(global),
			NewGRPCServer(global),
			NewSocketServer(global),
		},
		logger: global.Logger.With("component", "servers"),
	}
}

// Start blocks until the node's stop channel is closed, then stops every
// server concurrently.
func (n *ServerManager) Start() error {
	n.errCh = make(chan error, len(n.servers))
	for _, s := range n.servers {
		go func(s Server) {
			if err := s.Start(); err != nil {
				n.errCh <- err
			}
		}(s)
	}

	for {
		select {
		case err := <-n.errCh:
			n.logger.Errorf("error starting server: %v", err)

		case <-n.stopCh:
			n.logger.Info("received stop signal, shutting down servers")
			return n.stopAll()
		}
	}
}

func (n *ServerManager) stopAll() error {
	errs := make([]error, len(n.servers))

	var wg sync.WaitGroup
	for i, s := range n.servers {
		wg.Add(1)
		go func(i int, s Server) {
			defer wg.Done()
			if err := s.Stop(); err != nil {
				n.logger.Errorf("error stopping server: %v", err)
				errs[i] = err
			}
		}(i, s)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("stopping servers: %w", err)
	}
	return nil
}
