package server

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/DrC0ns0le/ripd/internal/router"
	"github.com/DrC0ns0le/ripd/internal/system"
	"github.com/DrC0ns0le/ripd/pkg/logging"
)

var (
	socketPath              = flag.String("socket.path", "/run/ripd.sock", "path for the control socket")
	socketConnectionTimeout = flag.Duration("socket.timeout", 5*time.Second, "timeout for socket connection")
)

// SocketServer is a line based control socket.
//
//	ROUTES                 dump the routing table
//	SEND <dest> <local>    send one update to dest from local
type SocketServer struct {
	router     *router.Router
	socketPath string

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	logger   logging.Logger
}

func NewSocketServer(global *system.Node) *SocketServer {
	return &SocketServer{
		router:     global.Router,
		socketPath: *socketPath,
		logger:     global.Logger.With("component", "socket"),
	}
}

func (s *SocketServer) Start() error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("error removing existing socket: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.logger.Infof("control socket listening at %s", s.socketPath)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Errorf("error accepting connection: %v", err)
				continue
			}
			go s.handleConnection(conn)
		}
	}()

	return nil
}

func (s *SocketServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *SocketServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(*socketConnectionTimeout))

	reader := bufio.NewReader(conn)

	for {
		message, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Errorf("error reading from socket: %v", err)
			}
			return
		}

		message = strings.TrimSpace(message)
		s.logger.Debugf("received message from socket: %s", message)

		conn.Write([]byte(s.handle(message)))
	}
}

func (s *SocketServer) handle(message string) string {
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return "ERROR: empty message\n"
	}

	switch strings.ToUpper(fields[0]) {
	case "ROUTES":
		var b strings.Builder
		for _, rt := range s.router.RoutingTable() {
			b.WriteString(rt.String())
			b.WriteByte('\n')
		}
		b.WriteString("OK\n")
		return b.String()

	case "SEND":
		if len(fields) != 3 {
			return "ERROR: usage SEND <dest> <local>\n"
		}
		dst, err := netip.ParseAddr(fields[1])
		if err != nil {
			return fmt.Sprintf("ERROR: invalid destination: %v\n", err)
		}
		local, err := netip.ParseAddr(fields[2])
		if err != nil {
			return fmt.Sprintf("ERROR: invalid local address: %v\n", err)
		}
		if err := s.router.SendUpdate(dst, local); err != nil {
			return fmt.Sprintf("ERROR: %v\n", err)
		}
		return "OK\n"

	default:
		return "ERROR: invalid message format\n"
	}
}
