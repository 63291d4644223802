package router

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/DrC0ns0le/ripd/internal/rip"
	"github.com/DrC0ns0le/ripd/internal/route"
	"github.com/DrC0ns0le/ripd/pkg/logging"
)

type state int

const (
	constructed state = iota
	running
	stopped
)

// Router owns one routing table, seeded from its interfaces, and keeps it
// current from the advertisements of its neighbors.
type Router struct {
	interfaces []route.Interface
	table      *route.Table
	id         string

	port        int
	readTimeout time.Duration
	bufferSize  int
	logger      logging.Logger

	mu       sync.Mutex
	state    state
	sendConn *net.UDPConn
	recvConn *net.UDPConn
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Router)

// WithPort sets the routing port. 0 binds an ephemeral receive port, which is
// only useful together with SendUpdateTo.
func WithPort(port int) Option {
	return func(r *Router) { r.port = port }
}

// WithReadTimeout bounds each blocking read of the worker. 0 blocks indefinitely.
func WithReadTimeout(d time.Duration) Option {
	return func(r *Router) { r.readTimeout = d }
}

func WithBufferSize(n int) Option {
	return func(r *Router) { r.bufferSize = n }
}

func WithLogger(l logging.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New returns a router whose table already holds the connected routes of
// interfaces. No socket is bound until Start.
func New(interfaces []route.Interface, opts ...Option) *Router {
	r := &Router{
		interfaces: append([]route.Interface(nil), interfaces...),
		table:      route.NewTable(),
		id:         "none",
		port:       rip.Port,
		bufferSize: rip.MaxDatagram,
		logger:     logging.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.interfaces) > 0 {
		r.id = r.interfaces[0].Address.String()
	}
	r.logger = r.logger.With("component", "router", "router", r.id)

	r.table.Seed(r.interfaces)
	tableRoutes.WithLabelValues(r.id).Set(float64(r.table.Len()))
	return r
}

// Start binds an ephemeral send endpoint and the receive endpoint on the
// routing port of bindAddr, then starts the receive worker. The worker runs
// until ctx is cancelled or Stop is called.
func (r *Router) Start(ctx context.Context, bindAddr netip.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case running:
		return ErrAlreadyStarted
	case stopped:
		return ErrStopped
	}

	sendAddr := netip.AddrPortFrom(bindAddr, 0)
	sendConn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(sendAddr))
	if err != nil {
		return &BindError{Addr: sendAddr, Err: err}
	}

	recvAddr := netip.AddrPortFrom(bindAddr, uint16(r.port))
	recvConn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(recvAddr))
	if err != nil {
		sendConn.Close()
		return &BindError{Addr: recvAddr, Err: err}
	}

	workerCtx, cancel := context.WithCancel(ctx)
	// unblock a pending read once the context ends
	context.AfterFunc(workerCtx, func() {
		recvConn.SetReadDeadline(time.Now())
	})

	r.sendConn = sendConn
	r.recvConn = recvConn
	r.cancel = cancel
	r.done = make(chan struct{})
	r.state = running

	r.logger.Infof("router listening on %s with %d interfaces", recvConn.LocalAddr(), len(r.interfaces))
	go r.receive(workerCtx, recvConn, r.done)
	return nil
}

// Stop ends the worker and closes both endpoints. It is safe to call more
// than once.
func (r *Router) Stop() error {
	r.mu.Lock()
	if r.state != running {
		r.state = stopped
		r.mu.Unlock()
		return nil
	}
	r.state = stopped
	r.cancel()
	errRecv := r.recvConn.Close()
	errSend := r.sendConn.Close()
	done := r.done
	r.mu.Unlock()

	<-done
	r.logger.Infof("router stopped")
	return errors.Join(errRecv, errSend)
}

func (r *Router) receive(ctx context.Context, conn *net.UDPConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, r.bufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		if r.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(r.readTimeout))
		}

		n, src, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			r.logger.Warnf("error reading datagram: %v", err)
			continue
		}
		datagramsReceived.WithLabelValues(r.id).Inc()

		adv, err := rip.Decode(buf[:n])
		if err != nil {
			datagramsMalformed.WithLabelValues(r.id).Inc()
			r.logger.Warnf("dropping datagram from %s: %v", src, err)
			continue
		}
		r.integrate(adv)
	}
}

// integrate applies one advertisement to the table. Each advertised metric is
// increased by one hop before it is compared with the stored route.
func (r *Router) integrate(adv *rip.Advertisement) {
	var exit netip.Addr
	if iface, ok := route.ResolveLocalInterface(adv.Originator, r.interfaces); ok {
		exit = iface.Address
	} else {
		r.logger.Debugf("no local interface shares a subnet with %s, exit interface unresolved", adv.Originator)
	}

	for _, e := range adv.Entries {
		// 0 is not a valid hop count and 255 cannot take another hop
		if e.Metric == 0 || e.Metric == 255 {
			routeUpdates.WithLabelValues(r.id, route.Discarded.String()).Inc()
			continue
		}
		prefixLen := int(e.PrefixLen)
		candidate := route.Route{
			Network:       route.NetworkOf(e.Network, route.PrefixToMask(prefixLen)),
			PrefixLen:     prefixLen,
			NextHop:       route.Via(adv.Originator),
			Metric:        e.Metric + 1,
			ExitInterface: exit,
		}

		result := r.table.Upsert(candidate)
		routeUpdates.WithLabelValues(r.id, result.String()).Inc()
		if result != route.Discarded {
			r.logger.Debugf("%s %s", result, candidate)
		}
	}
	tableRoutes.WithLabelValues(r.id).Set(float64(r.table.Len()))
}

// SendUpdate sends the current table once to dst on the routing port, using
// localExit as the originator.
func (r *Router) SendUpdate(dst netip.Addr, localExit netip.Addr) error {
	return r.SendUpdateTo(netip.AddrPortFrom(dst, uint16(r.port)), localExit)
}

// SendUpdateTo is SendUpdate with an explicit destination port.
func (r *Router) SendUpdateTo(dst netip.AddrPort, localExit netip.Addr) error {
	r.mu.Lock()
	conn := r.sendConn
	ready := r.state == running
	r.mu.Unlock()

	if !ready {
		updatesSent.WithLabelValues(r.id, "error").Inc()
		return &SendError{Dest: dst, Err: ErrNotStarted}
	}

	payload, err := rip.Encode(r.advertisement(localExit))
	if err != nil {
		updatesSent.WithLabelValues(r.id, "error").Inc()
		return &SendError{Dest: dst, Err: err}
	}

	if _, err := conn.WriteToUDPAddrPort(payload, dst); err != nil {
		updatesSent.WithLabelValues(r.id, "error").Inc()
		return &SendError{Dest: dst, Err: err}
	}
	updatesSent.WithLabelValues(r.id, "ok").Inc()
	return nil
}

func (r *Router) advertisement(originator netip.Addr) *rip.Advertisement {
	routes := r.table.Snapshot()
	adv := &rip.Advertisement{
		Originator: originator,
		Entries:    make([]rip.Entry, 0, len(routes)),
	}
	for _, rt := range routes {
		adv.Entries = append(adv.Entries, rip.Entry{
			Network:   rt.Network,
			PrefixLen: uint8(rt.PrefixLen),
			Metric:    rt.Metric,
		})
	}
	return adv
}

// RoutingTable returns a snapshot of the table. It is valid in any state.
func (r *Router) RoutingTable() []route.Route {
	return r.table.Snapshot()
}

// Table exposes the shared table for read-only consumers such as the kernel aligner.
func (r *Router) Table() *route.Table {
	return r.table
}

func (r *Router) Interfaces() []route.Interface {
	return append([]route.Interface(nil), r.interfaces...)
}

func (r *Router) ID() string {
	return r.id
}

func (r *Router) Port() int {
	return r.port
}

// ListenAddr returns the bound receive address, or the zero value before Start.
func (r *Router) ListenAddr() netip.AddrPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recvConn == nil {
		return netip.AddrPort{}
	}
	ap := r.recvConn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// Running reports whether the receive worker is alive.
func (r *Router) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != running {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}
