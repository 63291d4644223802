package router

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrC0ns0le/ripd/internal/rip"
	"github.com/DrC0ns0le/ripd/internal/route"
	"github.com/DrC0ns0le/ripd/pkg/logging"
)

var loopback = netip.MustParseAddr("127.0.0.1")

func iface(device, cidr string) route.Interface {
	p := netip.MustParsePrefix(cidr)
	return route.Interface{Device: device, Address: p.Addr(), PrefixLen: p.Bits()}
}

func newTestRouter(t *testing.T, interfaces ...route.Interface) *Router {
	t.Helper()
	return New(interfaces, WithPort(0), WithLogger(logging.Discard()))
}

func startTestRouter(t *testing.T, interfaces ...route.Interface) *Router {
	t.Helper()
	r := newTestRouter(t, interfaces...)
	require.NoError(t, r.Start(context.Background(), loopback))
	t.Cleanup(func() { r.Stop() })
	return r
}

func lookup(r *Router, cidr string) (route.Route, bool) {
	p := netip.MustParsePrefix(cidr)
	return r.Table().Lookup(p.Addr(), p.Bits())
}

func sendRaw(t *testing.T, dst netip.AddrPort, payload []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(dst))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func TestNewSeedsDirectRoutes(t *testing.T) {
	r := newTestRouter(t, iface("eth0", "10.0.1.1/24"), iface("eth1", "192.168.5.9/16"))

	routes := r.RoutingTable()
	require.Len(t, routes, 2)
	for _, rt := range routes {
		assert.Equal(t, uint8(1), rt.Metric)
		assert.True(t, rt.NextHop.IsDirect())
	}
	assert.Equal(t, netip.MustParseAddr("10.0.1.0"), routes[0].Network)
	assert.Equal(t, netip.MustParseAddr("192.168.0.0"), routes[1].Network)
	assert.Equal(t, netip.MustParseAddr("192.168.5.9"), routes[1].ExitInterface)
	assert.False(t, r.Running())
}

func TestLearnedRouteIntegration(t *testing.T) {
	a := startTestRouter(t, iface("eth0", "10.0.0.1/24"), iface("eth1", "10.0.2.1/24"))
	b := startTestRouter(t, iface("eth0", "10.0.2.2/24"))

	require.NoError(t, a.SendUpdateTo(b.ListenAddr(), netip.MustParseAddr("10.0.2.1")))

	require.Eventually(t, func() bool {
		_, ok := lookup(b, "10.0.0.0/24")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	rt, _ := lookup(b, "10.0.0.0/24")
	via, learned := rt.NextHop.Addr()
	assert.True(t, learned)
	assert.Equal(t, netip.MustParseAddr("10.0.2.1"), via)
	assert.Equal(t, uint8(2), rt.Metric)
	assert.Equal(t, netip.MustParseAddr("10.0.2.2"), rt.ExitInterface)

	// the shared link stays a connected route
	rt, ok := lookup(b, "10.0.2.0/24")
	require.True(t, ok)
	assert.True(t, rt.NextHop.IsDirect())
	assert.Equal(t, uint8(1), rt.Metric)
	assert.Len(t, b.RoutingTable(), 2)
}

func TestConvergenceOverChain(t *testing.T) {
	// A -- 10.0.2.0/24 -- B -- 10.0.3.0/24 -- C
	a := startTestRouter(t, iface("eth0", "10.0.0.1/24"), iface("eth1", "10.0.2.1/24"))
	b := startTestRouter(t, iface("eth0", "10.0.2.2/24"), iface("eth1", "10.0.3.1/24"))
	c := startTestRouter(t, iface("eth0", "10.0.3.2/24"))

	require.NoError(t, a.SendUpdateTo(b.ListenAddr(), netip.MustParseAddr("10.0.2.1")))
	require.Eventually(t, func() bool {
		_, ok := lookup(b, "10.0.0.0/24")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.SendUpdateTo(c.ListenAddr(), netip.MustParseAddr("10.0.3.1")))
	require.Eventually(t, func() bool {
		return len(c.RoutingTable()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	rt, _ := lookup(c, "10.0.0.0/24")
	assert.Equal(t, uint8(3), rt.Metric)
	via, _ := rt.NextHop.Addr()
	assert.Equal(t, netip.MustParseAddr("10.0.3.1"), via)
	assert.Equal(t, netip.MustParseAddr("10.0.3.2"), rt.ExitInterface)

	rt, _ = lookup(c, "10.0.2.0/24")
	assert.Equal(t, uint8(2), rt.Metric)

	// C's update back to B must not displace anything B already knows better
	before := b.RoutingTable()
	require.NoError(t, c.SendUpdateTo(b.ListenAddr(), netip.MustParseAddr("10.0.3.2")))
	require.NoError(t, a.SendUpdateTo(b.ListenAddr(), netip.MustParseAddr("10.0.2.1")))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, b.RoutingTable())
}

func TestIntegrateComparesIncrementedMetric(t *testing.T) {
	r := newTestRouter(t, iface("eth0", "10.0.2.2/24"))
	network := netip.MustParseAddr("10.0.0.0")

	r.integrate(&rip.Advertisement{
		Originator: netip.MustParseAddr("10.0.2.1"),
		Entries:    []rip.Entry{{Network: network, PrefixLen: 24, Metric: 1}},
	})
	// advertised 1 becomes 2, which does not beat the stored 2
	r.integrate(&rip.Advertisement{
		Originator: netip.MustParseAddr("10.0.2.9"),
		Entries:    []rip.Entry{{Network: network, PrefixLen: 24, Metric: 1}},
	})

	rt, ok := r.Table().Lookup(network, 24)
	require.True(t, ok)
	via, _ := rt.NextHop.Addr()
	assert.Equal(t, netip.MustParseAddr("10.0.2.1"), via)
	assert.Equal(t, uint8(2), rt.Metric)
}

func TestIntegrateIdempotent(t *testing.T) {
	r := newTestRouter(t, iface("eth0", "10.0.2.2/24"))
	adv := &rip.Advertisement{
		Originator: netip.MustParseAddr("10.0.2.1"),
		Entries: []rip.Entry{
			{Network: netip.MustParseAddr("10.0.0.0"), PrefixLen: 24, Metric: 1},
			{Network: netip.MustParseAddr("172.16.0.0"), PrefixLen: 12, Metric: 4},
		},
	}

	r.integrate(adv)
	first := r.RoutingTable()
	r.integrate(adv)
	assert.Equal(t, first, r.RoutingTable())
	assert.Len(t, first, 3)
}

func TestIntegrateMasksNetwork(t *testing.T) {
	r := newTestRouter(t, iface("eth0", "10.0.2.2/24"))

	r.integrate(&rip.Advertisement{
		Originator: netip.MustParseAddr("10.0.2.1"),
		Entries:    []rip.Entry{{Network: netip.MustParseAddr("10.9.9.9"), PrefixLen: 16, Metric: 3}},
	})

	rt, ok := r.Table().Lookup(netip.MustParseAddr("10.9.0.0"), 16)
	require.True(t, ok)
	assert.Equal(t, uint8(4), rt.Metric)
}

func TestIntegrateUnresolvedExit(t *testing.T) {
	r := newTestRouter(t, iface("eth0", "10.0.2.2/24"))

	r.integrate(&rip.Advertisement{
		Originator: netip.MustParseAddr("172.16.0.1"),
		Entries:    []rip.Entry{{Network: netip.MustParseAddr("10.5.0.0"), PrefixLen: 16, Metric: 1}},
	})

	rt, ok := r.Table().Lookup(netip.MustParseAddr("10.5.0.0"), 16)
	require.True(t, ok)
	assert.False(t, rt.ExitResolved())
	via, _ := rt.NextHop.Addr()
	assert.Equal(t, netip.MustParseAddr("172.16.0.1"), via)
}

func TestIntegrateDropsSaturatedMetric(t *testing.T) {
	r := newTestRouter(t, iface("eth0", "10.0.2.2/24"))

	r.integrate(&rip.Advertisement{
		Originator: netip.MustParseAddr("10.0.2.1"),
		Entries: []rip.Entry{
			{Network: netip.MustParseAddr("10.5.0.0"), PrefixLen: 16, Metric: 255},
			{Network: netip.MustParseAddr("10.6.0.0"), PrefixLen: 16, Metric: 254},
		},
	})

	_, ok := r.Table().Lookup(netip.MustParseAddr("10.5.0.0"), 16)
	assert.False(t, ok)
	rt, ok := r.Table().Lookup(netip.MustParseAddr("10.6.0.0"), 16)
	require.True(t, ok)
	assert.Equal(t, uint8(255), rt.Metric)
}

func TestIntegrateIgnoresZeroMetric(t *testing.T) {
	r := newTestRouter(t, iface("eth0", "10.0.2.2/24"))
	network := netip.MustParseAddr("10.5.0.0")

	r.integrate(&rip.Advertisement{
		Originator: netip.MustParseAddr("10.0.2.1"),
		Entries:    []rip.Entry{{Network: network, PrefixLen: 16, Metric: 2}},
	})
	r.integrate(&rip.Advertisement{
		Originator: netip.MustParseAddr("10.0.2.9"),
		Entries:    []rip.Entry{{Network: network, PrefixLen: 16, Metric: 0}},
	})

	rt, ok := r.Table().Lookup(network, 16)
	require.True(t, ok)
	via, _ := rt.NextHop.Addr()
	assert.Equal(t, netip.MustParseAddr("10.0.2.1"), via)
	assert.Equal(t, uint8(3), rt.Metric)
}

func TestMalformedDatagramResilience(t *testing.T) {
	b := startTestRouter(t, iface("eth0", "10.0.2.2/24"))
	before := b.RoutingTable()

	valid, err := rip.Encode(&rip.Advertisement{
		Originator: netip.MustParseAddr("10.0.2.1"),
		Entries:    []rip.Entry{{Network: netip.MustParseAddr("10.0.0.0"), PrefixLen: 24, Metric: 1}},
	})
	require.NoError(t, err)

	miscounted := append([]byte(nil), valid...)
	miscounted[5] = 7

	sendRaw(t, b.ListenAddr(), valid[:len(valid)-2])
	sendRaw(t, b.ListenAddr(), miscounted)
	sendRaw(t, b.ListenAddr(), []byte{1})

	// a zero metric would otherwise be stored at the cost of a connected network
	zeroMetric := append([]byte(nil), valid...)
	zeroMetric[rip.HeaderLen+5] = 0
	sendRaw(t, b.ListenAddr(), zeroMetric)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, b.RoutingTable())

	sendRaw(t, b.ListenAddr(), valid)
	require.Eventually(t, func() bool {
		_, ok := lookup(b, "10.0.0.0/24")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendUpdateBeforeStart(t *testing.T) {
	r := newTestRouter(t, iface("eth0", "10.0.2.2/24"))

	err := r.SendUpdate(loopback, netip.MustParseAddr("10.0.2.2"))
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.ErrorIs(t, err, ErrNotStarted)

	// table is readable without transport
	assert.Len(t, r.RoutingTable(), 1)
}

func TestSendUpdateRejectsBadOriginator(t *testing.T) {
	r := startTestRouter(t, iface("eth0", "10.0.2.2/24"))

	err := r.SendUpdateTo(r.ListenAddr(), netip.MustParseAddr("fd00::1"))
	var sendErr *SendError
	assert.ErrorAs(t, err, &sendErr)
}

func TestStartBindError(t *testing.T) {
	a := startTestRouter(t, iface("eth0", "10.0.2.1/24"))

	b := New([]route.Interface{iface("eth0", "10.0.2.2/24")},
		WithPort(int(a.ListenAddr().Port())), WithLogger(logging.Discard()))
	err := b.Start(context.Background(), loopback)

	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, a.ListenAddr().Port(), bindErr.Addr.Port())
	assert.False(t, b.Running())
	assert.ErrorIs(t, b.SendUpdate(loopback, netip.MustParseAddr("10.0.2.2")), ErrNotStarted)

	// the failed attempt left nothing behind, so a retry on a free port works
	b.port = 0
	require.NoError(t, b.Start(context.Background(), loopback))
	require.NoError(t, b.Stop())
}

func TestLifecycle(t *testing.T) {
	r := newTestRouter(t, iface("eth0", "10.0.2.2/24"))

	require.NoError(t, r.Start(context.Background(), loopback))
	assert.True(t, r.Running())
	assert.ErrorIs(t, r.Start(context.Background(), loopback), ErrAlreadyStarted)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	assert.False(t, r.Running())
	assert.ErrorIs(t, r.Start(context.Background(), loopback), ErrStopped)

	err := r.SendUpdate(loopback, netip.MustParseAddr("10.0.2.2"))
	assert.True(t, errors.Is(err, ErrNotStarted))
}

func TestContextCancelStopsWorker(t *testing.T) {
	r := newTestRouter(t, iface("eth0", "10.0.2.2/24"))
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, r.Start(ctx, loopback))
	done := r.done
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after cancellation")
	}
	assert.False(t, r.Running())
	require.NoError(t, r.Stop())
}

func TestReadTimeoutKeepsReceiving(t *testing.T) {
	r := New([]route.Interface{iface("eth0", "10.0.2.2/24")},
		WithPort(0), WithReadTimeout(10*time.Millisecond), WithLogger(logging.Discard()))
	require.NoError(t, r.Start(context.Background(), loopback))
	defer r.Stop()

	time.Sleep(50 * time.Millisecond)

	payload, err := rip.Encode(&rip.Advertisement{
		Originator: netip.MustParseAddr("10.0.2.1"),
		Entries:    []rip.Entry{{Network: netip.MustParseAddr("10.0.0.0"), PrefixLen: 24, Metric: 1}},
	})
	require.NoError(t, err)
	sendRaw(t, r.ListenAddr(), payload)

	require.Eventually(t, func() bool {
		_, ok := lookup(r, "10.0.0.0/24")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOversizedDatagramDropped(t *testing.T) {
	r := New([]route.Interface{iface("eth0", "10.0.2.2/24")},
		WithPort(0), WithBufferSize(rip.HeaderLen+rip.EntryLen), WithLogger(logging.Discard()))
	require.NoError(t, r.Start(context.Background(), loopback))
	defer r.Stop()

	// two entries do not fit, the truncated read fails the length check
	large, err := rip.Encode(&rip.Advertisement{
		Originator: netip.MustParseAddr("10.0.2.1"),
		Entries: []rip.Entry{
			{Network: netip.MustParseAddr("10.7.0.0"), PrefixLen: 16, Metric: 1},
			{Network: netip.MustParseAddr("10.8.0.0"), PrefixLen: 16, Metric: 1},
		},
	})
	require.NoError(t, err)
	sendRaw(t, r.ListenAddr(), large)

	small, err := rip.Encode(&rip.Advertisement{
		Originator: netip.MustParseAddr("10.0.2.1"),
		Entries:    []rip.Entry{{Network: netip.MustParseAddr("10.9.0.0"), PrefixLen: 16, Metric: 1}},
	})
	require.NoError(t, err)
	sendRaw(t, r.ListenAddr(), small)

	require.Eventually(t, func() bool {
		_, ok := lookup(r, "10.9.0.0/16")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	_, ok := lookup(r, "10.7.0.0/16")
	assert.False(t, ok)
}
