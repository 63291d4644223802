package router

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrC0ns0le/ripd/pkg/logging"
)

type recordingSender struct {
	mu    sync.Mutex
	calls map[Neighbor]int
	err   error
}

func (s *recordingSender) SendUpdate(dst netip.Addr, localExit netip.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[Neighbor]int)
	}
	s.calls[Neighbor{Address: dst, Via: localExit}]++
	return s.err
}

func (s *recordingSender) count(n Neighbor) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[n]
}

func TestBroadcasterSendsToEveryNeighbor(t *testing.T) {
	neighbors := []Neighbor{
		{Address: netip.MustParseAddr("127.0.0.2"), Via: netip.MustParseAddr("10.0.2.1")},
		{Address: netip.MustParseAddr("127.0.0.3"), Via: netip.MustParseAddr("10.0.3.1")},
	}
	sender := &recordingSender{}
	b := NewBroadcaster(sender, neighbors, logging.Discard())
	b.SetInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return sender.count(neighbors[0]) >= 3 && sender.count(neighbors[1]) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not stop")
	}
}

func TestBroadcasterKeepsGoingAfterErrors(t *testing.T) {
	n := Neighbor{Address: netip.MustParseAddr("127.0.0.2"), Via: netip.MustParseAddr("10.0.2.1")}
	sender := &recordingSender{err: &SendError{Err: errors.New("network unreachable")}}
	b := NewBroadcaster(sender, []Neighbor{n}, logging.Discard())
	b.SetInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	assert.Eventually(t, func() bool {
		return sender.count(n) >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBroadcasterWithoutNeighbors(t *testing.T) {
	b := NewBroadcaster(&recordingSender{}, nil, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not return")
	}
}

func TestBroadcasterOverRouters(t *testing.T) {
	a := startTestRouter(t, iface("eth0", "10.0.0.1/24"), iface("eth1", "10.0.2.1/24"))
	b := startTestRouter(t, iface("eth0", "10.0.2.2/24"))

	// address b's ephemeral port through a sender adapter
	sender := senderFunc(func(dst, via netip.Addr) error {
		return a.SendUpdateTo(netip.AddrPortFrom(dst, b.ListenAddr().Port()), via)
	})
	bc := NewBroadcaster(sender, []Neighbor{{Address: loopback, Via: netip.MustParseAddr("10.0.2.1")}}, logging.Discard())
	bc.SetInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bc.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok := lookup(b, "10.0.0.0/24")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

type senderFunc func(dst, via netip.Addr) error

func (f senderFunc) SendUpdate(dst, via netip.Addr) error {
	return f(dst, via)
}
