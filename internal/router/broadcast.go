package router

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/cespare/xxhash"

	"github.com/DrC0ns0le/ripd/pkg/logging"
)

var (
	broadcastInterval = flag.Duration("rip.interval", 5*time.Second, "interval between advertisements to each neighbor")
)

// Neighbor receives our advertisements. Via is the local interface address
// placed in the advertisement as originator.
type Neighbor struct {
	Address netip.Addr
	Via     netip.Addr
}

type updateSender interface {
	SendUpdate(dst netip.Addr, localExit netip.Addr) error
}

// Broadcaster periodically sends the routing table to every neighbor. Send
// failures are logged and retried on the next tick only.
type Broadcaster struct {
	sender    updateSender
	neighbors []Neighbor
	interval  time.Duration
	logger    logging.Logger
}

func NewBroadcaster(sender updateSender, neighbors []Neighbor, logger logging.Logger) *Broadcaster {
	return &Broadcaster{
		sender:    sender,
		neighbors: neighbors,
		interval:  *broadcastInterval,
		logger:    logger.With("component", "broadcaster"),
	}
}

// SetInterval overrides the -rip.interval flag.
func (b *Broadcaster) SetInterval(d time.Duration) {
	b.interval = d
}

// Run starts one worker per neighbor and blocks until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	if len(b.neighbors) == 0 {
		b.logger.Infof("no neighbors configured, nothing to broadcast")
		<-ctx.Done()
		return
	}

	b.logger.Infof("broadcasting to %d neighbors every %s", len(b.neighbors), b.interval)

	var wg sync.WaitGroup
	for _, n := range b.neighbors {
		wg.Add(1)
		go func(n Neighbor) {
			defer wg.Done()
			b.worker(ctx, n)
		}(n)
	}
	wg.Wait()
}

func (b *Broadcaster) worker(ctx context.Context, n Neighbor) {
	logger := b.logger.With("neighbor", n.Address.String(), "via", n.Via.String())

	// spread neighbors over the interval so updates do not burst together
	key := fmt.Sprintf("neighbor=%s, via=%s", n.Address, n.Via)
	h := xxhash.Sum64String(key)
	offset := time.Duration(float64(b.interval) * (float64(h) / (1 << 64)))

	timer := time.NewTimer(offset)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	send := func() {
		if err := b.sender.SendUpdate(n.Address, n.Via); err != nil {
			logger.Errorf("error sending update: %v", err)
			return
		}
		logger.Debugf("update sent")
	}

	send()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}
