// Package measure probes neighbor reachability over ICMP. Results are only
// exported as metrics; they never influence route selection.
package measure

import (
	"context"
	"flag"
	"net/netip"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	probing "github.com/prometheus-community/pro-bing"

	"github.com/DrC0ns0le/ripd/internal/router"
	"github.com/DrC0ns0le/ripd/pkg/logging"
)

var (
	probeInterval   = flag.Duration("probe.interval", 15*time.Second, "interval between neighbor probes")
	probeCount      = flag.Int("probe.count", 5, "echo requests per probe")
	probePrivileged = flag.Bool("probe.privileged", true, "use raw ICMP sockets")

	neighborStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rip_neighbor_status",
		Help: "1 when the neighbor answered the last probe",
	}, []string{"neighbor", "via"})
	neighborRTT = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rip_neighbor_rtt_microseconds",
		Help: "average neighbor round trip time in microseconds",
	}, []string{"neighbor", "via"})
	neighborJitter = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rip_neighbor_jitter_microseconds",
		Help: "standard deviation of the neighbor round trip time in microseconds",
	}, []string{"neighbor", "via"})
	neighborLoss = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rip_neighbor_loss",
		Help: "neighbor packet loss in percent",
	}, []string{"neighbor", "via"})
)

type Result struct {
	Status     int
	AvgLatency int64
	Jitter     int64
	Loss       float64
}

type probeFunc func(ctx context.Context, source, target netip.Addr) (Result, error)

type Prober struct {
	neighbors []router.Neighbor
	interval  time.Duration
	probe     probeFunc
	logger    logging.Logger
}

func NewProber(neighbors []router.Neighbor, logger logging.Logger) *Prober {
	return &Prober{
		neighbors: neighbors,
		interval:  *probeInterval,
		probe:     measureICMP,
		logger:    logger.With("component", "prober"),
	}
}

// Run probes all neighbors every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Infof("probing %d neighbors every %s", len(p.neighbors), p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, n := range p.neighbors {
		wg.Add(1)
		go func(n router.Neighbor) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, p.interval)
			defer cancel()

			labels := []string{n.Address.String(), n.Via.String()}
			result, err := p.probe(probeCtx, n.Via, n.Address)
			if err != nil {
				p.logger.Errorf("error probing %s: %v", n.Address, err)
			}
			neighborStatus.WithLabelValues(labels...).Set(float64(result.Status))
			if result.Status == 1 {
				neighborRTT.WithLabelValues(labels...).Set(float64(result.AvgLatency))
				neighborJitter.WithLabelValues(labels...).Set(float64(result.Jitter))
			}
			neighborLoss.WithLabelValues(labels...).Set(result.Loss)
		}(n)
	}
	wg.Wait()
}

func measureICMP(ctx context.Context, source, target netip.Addr) (Result, error) {
	pinger, err := probing.NewPinger(target.String())
	if err != nil {
		return Result{Loss: 100}, err
	}
	if source.IsValid() {
		pinger.Source = source.String()
	}
	pinger.SetPrivileged(*probePrivileged)
	pinger.Interval = 250 * time.Millisecond
	pinger.Timeout = 2 * time.Second
	pinger.Count = *probeCount

	if err := pinger.RunWithContext(ctx); err != nil {
		return Result{Loss: 100}, err
	}

	stats := pinger.Statistics()
	if stats.PacketLoss == 100 {
		return Result{Loss: 100}, nil
	}
	return Result{
		Status:     1,
		AvgLatency: stats.AvgRtt.Microseconds(),
		Jitter:     stats.StdDevRtt.Microseconds(),
		Loss:       stats.PacketLoss,
	}, nil
}
