// Package kernel mirrors learned routes into the system routing table.
package kernel

import (
	"context"
	"flag"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DrC0ns0le/ripd/internal/route"
	"github.com/DrC0ns0le/ripd/internal/system/netctl"
	"github.com/DrC0ns0le/ripd/pkg/logging"
)

var (
	alignerInterval = flag.Duration("kernel.interval", 30*time.Second, "interval to check for missing kernel routes")

	kernelOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rip_kernel_route_operations_total",
		Help: "kernel route changes made by the aligner",
	}, []string{"op", "outcome"})
)

// System is the subset of the kernel routing table the aligner manages.
type System interface {
	Configure(dst netip.Prefix, gw, src netip.Addr) (int, error)
	Remove(dst netip.Prefix) error
	List() ([]netip.Prefix, error)
	Flush() (int, error)
}

// tearer is implemented by systems that own more than their routes, such as
// a dedicated kernel table with its policy rules.
type tearer interface {
	Teardown() error
}

// Aligner keeps the managed kernel routes equal to the learned routes of a table.
// Connected routes are left to the kernel.
type Aligner struct {
	table    *route.Table
	system   System
	interval time.Duration
	logger   logging.Logger
}

func NewAligner(table *route.Table, system System, logger logging.Logger) *Aligner {
	return &Aligner{
		table:    table,
		system:   system,
		interval: *alignerInterval,
		logger:   logger.With("component", "aligner"),
	}
}

// Start flushes stale managed routes, then aligns on every table change and
// on every interval tick until ctx is done. Managed routes are removed again
// before it returns.
func (a *Aligner) Start(ctx context.Context) {
	removed, err := a.system.Flush()
	if err != nil {
		a.logger.Errorf("removed only %d stale routes: %v", removed, err)
	} else {
		a.logger.Infof("removed %d stale routes", removed)
	}

	a.Align()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return
		case <-a.table.Updates():
			a.logger.Debugf("routing table changed")
			a.Align()
		case <-ticker.C:
			a.Align()
		}
	}
}

// Align installs every learned route and removes managed routes that are no
// longer wanted.
func (a *Aligner) Align() {
	wanted := make(map[netip.Prefix]bool)
	for _, r := range a.table.Snapshot() {
		gw, learned := r.NextHop.Addr()
		if !learned {
			continue
		}
		prefix := r.Prefix()
		wanted[prefix] = true

		result, err := a.system.Configure(prefix, gw, r.ExitInterface)
		if err != nil {
			kernelOps.WithLabelValues("configure", "error").Inc()
			a.logger.Errorf("failed to configure route %s via %s: %v", prefix, gw, err)
			continue
		}
		switch result {
		case netctl.RouteAdded:
			kernelOps.WithLabelValues("configure", "added").Inc()
			a.logger.Infof("added route %s via %s", prefix, gw)
		case netctl.RouteReplaced:
			kernelOps.WithLabelValues("configure", "replaced").Inc()
			a.logger.Infof("replaced route %s via %s", prefix, gw)
		}
	}

	managed, err := a.system.List()
	if err != nil {
		a.logger.Errorf("failed to list managed routes: %v", err)
		return
	}
	for _, prefix := range managed {
		if wanted[prefix] {
			continue
		}
		if err := a.system.Remove(prefix); err != nil {
			kernelOps.WithLabelValues("remove", "error").Inc()
			a.logger.Errorf("failed to remove route %s: %v", prefix, err)
			continue
		}
		kernelOps.WithLabelValues("remove", "removed").Inc()
		a.logger.Infof("removed route %s", prefix)
	}
}

func (a *Aligner) shutdown() {
	removed, err := a.system.Flush()
	if err != nil {
		kernelOps.WithLabelValues("flush", "error").Inc()
		a.logger.Errorf("removed only %d routes on shutdown: %v", removed, err)
	} else {
		a.logger.Infof("removed %d routes on shutdown", removed)
	}

	if t, ok := a.system.(tearer); ok {
		if err := t.Teardown(); err != nil {
			a.logger.Errorf("failed to tear down routing table: %v", err)
		}
	}
}
