package main

import (
	"context"
	"errors"
	"flag"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/DrC0ns0le/ripd/internal/config"
	"github.com/DrC0ns0le/ripd/internal/measure"
	"github.com/DrC0ns0le/ripd/internal/rip"
	"github.com/DrC0ns0le/ripd/internal/route"
	"github.com/DrC0ns0le/ripd/internal/route/kernel"
	"github.com/DrC0ns0le/ripd/internal/router"
	"github.com/DrC0ns0le/ripd/internal/server"
	"github.com/DrC0ns0le/ripd/internal/system"
	"github.com/DrC0ns0le/ripd/internal/system/netctl"
	"github.com/DrC0ns0le/ripd/pkg/logging"
)

var (
	configPath  = flag.String("config", "", "path to the interface and neighbor yaml file")
	bindAddr    = flag.String("bind", "", "address the router sockets bind to, overrides the config file")
	ripPort     = flag.Int("rip.port", rip.Port, "udp port for advertisements")
	ripBuffer   = flag.Int("rip.buffer", rip.MaxDatagram, "receive buffer size in bytes, larger datagrams are dropped as malformed")
	discover    = flag.Bool("interfaces.discover", false, "discover interfaces through netlink instead of the config file")
	devices     = flag.String("interfaces.devices", "", "comma separated devices to discover, empty for all")
	installKRT  = flag.Bool("kernel.install", false, "mirror learned routes into the kernel routing table")
	kernelTable = flag.Int("kernel.table", 0, "kernel routing table for learned routes, 0 for main")
	kernelPrio  = flag.Int("kernel.rule.priority", 1000, "priority of the policy rule looking up -kernel.table")
	probeEnable = flag.Bool("probe.enabled", false, "probe neighbors over icmp")
)

func main() {

	flag.Parse()

	node := &system.Node{
		StopCh: make(chan struct{}),
		Logger: logging.NewDefaultLogger(),
	}

	node.Logger.Infof("starting ripd")

	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			node.Logger.Fatalf("failed to load config: %v", err)
		}
	}

	interfaces, err := loadInterfaces(cfg)
	if err != nil {
		node.Logger.Fatalf("failed to discover interfaces: %v", err)
	}
	if len(interfaces) == 0 {
		node.Logger.Fatalf("no interfaces configured, use -config or -interfaces.discover")
	}
	for _, iface := range interfaces {
		node.Logger.Infof("interface %s", iface)
	}

	bind := netip.IPv4Unspecified()
	if cfg.Bind.IsValid() {
		bind = cfg.Bind
	}
	if *bindAddr != "" {
		bind, err = netip.ParseAddr(*bindAddr)
		if err != nil {
			node.Logger.Fatalf("invalid bind address %q: %v", *bindAddr, err)
		}
	}

	node.Router = router.New(interfaces,
		router.WithPort(*ripPort),
		router.WithBufferSize(*ripBuffer),
		router.WithLogger(node.Logger),
	)
	for _, n := range cfg.Neighbors {
		node.Neighbors = append(node.Neighbors, router.Neighbor{Address: n.Address, Via: n.Via})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := node.Router.Start(ctx, bind); err != nil {
		var bindErr *router.BindError
		if errors.As(err, &bindErr) {
			node.Logger.Fatalf("failed to bind %s: %v", bindErr.Addr, bindErr.Err)
		}
		node.Logger.Fatalf("failed to start router: %v", err)
	}

	// periodic advertisements
	go router.NewBroadcaster(node.Router, node.Neighbors, node.Logger).Run(ctx)

	// kernel route mirroring, removed again on shutdown
	alignerDone := make(chan struct{})
	if !*installKRT {
		close(alignerDone)
	} else {
		if *kernelTable != 0 {
			rule := netctl.RouteTableRule{Priority: *kernelPrio}
			if err := netctl.EnsureRouteTable(*kernelTable, []netctl.RouteTableRule{rule}); err != nil {
				node.Logger.Fatalf("failed to set up routing table %d: %v", *kernelTable, err)
			}
		}
		kernelSystem := netctl.Kernel{Protocol: netctl.CustomRouteProtocol, Table: *kernelTable}
		aligner := kernel.NewAligner(node.Router.Table(), kernelSystem, node.Logger)
		go func() {
			defer close(alignerDone)
			aligner.Start(ctx)
		}()
	}

	// neighbor probing
	if *probeEnable {
		go measure.NewProber(node.Neighbors, node.Logger).Run(ctx)
	}

	// http, grpc and control socket
	serverManager := server.NewServerManager(node)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := serverManager.Start(); err != nil {
			node.Logger.Errorf("server manager: %v", err)
		}
	}()

	// wait for termination signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	node.Logger.Infof("received %s, shutting down", s)

	close(node.StopCh)
	cancel()
	if err := node.Router.Stop(); err != nil {
		node.Logger.Errorf("failed to stop router: %v", err)
	}
	<-alignerDone
	<-serverDone
}

func loadInterfaces(cfg *config.Config) ([]route.Interface, error) {
	if !*discover {
		return cfg.Interfaces, nil
	}

	var names []string
	for _, d := range strings.Split(*devices, ",") {
		if d = strings.TrimSpace(d); d != "" {
			names = append(names, d)
		}
	}
	return netctl.DiscoverInterfaces(names...)
}
