package netctl

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const (
	// CustomRouteProtocol marks routes installed by ripd.
	// See /etc/iproute2/rt_protos for standard protocol numbers
	CustomRouteProtocol netlink.RouteProtocol = 201
)

// Result of ConfigureRoute.
const (
	RouteUnchanged = iota
	RouteAdded
	RouteReplaced
)

func prefixToIPNet(p netip.Prefix) *net.IPNet {
	p = p.Masked()
	return &net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

func ipNetToPrefix(n *net.IPNet) (netip.Prefix, bool) {
	if n == nil {
		return netip.Prefix{}, false
	}
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, bits := n.Mask.Size()
	if addr.Is4In6() && bits == 128 {
		ones -= 96
	}
	return netip.PrefixFrom(addr.Unmap(), ones), true
}

func tableOrMain(table int) int {
	if table == 0 {
		return unix.RT_TABLE_MAIN
	}
	return table
}

// ConfigureRoute installs dst via gw tagged with proto into table, replacing a
// managed route with different parameters. src may be the zero Addr and table
// 0 selects the main table.
func ConfigureRoute(dst netip.Prefix, gw, src netip.Addr, proto netlink.RouteProtocol, table int) (int, error) {
	if !dst.IsValid() {
		return RouteUnchanged, fmt.Errorf("network cannot be empty")
	}
	if !gw.IsValid() {
		return RouteUnchanged, fmt.Errorf("gateway cannot be empty")
	}
	if dst.Addr().Is4() != gw.Is4() {
		return RouteUnchanged, fmt.Errorf("destination and gateway IP versions must match")
	}
	if src.IsValid() && src.Is4() != gw.Is4() {
		return RouteUnchanged, fmt.Errorf("source and gateway IP versions must match")
	}

	route := &netlink.Route{
		Dst:      prefixToIPNet(dst),
		Gw:       net.IP(gw.AsSlice()),
		Protocol: proto,
		Table:    tableOrMain(table),
	}
	if src.IsValid() {
		route.Src = net.IP(src.AsSlice())
	}

	existing, err := netlink.RouteListFiltered(netlink.FAMILY_V4, &netlink.Route{Dst: route.Dst, Table: route.Table}, netlink.RT_FILTER_DST|netlink.RT_FILTER_TABLE)
	if err != nil {
		return RouteUnchanged, fmt.Errorf("failed to list routes: %w", err)
	}

	for _, r := range existing {
		if r.Protocol != proto {
			continue
		}
		if r.Gw.Equal(route.Gw) && r.Src.Equal(route.Src) {
			return RouteUnchanged, nil
		}
		if err := netlink.RouteReplace(route); err != nil {
			return RouteUnchanged, fmt.Errorf("failed to update route: %w", err)
		}
		return RouteReplaced, nil
	}

	if err := netlink.RouteAdd(route); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return RouteReplaced, netlink.RouteReplace(route)
		}
		return RouteUnchanged, fmt.Errorf("failed to add route: %w", err)
	}
	return RouteAdded, nil
}

// RemoveRoute deletes the managed route to dst. A missing route is not an error.
func RemoveRoute(dst netip.Prefix, proto netlink.RouteProtocol, table int) error {
	if !dst.IsValid() {
		return fmt.Errorf("network cannot be empty")
	}

	err := netlink.RouteDel(&netlink.Route{Dst: prefixToIPNet(dst), Protocol: proto, Table: tableOrMain(table)})
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to remove route: %w", err)
	}
	return nil
}

func listManaged(proto netlink.RouteProtocol, table int) ([]netlink.Route, error) {
	filter := &netlink.Route{Protocol: proto, Table: tableOrMain(table)}
	return netlink.RouteListFiltered(netlink.FAMILY_V4, filter, netlink.RT_FILTER_PROTOCOL|netlink.RT_FILTER_TABLE)
}

// ListManagedRoutes returns the IPv4 destinations of routes in table tagged with proto.
func ListManagedRoutes(proto netlink.RouteProtocol, table int) ([]netip.Prefix, error) {
	routes, err := listManaged(proto, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}

	prefixes := make([]netip.Prefix, 0, len(routes))
	for _, r := range routes {
		if p, ok := ipNetToPrefix(r.Dst); ok {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes, nil
}

// RemoveAllManagedRoutes deletes every route in table tagged with proto and
// returns how many were removed.
func RemoveAllManagedRoutes(proto netlink.RouteProtocol, table int) (int, error) {
	routes, err := listManaged(proto, table)
	if err != nil {
		return 0, fmt.Errorf("failed to list managed routes: %w", err)
	}

	removed := 0
	var failed []netlink.Route
	for _, r := range routes {
		if err := netlink.RouteDel(&r); err != nil {
			failed = append(failed, r)
			continue
		}
		removed++
	}

	if len(failed) > 0 {
		return removed, fmt.Errorf("failed to remove %d routes: %v", len(failed), failed)
	}
	return removed, nil
}

// Kernel is a kernel routing table seen through routes tagged with Protocol.
// Table 0 is the main table.
type Kernel struct {
	Protocol netlink.RouteProtocol
	Table    int
}

func (k Kernel) Configure(dst netip.Prefix, gw, src netip.Addr) (int, error) {
	return ConfigureRoute(dst, gw, src, k.Protocol, k.Table)
}

func (k Kernel) Remove(dst netip.Prefix) error {
	return RemoveRoute(dst, k.Protocol, k.Table)
}

func (k Kernel) List() ([]netip.Prefix, error) {
	return ListManagedRoutes(k.Protocol, k.Table)
}

func (k Kernel) Flush() (int, error) {
	return RemoveAllManagedRoutes(k.Protocol, k.Table)
}

// Teardown deletes a dedicated table together with its policy rules. The
// main table is left alone.
func (k Kernel) Teardown() error {
	if k.Table == 0 {
		return nil
	}
	return DeleteRouteTable(k.Table)
}
