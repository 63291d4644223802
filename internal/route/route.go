package route

import (
	"fmt"
	"net/netip"
)

// NextHop tells a connected network apart from one learned through a neighbor.
// The zero value is Direct.
type NextHop struct {
	via netip.Addr
}

// Direct is the next hop of a directly connected network.
func Direct() NextHop {
	return NextHop{}
}

// Via is the next hop of a route learned from the neighbor at addr.
func Via(addr netip.Addr) NextHop {
	return NextHop{via: addr}
}

func (h NextHop) IsDirect() bool {
	return !h.via.IsValid()
}

// Addr returns the neighbor address and false for direct routes.
func (h NextHop) Addr() (netip.Addr, bool) {
	return h.via, h.via.IsValid()
}

func (h NextHop) String() string {
	if h.IsDirect() {
		return "direct"
	}
	return h.via.String()
}

// Key identifies a destination in a Table.
type Key struct {
	Network   netip.Addr
	PrefixLen int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Network, k.PrefixLen)
}

type Route struct {
	Network   netip.Addr
	PrefixLen int
	NextHop   NextHop
	// Metric is the hop count, 1 for connected networks.
	Metric uint8
	// ExitInterface is the local interface address the route leaves through.
	// It is the zero Addr when no local interface matched the advertiser.
	ExitInterface netip.Addr
}

func (r Route) Key() Key {
	return Key{Network: r.Network, PrefixLen: r.PrefixLen}
}

// Prefix returns the destination as a netip.Prefix.
func (r Route) Prefix() netip.Prefix {
	return netip.PrefixFrom(r.Network, r.PrefixLen)
}

func (r Route) ExitResolved() bool {
	return r.ExitInterface.IsValid()
}

func (r Route) String() string {
	exit := "unresolved"
	if r.ExitResolved() {
		exit = r.ExitInterface.String()
	}
	return fmt.Sprintf("%s via %s metric %d dev %s", r.Key(), r.NextHop, r.Metric, exit)
}
