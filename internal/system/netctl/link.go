package netctl

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"github.com/DrC0ns0le/ripd/internal/route"
)

// DiscoverInterfaces lists the IPv4 addresses of links that are up. When
// devices is not empty only links with those names are considered. Loopback
// addresses are skipped. Order follows the kernel link index.
func DiscoverInterfaces(devices ...string) ([]route.Interface, error) {
	want := make(map[string]bool, len(devices))
	for _, d := range devices {
		want[d] = true
	}

	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	var interfaces []route.Interface
	for _, link := range links {
		attrs := link.Attrs()
		if len(want) > 0 && !want[attrs.Name] {
			continue
		}
		if attrs.OperState != netlink.OperUp && attrs.OperState != netlink.OperUnknown {
			continue
		}

		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil {
			return nil, fmt.Errorf("failed to list addresses of %s: %w", attrs.Name, err)
		}
		for _, a := range addrs {
			if a.IPNet == nil {
				continue
			}
			p, ok := ipNetToPrefix(a.IPNet)
			if !ok || !p.Addr().Is4() || p.Addr().IsLoopback() {
				continue
			}
			interfaces = append(interfaces, route.Interface{
				Device:    attrs.Name,
				Address:   p.Addr(),
				PrefixLen: p.Bits(),
			})
		}
	}

	if len(interfaces) == 0 {
		return nil, fmt.Errorf("no IPv4 interfaces found")
	}
	return interfaces, nil
}
