package netctl

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// RouteTableRule selects traffic that is looked up in a dedicated table.
type RouteTableRule struct {
	Priority int          // lower values are processed first
	Src      netip.Prefix // optional
	Dst      netip.Prefix // optional
}

func validTableID(tableID int) error {
	if tableID < 1 || tableID > 252 {
		return fmt.Errorf("invalid table ID %d: must be between 1 and 252", tableID)
	}
	return nil
}

func validateRule(rule RouteTableRule) error {
	if rule.Priority < 0 {
		return fmt.Errorf("priority must be non-negative")
	}

	if rule.Src.IsValid() && rule.Dst.IsValid() && rule.Src.Addr().Is4() != rule.Dst.Addr().Is4() {
		return fmt.Errorf("source and destination IP versions must match")
	}

	return nil
}

func ruleFamily(rule RouteTableRule) int {
	for _, p := range []netip.Prefix{rule.Src, rule.Dst} {
		if p.IsValid() && !p.Addr().Is4() {
			return netlink.FAMILY_V6
		}
	}
	return netlink.FAMILY_V4
}

func (rule RouteTableRule) netlinkRule(tableID int) *netlink.Rule {
	nlRule := netlink.NewRule()
	nlRule.Table = tableID
	nlRule.Priority = rule.Priority
	nlRule.Family = ruleFamily(rule)
	if rule.Src.IsValid() {
		nlRule.Src = prefixToIPNet(rule.Src)
	}
	if rule.Dst.IsValid() {
		nlRule.Dst = prefixToIPNet(rule.Dst)
	}
	return nlRule
}

// EnsureRouteTable adds policy rules that direct traffic to tableID. Rules
// that already exist are left alone.
func EnsureRouteTable(tableID int, rules []RouteTableRule) error {
	if err := validTableID(tableID); err != nil {
		return err
	}

	for _, rule := range rules {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("invalid rule configuration: %w", err)
		}

		if err := netlink.RuleAdd(rule.netlinkRule(tableID)); err != nil && !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("failed to add rule: %w", err)
		}
	}

	return nil
}

// DeleteRouteTable removes the policy rules pointing at tableID and every
// route in it.
func DeleteRouteTable(tableID int) error {
	if err := validTableID(tableID); err != nil {
		return err
	}

	rules, err := netlink.RuleList(netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	for _, rule := range rules {
		if rule.Table == tableID {
			if err := netlink.RuleDel(&rule); err != nil {
				return fmt.Errorf("failed to delete rule: %w", err)
			}
		}
	}

	routes, err := netlink.RouteListFiltered(netlink.FAMILY_ALL, &netlink.Route{Table: tableID}, netlink.RT_FILTER_TABLE)
	if err != nil {
		return fmt.Errorf("failed to list routes: %w", err)
	}

	for _, route := range routes {
		if err := netlink.RouteDel(&route); err != nil {
			return fmt.Errorf("failed to delete route from table %d: %w", tableID, err)
		}
	}

	return nil
}
