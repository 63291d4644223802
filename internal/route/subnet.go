package route

import (
	"encoding/binary"
	"net/netip"
)

// Interface is a locally configured IPv4 interface.
type Interface struct {
	Device    string
	Address   netip.Addr
	PrefixLen int
}

// Mask returns the interface's subnet mask.
func (i Interface) Mask() uint32 {
	return PrefixToMask(i.PrefixLen)
}

// Network returns the interface address with host bits cleared.
func (i Interface) Network() netip.Addr {
	return NetworkOf(i.Address, i.Mask())
}

func (i Interface) String() string {
	return i.Device + " " + netip.PrefixFrom(i.Address, i.PrefixLen).String()
}

// PrefixToMask returns the mask with the top n bits set. n is clamped to 0..32.
func PrefixToMask(n int) uint32 {
	switch {
	case n <= 0:
		return 0
	case n >= 32:
		return 0xffffffff
	}
	return ^uint32(0) << (32 - n)
}

func AddrToUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

func Uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// MaskAddr renders a mask in dotted quad form.
func MaskAddr(mask uint32) netip.Addr {
	return Uint32ToAddr(mask)
}

// NetworkOf returns addr AND mask.
func NetworkOf(addr netip.Addr, mask uint32) netip.Addr {
	return Uint32ToAddr(AddrToUint32(addr) & mask)
}

func SameSubnet(a, b netip.Addr, mask uint32) bool {
	return NetworkOf(a, mask) == NetworkOf(b, mask)
}

// ResolveLocalInterface returns the first interface that shares a subnet with
// originator under the interface's own mask. Only meaningful for directly
// attached neighbors.
func ResolveLocalInterface(originator netip.Addr, interfaces []Interface) (Interface, bool) {
	if !originator.Is4() {
		return Interface{}, false
	}
	for _, iface := range interfaces {
		if !iface.Address.Is4() {
			continue
		}
		if SameSubnet(iface.Address, originator, iface.Mask()) {
			return iface, true
		}
	}
	return Interface{}, false
}
