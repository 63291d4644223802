// Package rip implements the advertisement datagram exchanged between routers.
//
// Layout, all integers in network byte order:
//
//	originator  4 bytes
//	count       2 bytes
//	entries     count * {network 4 bytes, prefix length 1 byte, metric 1 byte}
package rip

import (
	"encoding/binary"
	"net/netip"

	"github.com/pkg/errors"
)

const (
	// Port is the well-known routing port.
	Port = 8080

	HeaderLen = 6
	EntryLen  = 6

	// MaxDatagram is the largest UDP payload over IPv4.
	MaxDatagram = 65507
	MaxEntries  = (MaxDatagram - HeaderLen) / EntryLen
)

var ErrMalformed = errors.New("malformed datagram")

type Entry struct {
	Network   netip.Addr
	PrefixLen uint8
	Metric    uint8
}

type Advertisement struct {
	Originator netip.Addr
	Entries    []Entry
}

// Len returns the encoded size.
func (a *Advertisement) Len() int {
	return HeaderLen + EntryLen*len(a.Entries)
}

func Encode(adv *Advertisement) ([]byte, error) {
	if !adv.Originator.Is4() {
		return nil, errors.Errorf("originator %v is not an IPv4 address", adv.Originator)
	}
	if len(adv.Entries) > MaxEntries {
		return nil, errors.Errorf("%d entries exceed the datagram limit of %d", len(adv.Entries), MaxEntries)
	}

	buf := make([]byte, adv.Len())
	origin := adv.Originator.As4()
	copy(buf[0:4], origin[:])
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(adv.Entries)))

	offset := HeaderLen
	for i, e := range adv.Entries {
		if !e.Network.Is4() {
			return nil, errors.Errorf("entry %d: network %v is not an IPv4 address", i, e.Network)
		}
		if e.PrefixLen > 32 {
			return nil, errors.Errorf("entry %d: prefix length %d out of range", i, e.PrefixLen)
		}
		if e.Metric == 0 {
			return nil, errors.Errorf("entry %d: metric must be at least 1", i)
		}
		network := e.Network.As4()
		copy(buf[offset:offset+4], network[:])
		buf[offset+4] = e.PrefixLen
		buf[offset+5] = e.Metric
		offset += EntryLen
	}
	return buf, nil
}

// Decode parses a datagram. Every failure matches ErrMalformed.
func Decode(payload []byte) (*Advertisement, error) {
	if len(payload) < HeaderLen {
		return nil, errors.Wrapf(ErrMalformed, "short datagram: %d bytes", len(payload))
	}

	count := int(binary.BigEndian.Uint16(payload[4:6]))
	if want := HeaderLen + count*EntryLen; want != len(payload) {
		return nil, errors.Wrapf(ErrMalformed, "declared %d entries need %d bytes, got %d", count, want, len(payload))
	}

	adv := &Advertisement{
		Originator: netip.AddrFrom4([4]byte(payload[0:4])),
		Entries:    make([]Entry, count),
	}
	offset := HeaderLen
	for i := 0; i < count; i++ {
		e := Entry{
			Network:   netip.AddrFrom4([4]byte(payload[offset : offset+4])),
			PrefixLen: payload[offset+4],
			Metric:    payload[offset+5],
		}
		if e.PrefixLen > 32 {
			return nil, errors.Wrapf(ErrMalformed, "entry %d: prefix length %d", i, e.PrefixLen)
		}
		if e.Metric == 0 {
			return nil, errors.Wrapf(ErrMalformed, "entry %d: metric 0", i)
		}
		adv.Entries[i] = e
		offset += EntryLen
	}
	return adv, nil
}
