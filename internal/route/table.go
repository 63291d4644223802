package route

import (
	"net/netip"
	"sort"
	"sync"
)

// UpsertResult reports what Upsert did with a candidate.
type UpsertResult int

const (
	Discarded UpsertResult = iota
	Inserted
	Replaced
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	default:
		return "discarded"
	}
}

// Table holds at most one Route per (network, prefix length).
type Table struct {
	routes map[Key]Route

	mu sync.Mutex

	updateCh chan struct{}
}

func NewTable() *Table {
	return &Table{
		routes:   make(map[Key]Route),
		updateCh: make(chan struct{}, 1),
	}
}

// Seed installs a connected route for every interface.
func (t *Table) Seed(interfaces []Interface) {
	for _, iface := range interfaces {
		t.Upsert(Route{
			Network:       iface.Network(),
			PrefixLen:     iface.PrefixLen,
			NextHop:       Direct(),
			Metric:        1,
			ExitInterface: iface.Address,
		})
	}
}

// Upsert inserts candidate when its key is unknown and replaces the stored
// route only when candidate has a strictly lower metric.
func (t *Table) Upsert(candidate Route) UpsertResult {
	key := candidate.Key()

	t.mu.Lock()
	stored, exists := t.routes[key]
	result := Discarded
	switch {
	case !exists:
		result = Inserted
	case candidate.Metric < stored.Metric:
		result = Replaced
	}
	if result != Discarded {
		t.routes[key] = candidate
	}
	t.mu.Unlock()

	if result != Discarded {
		t.notify()
	}
	return result
}

func (t *Table) notify() {
	select {
	case t.updateCh <- struct{}{}:
	default:
	}
}

// Updates signals after the table changed. Signals coalesce, so a receiver
// must re-read the whole table.
func (t *Table) Updates() <-chan struct{} {
	return t.updateCh
}

// Snapshot returns a copy of every route ordered by network and prefix length.
func (t *Table) Snapshot() []Route {
	t.mu.Lock()
	routes := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		routes = append(routes, r)
	}
	t.mu.Unlock()

	sort.Slice(routes, func(i, j int) bool {
		if c := routes[i].Network.Compare(routes[j].Network); c != 0 {
			return c < 0
		}
		return routes[i].PrefixLen < routes[j].PrefixLen
	})
	return routes
}

func (t *Table) Lookup(network netip.Addr, prefixLen int) (Route, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routes[Key{Network: network, PrefixLen: prefixLen}]
	return r, ok
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.routes)
}
