// Package rde defines the Route Decision Engine seam the core calls through
// and a minimal in-memory reference implementation, so that the rest of the
// repository has something concrete to wire the external collaborator
// interface into. Route-selection policy and RIB storage structure are
// explicitly out of scope; Table below is a record of what was received,
// not a routing table.
package rde

import (
	"net/netip"
	"sync"

	"github.com/polaris-bgp/bgpd/packet"
)

// Processor is the collaborator interface the core's session.Session
// driver calls whenever an FSM surfaces a decoded UPDATE via
// fsm.EffectDeliverUpdate.
type Processor interface {
	ProcessUpdate(peerBGPID uint32, u *packet.UpdateMessage)
}

// Route is one NLRI entry as last advertised by a peer, with the attributes
// it arrived with.
type Route struct {
	Prefix    netip.Prefix
	PeerBGPID uint32
	Attrs     packet.PathAttributes
}

// Table is a minimal in-memory Processor: it records the most recent
// advertisement per (peer, prefix) and drops an entry on withdrawal. It does
// not implement best-path selection, RIB-in/RIB-out separation, or any
// policy -- see the package doc.
type Table struct {
	mu     sync.Mutex
	routes map[tableKey]Route
}

type tableKey struct {
	peerBGPID uint32
	prefix    netip.Prefix
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{routes: make(map[tableKey]Route)}
}

// ProcessUpdate implements Processor: it applies u's withdrawals and then
// records u's NLRI entries with u's attributes.
func (t *Table) ProcessUpdate(peerBGPID uint32, u *packet.UpdateMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range u.Withdrawn {
		delete(t.routes, tableKey{peerBGPID, p})
	}
	if u.Attrs.MPUnreach != nil {
		for _, p := range u.Attrs.MPUnreach.Withdrawn {
			delete(t.routes, tableKey{peerBGPID, p})
		}
	}
	for _, p := range u.NLRI {
		t.routes[tableKey{peerBGPID, p}] = Route{Prefix: p, PeerBGPID: peerBGPID, Attrs: u.Attrs}
	}
}

// Routes returns a snapshot of every route currently recorded, in no
// particular order.
func (t *Table) Routes() []Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	routes := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		routes = append(routes, r)
	}
	return routes
}

// RouteCount returns the number of routes currently recorded, primarily for
// tests and status reporting.
func (t *Table) RouteCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.routes)
}
