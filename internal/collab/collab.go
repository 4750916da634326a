// Package collab declares the narrow contracts the manager expects
// from its external collaborators (spec.md §1 "out of scope"): the
// neighbor resolver, the interface table, the VRF table, and the
// general route processor. The manager only ever calls through these
// interfaces, never into a collaborator's concrete type, so tests can
// substitute fakes.
//
// Grounded on the teacher's speaker/policy.go Policer interface pattern
// (narrow interfaces handed to the owning struct rather than concrete
// types).
package collab

import "net/netip"

// Neighbor answers "does this next hop have a resolved HAL handle?"
type Neighbor interface {
	// HandleFor returns the neighbor layer's current HAL next-hop-id
	// for ip, and whether it is resolved at all.
	HandleFor(ip netip.Addr) (nextHopID string, resolved bool)
}

// Interfaces answers "router-interface handle for alias?"
type Interfaces interface {
	RIFHandle(alias string) (handle string, ok bool)
}

// VRFs answers whether a VRF name is the default VRF: FG-ECMP only
// applies to routes in the default VRF (spec.md §4.4).
type VRFs interface {
	IsDefault(vrf string) bool
}

// RouteProcessor is the general (non-FG) route pipeline: "current
// next-hop group for a prefix", and "delete/reinsert a route".
type RouteProcessor interface {
	// CurrentNextHopGroup reports the conventional (non-FG) next-hop
	// group currently programmed for (vrf, prefix), if any.
	CurrentNextHopGroup(vrf string, prefix netip.Prefix) (nhgKey []netip.Addr, ok bool)
	// DeleteRoute removes (vrf, prefix) from the app pipeline.
	DeleteRoute(vrf string, prefix netip.Prefix) error
	// ReinsertRoute re-issues (vrf, prefix, nextHopID) into the app
	// pipeline.
	ReinsertRoute(vrf string, prefix netip.Prefix, nextHopID string) error
}
