// Package linkreactor implements spec.md §4.6: on every port
// oper-state change, translate it into logical next-hop up/down and
// drive the distributor through the shadow table. It shares the bank
// diff logic with routereactor since both ultimately express a
// membership change as types.BankChange.
//
// Grounded on the teacher's network.go helper style for small
// event-translation functions and fsm.fsm's event-driven transitions.
package linkreactor

import (
	"github.com/rs/zerolog"

	"github.com/sonic-net/fgnhgorch/internal/bank"
	"github.com/sonic-net/fgnhgorch/internal/collab"
	"github.com/sonic-net/fgnhgorch/internal/config"
	"github.com/sonic-net/fgnhgorch/internal/logging"
	"github.com/sonic-net/fgnhgorch/internal/routereactor"
	"github.com/sonic-net/fgnhgorch/internal/shadow"
	"github.com/sonic-net/fgnhgorch/internal/types"
)

// Reactor translates port oper-state changes into distributor input.
type Reactor struct {
	cfg      *config.Manager
	shadow   *shadow.Table
	routes   *routereactor.Reactor
	neighbor collab.Neighbor
	log      zerolog.Logger
}

// NewReactor creates a link reactor. routes supplies the RIF-fallback
// handle lookup shared with the route reactor.
func NewReactor(cfg *config.Manager, table *shadow.Table, routes *routereactor.Reactor, neighbor collab.Neighbor) *Reactor {
	return &Reactor{
		cfg:      cfg,
		shadow:   table,
		routes:   routes,
		neighbor: neighbor,
		log:      logging.Component("linkreactor"),
	}
}

// HandlePortStateChange implements spec.md §4.6: for every group, for
// every IP bound to alias, update link_state and invoke member_up or
// member_down as appropriate.
func (r *Reactor) HandlePortStateChange(alias string, up bool) error {
	state := types.LinkDown
	if up {
		state = types.LinkUp
	}

	for _, entry := range r.cfg.Groups {
		ips, bound := entry.Links[alias]
		if !bound {
			continue
		}
		for _, ip := range ips {
			info := entry.NextHops[ip]
			info.LinkState = state
			entry.NextHops[ip] = info

			nh := types.NextHopKey{IP: ip, Alias: alias}
			if up {
				if nextHopID, resolved := r.neighbor.HandleFor(ip); resolved {
					if err := r.memberUp(entry, nh, nextHopID); err != nil {
						return err
					}
				}
			} else {
				if err := r.memberDown(entry, nh); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// memberUp implements spec.md §4.6's member_up(nh): a one-element
// addition, expressed as a types.BankChange through the shared
// bank-diff helper.
func (r *Reactor) memberUp(entry *types.FgNhgEntry, nh types.NextHopKey, nextHopID string) error {
	for _, key := range r.shadow.RoutesForGroup(entry.Name) {
		route, ok := r.shadow.Get(key)
		if !ok {
			continue
		}
		if _, already := route.ActiveNextHops[nh]; already {
			continue
		}

		if route.PointsToRIF {
			if err := r.promoteFromRIF(key, entry, nh, nextHopID); err != nil {
				return err
			}
			continue
		}

		eligible := copyActive(route.ActiveNextHops)
		eligible[nh] = struct{}{}
		if err := r.distribute(key, route, entry, eligible, nh, nextHopID); err != nil {
			return err
		}
	}
	return nil
}

// memberDown implements spec.md §4.6's member_down(nh): only acts if
// nh is currently active.
func (r *Reactor) memberDown(entry *types.FgNhgEntry, nh types.NextHopKey) error {
	for _, key := range r.shadow.RoutesForGroup(entry.Name) {
		route, ok := r.shadow.Get(key)
		if !ok || route.PointsToRIF {
			continue
		}
		if _, active := route.ActiveNextHops[nh]; !active {
			continue
		}
		eligible := copyActive(route.ActiveNextHops)
		delete(eligible, nh)
		if err := r.distribute(key, route, entry, eligible, types.NextHopKey{}, ""); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reactor) distribute(key shadow.RouteKey, route *types.ShadowRoute, entry *types.FgNhgEntry, eligible map[types.NextHopKey]struct{}, newNH types.NextHopKey, newNextHopID string) error {
	ranges := bank.Ranges(route.RealBucketSize, entry.BankCounts())
	changes := routereactor.BuildBankChanges(entry, route, eligible, len(ranges))
	resolve := func(k types.NextHopKey) (string, bool) {
		if newNextHopID != "" && k == newNH {
			return newNextHopID, true
		}
		return r.neighbor.HandleFor(k.IP)
	}
	rifHandle := r.routes.RIFHandleFor(entry)
	_, err := r.shadow.ApplyDistribution(key, route, changes, ranges, resolve, rifHandle)
	return err
}

// promoteFromRIF handles the zero-to-one transition: a route that was
// RIF-only because no member was forwardable now has its first
// candidate. A fresh HAL group of the group's configured bucket size is
// created with this member as its only next hop; subsequent events add
// next hops to it as they become eligible.
func (r *Reactor) promoteFromRIF(key shadow.RouteKey, entry *types.FgNhgEntry, nh types.NextHopKey, nextHopID string) error {
	resolve := func(k types.NextHopKey) (string, bool) {
		if k == nh {
			return nextHopID, true
		}
		return r.neighbor.HandleFor(k.IP)
	}
	perBank := make([][]types.NextHopKey, len(entry.BankCounts()))
	bankIdx, ok := entry.BankOf(nh.IP)
	if !ok || bankIdx >= len(perBank) {
		return nil
	}
	perBank[bankIdx] = []types.NextHopKey{nh}
	_, _, err := r.shadow.CreateHALBackedRoute(key, entry.Name, entry.ConfiguredBucketSize, entry.BankCounts(), perBank, resolve, nil)
	return err
}

func copyActive(active map[types.NextHopKey]struct{}) map[types.NextHopKey]struct{} {
	out := make(map[types.NextHopKey]struct{}, len(active)+1)
	for nh := range active {
		out[nh] = struct{}{}
	}
	return out
}
