// Package routereactor implements spec.md §4.4: on each route update
// for a (possibly) fine-grained prefix, it decides whether FG-ECMP
// applies, drives the shadow table and bucket distributor, and
// handles the RIF-fallback transition when a group has no forwardable
// member yet (or no longer has one).
//
// Grounded on the teacher's fsm.fsm (a reactor driven by external
// events, dispatching into a handful of named transition functions)
// and network.go's small pure-lookup helper style.
package routereactor

import (
	"fmt"
	"net/netip"

	"github.com/rs/zerolog"

	"github.com/sonic-net/fgnhgorch/internal/bank"
	"github.com/sonic-net/fgnhgorch/internal/collab"
	"github.com/sonic-net/fgnhgorch/internal/config"
	"github.com/sonic-net/fgnhgorch/internal/journal"
	"github.com/sonic-net/fgnhgorch/internal/logging"
	"github.com/sonic-net/fgnhgorch/internal/orchtypes"
	"github.com/sonic-net/fgnhgorch/internal/shadow"
	"github.com/sonic-net/fgnhgorch/internal/types"
)

// Reactor drives route programming for FG-ECMP prefixes.
type Reactor struct {
	cfg      *config.Manager
	shadow   *shadow.Table
	neighbor collab.Neighbor
	ifaces   collab.Interfaces
	vrfs     collab.VRFs

	// Enabled is the global FG enable flag (spec.md §4.4); exported so
	// the CLI/config layer can flip it at runtime.
	Enabled bool

	// recovered holds the warm-restart journal records not yet
	// consumed; CreateHALBackedRoute is handed recovered[prefix] and
	// clears the entry once a route has used it.
	recovered map[string]journal.Record

	log zerolog.Logger
}

// NewReactor creates a route reactor. recovered is the output of
// journal.Journal.Recover at startup; pass nil for a cold start.
func NewReactor(cfg *config.Manager, table *shadow.Table, neighbor collab.Neighbor, ifaces collab.Interfaces, vrfs collab.VRFs, recovered map[string]journal.Record) *Reactor {
	if recovered == nil {
		recovered = make(map[string]journal.Record)
	}
	return &Reactor{
		cfg:       cfg,
		shadow:    table,
		neighbor:  neighbor,
		ifaces:    ifaces,
		vrfs:      vrfs,
		Enabled:   true,
		recovered: recovered,
		log:       logging.Component("routereactor"),
	}
}

// IsFineGrained implements spec.md §4.4: true iff FG is enabled, vrf
// is the default VRF, and either prefix is bound to a group or every
// next hop in nhgKey belongs to the same NexthopBased group.
func (r *Reactor) IsFineGrained(vrf string, prefix netip.Prefix, nhgKey []netip.Addr) bool {
	if !r.Enabled || !r.vrfs.IsDefault(vrf) {
		return false
	}
	if _, ok := r.cfg.BoundGroup(prefix); ok {
		return true
	}
	_, ok := r.cfg.GroupForNextHops(nhgKey)
	return ok
}

// SyncdContains reports whether a shadow route already exists for
// (vrf, prefix). Supplements spec.md's route pipeline contract with
// the original's syncd_contains check (SPEC_FULL.md §7), used to
// avoid reprogramming a route the FG manager already owns.
func (r *Reactor) SyncdContains(vrf string, prefix netip.Prefix) bool {
	_, ok := r.shadow.Get(shadow.RouteKey{VRF: vrf, Prefix: prefix})
	return ok
}

// ProgramRoute implements spec.md §4.4's program_route.
func (r *Reactor) ProgramRoute(vrf string, prefix netip.Prefix, nhgKey []netip.Addr) (nextHopID string, changed bool, err error) {
	groupName, entry, ok := r.identifyGroup(prefix, nhgKey)
	if !ok {
		return "", false, orchtypes.New(orchtypes.KindConfig, fmt.Sprintf("%s: no FG group for this route", prefix))
	}

	if entry.MatchMode == types.PrefixBased {
		r.materializePrefixBased(entry, nhgKey)
	}

	eligible, resolve := r.eligibleNextHops(entry, nhgKey)
	key := shadow.RouteKey{VRF: vrf, Prefix: prefix}
	route, exists := r.shadow.Get(key)

	switch {
	case !exists:
		return r.createRoute(key, groupName, entry, eligible, resolve)

	case route.PointsToRIF && len(eligible) > 0:
		nextHopID, _, err = r.createRoute(key, groupName, entry, eligible, resolve)
		return nextHopID, true, err

	case route.PointsToRIF:
		return derefOr(route.GroupHandle, ""), false, nil

	default:
		return r.rebalanceRoute(key, route, entry, eligible, resolve)
	}
}

// RemoveRoute implements spec.md §4.4's remove_route: idempotent on a
// missing route.
func (r *Reactor) RemoveRoute(vrf string, prefix netip.Prefix) error {
	return r.shadow.RemoveRoute(shadow.RouteKey{VRF: vrf, Prefix: prefix})
}

func (r *Reactor) identifyGroup(prefix netip.Prefix, nhgKey []netip.Addr) (string, *types.FgNhgEntry, bool) {
	if name, ok := r.cfg.BoundGroup(prefix); ok {
		entry, ok := r.cfg.Groups[name]
		return name, entry, ok
	}
	name, ok := r.cfg.GroupForNextHops(nhgKey)
	if !ok {
		return "", nil, false
	}
	return name, r.cfg.Groups[name], true
}

// materializePrefixBased synthesizes next hops from nhgKey into the
// group's member map, capped at MaxNextHops, per spec.md §4.4's
// PrefixBased clause.
func (r *Reactor) materializePrefixBased(entry *types.FgNhgEntry, nhgKey []netip.Addr) {
	for _, ip := range nhgKey {
		if len(entry.NextHops) >= entry.MaxNextHops {
			break
		}
		if _, exists := entry.NextHops[ip]; exists {
			continue
		}
		entry.NextHops[ip] = types.NextHopInfo{Bank: 0, LinkState: types.LinkUp}
	}
}

// eligibleNextHops filters nhgKey to next hops that are resolved, not
// link-down, and not NHFLAGS_IFDOWN, per spec.md §4.4 step 2. It also
// returns a shadow.Resolver closure bound to the current neighbor
// state, for the shadow table's HAL writes.
func (r *Reactor) eligibleNextHops(entry *types.FgNhgEntry, nhgKey []netip.Addr) (map[types.NextHopKey]struct{}, shadow.Resolver) {
	eligible := make(map[types.NextHopKey]struct{})
	ids := make(map[types.NextHopKey]string)
	for _, ip := range nhgKey {
		info, known := entry.NextHops[ip]
		if !known {
			continue
		}
		if info.IfDown || info.LinkState == types.LinkDown {
			continue
		}
		nextHopID, resolved := r.neighbor.HandleFor(ip)
		if !resolved {
			continue
		}
		key := types.NextHopKey{IP: ip, Alias: info.LinkAlias}
		eligible[key] = struct{}{}
		ids[key] = nextHopID
	}
	resolve := func(nh types.NextHopKey) (string, bool) {
		id, ok := ids[nh]
		return id, ok
	}
	return eligible, resolve
}

func (r *Reactor) createRoute(key shadow.RouteKey, groupName string, entry *types.FgNhgEntry, eligible map[types.NextHopKey]struct{}, resolve shadow.Resolver) (string, bool, error) {
	if len(eligible) == 0 {
		return r.collapseToRIFOnCreate(key, groupName, entry)
	}

	perBank := perBankMembers(entry, eligible)
	recovered := r.recovered[key.Prefix.String()]
	delete(r.recovered, key.Prefix.String())

	route, handle, err := r.shadow.CreateHALBackedRoute(key, groupName, entry.ConfiguredBucketSize, entry.BankCounts(), perBank, resolve, recovered)
	if err != nil {
		return "", false, err
	}
	entry.RealBucketSize = route.RealBucketSize
	return handle, true, nil
}

func (r *Reactor) collapseToRIFOnCreate(key shadow.RouteKey, groupName string, entry *types.FgNhgEntry) (string, bool, error) {
	rifHandle := r.rifHandleFor(entry)
	route, err := r.shadow.CreateRIFRoute(key, groupName, rifHandle)
	if err != nil {
		return "", false, err
	}
	return derefOr(route.GroupHandle, ""), true, nil
}

// RIFHandleFor resolves the RIF fallback handle for a group: the
// router-interface handle of a configured member whose bound link has
// one. Members are visited in map order, so when several qualify which
// one is used is not defined, and the route's own next hops are not
// consulted.
// Exported for linkreactor's collapse-to-RIF path.
func (r *Reactor) RIFHandleFor(entry *types.FgNhgEntry) string {
	return r.rifHandleFor(entry)
}

func (r *Reactor) rifHandleFor(entry *types.FgNhgEntry) string {
	for _, info := range entry.NextHops {
		if info.LinkAlias != "" {
			if h, ok := r.ifaces.RIFHandle(info.LinkAlias); ok {
				return h
			}
		}
	}
	return ""
}

// rebalanceRoute implements spec.md §4.4 step 5: diff eligible against
// active_nexthops, build per-bank BankChanges, invoke the distributor
// through the shadow table. The route's own next-hop-id never
// changes here.
func (r *Reactor) rebalanceRoute(key shadow.RouteKey, route *types.ShadowRoute, entry *types.FgNhgEntry, eligible map[types.NextHopKey]struct{}, resolve shadow.Resolver) (string, bool, error) {
	ranges := bank.Ranges(route.RealBucketSize, entry.BankCounts())
	changes := buildBankChanges(entry, route, eligible, len(ranges))

	rifHandle := r.rifHandleFor(entry)
	_, err := r.shadow.ApplyDistribution(key, route, changes, ranges, resolve, rifHandle)
	if err != nil {
		return "", false, err
	}
	return derefOr(route.GroupHandle, ""), false, nil
}

// perBankMembers groups eligible next hops by their configured bank,
// in entry.BankCounts() order.
func perBankMembers(entry *types.FgNhgEntry, eligible map[types.NextHopKey]struct{}) [][]types.NextHopKey {
	counts := entry.BankCounts()
	perBank := make([][]types.NextHopKey, len(counts))
	for nh := range eligible {
		bankIdx, ok := entry.BankOf(nh.IP)
		if !ok || bankIdx >= len(perBank) {
			continue
		}
		perBank[bankIdx] = append(perBank[bankIdx], nh)
	}
	return perBank
}

// BuildBankChanges diffs eligible against route.ActiveNextHops,
// classifying each next hop by its configured bank. Exported so
// linkreactor can reuse the same diff logic for single-next-hop
// up/down events instead of re-deriving bank classification rules.
func BuildBankChanges(entry *types.FgNhgEntry, route *types.ShadowRoute, eligible map[types.NextHopKey]struct{}, bankCount int) []types.BankChange {
	return buildBankChanges(entry, route, eligible, bankCount)
}

// buildBankChanges diffs eligible against route.ActiveNextHops,
// classifying each next hop by its *own configured* bank (entry.BankOf)
// rather than by which bank's bucket range currently holds its
// buckets -- an inactive bank may be borrowing another bank's buckets
// via InactiveToActive, and that borrowing must not be mistaken for
// bank membership when building the next event's BankChange.
func buildBankChanges(entry *types.FgNhgEntry, route *types.ShadowRoute, eligible map[types.NextHopKey]struct{}, bankCount int) []types.BankChange {
	changes := make([]types.BankChange, bankCount)
	for i := range changes {
		changes[i] = types.BankChange{
			Bank:      i,
			ActiveNhs: make(map[types.NextHopKey]struct{}),
		}
	}

	for nh := range route.ActiveNextHops {
		bankIdx, ok := entry.BankOf(nh.IP)
		if !ok || bankIdx >= bankCount {
			continue
		}
		if _, stillEligible := eligible[nh]; stillEligible {
			changes[bankIdx].ActiveNhs[nh] = struct{}{}
		} else {
			changes[bankIdx].ToDel = append(changes[bankIdx].ToDel, nh)
		}
	}

	for nh := range eligible {
		if _, active := route.ActiveNextHops[nh]; active {
			continue
		}
		bankIdx, ok := entry.BankOf(nh.IP)
		if !ok || bankIdx >= bankCount {
			continue
		}
		changes[bankIdx].ToAdd = append(changes[bankIdx].ToAdd, nh)
	}

	return changes
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
