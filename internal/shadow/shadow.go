// Package shadow is the in-memory authoritative model of what has
// been pushed to the HAL (spec.md §4.3): per (VRF, prefix) a group
// handle, bucket array, active-next-hop set, and bank failover
// indirection. Its three entry points -- creating a HAL-backed route,
// applying a distributor result, and removing a route -- each update
// (shadow, HAL, journal) together, one bucket at a time, so the
// triple never drifts apart under a partial failure (spec.md §5).
//
// Grounded on the teacher's bgp/speaker.go locRIB (an authoritative
// in-memory table that a reactor drives, with lookups by key and no
// internal locking since callers are already serialized by the event
// loop).
package shadow

import (
	"fmt"
	"net/netip"
	"sort"

	"github.com/rs/zerolog"

	"github.com/sonic-net/fgnhgorch/internal/bank"
	"github.com/sonic-net/fgnhgorch/internal/distributor"
	"github.com/sonic-net/fgnhgorch/internal/hal"
	"github.com/sonic-net/fgnhgorch/internal/journal"
	"github.com/sonic-net/fgnhgorch/internal/logging"
	"github.com/sonic-net/fgnhgorch/internal/metrics"
	"github.com/sonic-net/fgnhgorch/internal/orchtypes"
	"github.com/sonic-net/fgnhgorch/internal/types"
)

// RouteKey identifies one (VRF, prefix) shadow route.
type RouteKey struct {
	VRF    string
	Prefix netip.Prefix
}

func (k RouteKey) String() string { return k.VRF + "|" + k.Prefix.String() }

// Resolver maps a next-hop key to its currently resolved HAL
// next-hop-id. Shadow does not own neighbor resolution (spec.md §1
// "out of scope") -- routereactor/linkreactor supply it per call.
type Resolver func(types.NextHopKey) (nextHopID string, resolved bool)

// Table is the shadow table. It is not safe for concurrent use: the
// orchestration loop's single-threaded dispatch is what makes its
// mutations safe, per spec.md §5.
type Table struct {
	driver hal.Driver
	jrn    journal.Journal
	routes map[RouteKey]*types.ShadowRoute
	log    zerolog.Logger
}

// NewTable creates an empty shadow table bound to driver and jrn.
func NewTable(driver hal.Driver, jrn journal.Journal) *Table {
	return &Table{
		driver: driver,
		jrn:    jrn,
		routes: make(map[RouteKey]*types.ShadowRoute),
		log:    logging.Component("shadow"),
	}
}

// Get returns the shadow route for key, if one exists.
func (t *Table) Get(key RouteKey) (*types.ShadowRoute, bool) {
	r, ok := t.routes[key]
	return r, ok
}

// RoutesForGroup returns every (key, route) pair currently bound to
// groupName, for the link reactor to fan a port event out to every
// affected route.
func (t *Table) RoutesForGroup(groupName string) []RouteKey {
	var keys []RouteKey
	for key, route := range t.routes {
		if route.GroupName == groupName {
			keys = append(keys, key)
		}
	}
	return keys
}

// CreateRIFRoute registers a RIF-only shadow route: used before any
// next hop resolves (spec.md §4.4 step 3a).
func (t *Table) CreateRIFRoute(key RouteKey, groupName, rifHandle string) (*types.ShadowRoute, error) {
	if err := t.driver.RouteSetNextHop(key.VRF, key.Prefix.String(), rifHandle); err != nil {
		return nil, err
	}
	route := types.NewShadowRoute(groupName, 0, 0)
	route.PointsToRIF = true
	h := rifHandle
	route.GroupHandle = &h
	t.routes[key] = route
	metrics.RIFFallbackRoutes.Inc()
	return route, nil
}

// CreateHALBackedRoute creates a HAL group sized for configuredSize
// buckets, computes bank ranges from bankCounts, registers a new
// shadow route, and performs the initial spray (new_members) over
// perBankMembers. If recovered is non-nil it is a warm-restart
// journal record for this prefix: recorded (bucket, next hop) pairs
// are honored verbatim instead of the round-robin default, per
// spec.md §6 "Warm-restart journal".
func (t *Table) CreateHALBackedRoute(
	key RouteKey,
	groupName string,
	configuredSize int,
	bankCounts []int,
	perBankMembers [][]types.NextHopKey,
	resolve Resolver,
	recovered journal.Record,
) (*types.ShadowRoute, string, error) {
	handle, real, err := t.driver.CreateGroup(configuredSize)
	if err != nil {
		return nil, "", err
	}

	ranges := bank.Ranges(real, bankCounts)
	route := types.NewShadowRoute(groupName, len(bankCounts), real)
	route.Members = make([]string, real)
	h := string(handle)
	route.GroupHandle = &h

	changes := make([]types.BankChange, len(bankCounts))
	for i := range changes {
		changes[i] = types.BankChange{Bank: i, ToAdd: perBankMembers[i]}
	}

	if len(recovered) > 0 {
		writes := seedFromJournal(route, ranges, perBankMembers, recovered)
		if err := t.writeBuckets(route, key, writes, resolve, "warm_restart"); err != nil {
			t.driver.DestroyGroup(handle)
			return nil, "", err
		}
	} else {
		res, err := distributor.Apply(route, changes, ranges)
		if err != nil {
			t.driver.DestroyGroup(handle)
			return nil, "", err
		}
		if err := t.writeBuckets(route, key, res.Writes, resolve, "initial_spray"); err != nil {
			return nil, "", err
		}
	}

	if old, ok := t.routes[key]; ok && old.PointsToRIF {
		metrics.RIFFallbackRoutes.Dec()
	}
	t.routes[key] = route
	metrics.ActiveGroups.Inc()
	return route, string(handle), nil
}

// ApplyDistribution runs the distributor against route and drives the
// (shadow, HAL, journal) lockstep for every resulting bucket write. If
// the distributor signals a full collapse, the HAL group is destroyed,
// the journal purged, and the route re-pointed at rifHandle.
func (t *Table) ApplyDistribution(
	key RouteKey,
	route *types.ShadowRoute,
	changes []types.BankChange,
	ranges []types.BankRange,
	resolve Resolver,
	rifHandle string,
) (distributor.Result, error) {
	res, err := distributor.Apply(route, changes, ranges)
	if err != nil {
		return res, err
	}
	if res.CollapseToRIF {
		return res, t.collapseToRIF(key, route, rifHandle)
	}
	if err := t.writeBuckets(route, key, res.Writes, resolve, "rebalance"); err != nil {
		return res, err
	}
	return res, nil
}

// writeBuckets applies writes in order, creating a HAL member the
// first time a bucket index is touched and rewriting it thereafter,
// journaling each write immediately after the HAL call succeeds. On
// any HAL failure it stops and returns, leaving already-written
// buckets in place (spec.md §4.2.3). reason labels
// BucketsRewrittenTotal (spec.md §3.4 / SPEC_FULL.md §3.4 "buckets
// rewritten total").
func (t *Table) writeBuckets(route *types.ShadowRoute, key RouteKey, writes []distributor.BucketWrite, resolve Resolver, reason string) error {
	prefix := key.Prefix.String()
	for _, w := range writes {
		nextHopID, resolved := resolve(w.NextHop)
		if !resolved {
			return orchtypes.New(orchtypes.KindDependencyMissing, fmt.Sprintf("next hop %s has no resolved HAL handle", w.NextHop))
		}
		created := route.Members[w.Index] == ""
		if created {
			groupHandle := hal.Handle("")
			if route.GroupHandle != nil {
				groupHandle = hal.Handle(*route.GroupHandle)
			}
			m, err := t.driver.CreateMember(groupHandle, nextHopID, w.Index)
			if err != nil {
				return err
			}
			route.Members[w.Index] = string(m)
		} else {
			if err := t.driver.SetMemberAttribute(hal.Handle(route.Members[w.Index]), nextHopID); err != nil {
				return err
			}
		}
		metrics.BucketsRewrittenTotal.WithLabelValues(reason).Inc()
		if err := t.jrn.WriteBucket(prefix, w.Index, w.NextHop); err != nil {
			t.log.Warn().Err(err).Str("prefix", prefix).Int("bucket", w.Index).Msg("journal write failed after HAL write succeeded")
			continue
		}
		if created {
			metrics.JournalRecords.Inc()
		}
	}
	return nil
}

// collapseToRIF implements spec.md §4.4/§7 "Collapse to RIF": free the
// HAL group, clear the journal, and point the route at the
// router-interface handle.
func (t *Table) collapseToRIF(key RouteKey, route *types.ShadowRoute, rifHandle string) error {
	if route.GroupHandle != nil && !route.PointsToRIF {
		if err := t.driver.DestroyGroup(hal.Handle(*route.GroupHandle)); err != nil {
			return err
		}
		metrics.ActiveGroups.Dec()
	}
	if err := t.jrn.DeleteRoute(key.Prefix.String()); err != nil {
		t.log.Warn().Err(err).Str("prefix", key.Prefix.String()).Msg("journal purge failed during RIF collapse")
	} else {
		metrics.JournalRecords.Sub(float64(journaledBuckets(route)))
	}
	if err := t.driver.RouteSetNextHop(key.VRF, key.Prefix.String(), rifHandle); err != nil {
		return err
	}
	route.PointsToRIF = true
	route.Members = nil
	h := rifHandle
	route.GroupHandle = &h
	metrics.RIFFallbackRoutes.Inc()
	return nil
}

// RemoveRoute destroys key's HAL group (if any), purges its journal
// record, and drops the shadow entry. Idempotent on a missing route.
func (t *Table) RemoveRoute(key RouteKey) error {
	route, ok := t.routes[key]
	if !ok {
		return nil
	}
	if !route.PointsToRIF && route.GroupHandle != nil {
		if err := t.driver.DestroyGroup(hal.Handle(*route.GroupHandle)); err != nil {
			return err
		}
		metrics.ActiveGroups.Dec()
	} else if route.PointsToRIF {
		metrics.RIFFallbackRoutes.Dec()
	}
	if err := t.jrn.DeleteRoute(key.Prefix.String()); err != nil {
		t.log.Warn().Err(err).Str("prefix", key.Prefix.String()).Msg("journal purge failed during route removal")
	} else {
		metrics.JournalRecords.Sub(float64(journaledBuckets(route)))
	}
	delete(t.routes, key)
	return nil
}

// seedFromJournal pre-seeds route's bucket map from a recovered
// journal record: recorded assignments are honored verbatim, and any
// bucket the record doesn't cover (or whose recorded owner is not an
// eligible member of that bank) falls back to round-robin fill within
// its bank, per spec.md §6 "Warm-restart journal". A bank with no
// eligible members is filled round-robin from the lowest-indexed bank
// that has some, the same target the distributor's failover picks. It
// returns a
// BucketWrite for every bucket in the group, in index order, so the
// caller can drive the same HAL-member-creation path the cold-start
// spray uses -- the shadow bucket map and the HAL group must agree on
// every bucket's member, not just the in-memory ones (spec.md §8
// round-trip property, R5).
func seedFromJournal(route *types.ShadowRoute, ranges []types.BankRange, perBankMembers [][]types.NextHopKey, recovered journal.Record) []distributor.BucketWrite {
	memberSet := make([]map[types.NextHopKey]struct{}, len(perBankMembers))
	for i, members := range perBankMembers {
		set := make(map[types.NextHopKey]struct{}, len(members))
		for _, m := range members {
			set[m] = struct{}{}
		}
		memberSet[i] = set
	}

	assigned := make(map[int]types.NextHopKey, len(recovered))
	for idx, nh := range recovered {
		bank := bankFor(ranges, idx)
		if bank < 0 {
			continue
		}
		if _, known := memberSet[bank][nh]; !known {
			continue
		}
		route.BucketMap[bank][nh] = append(route.BucketMap[bank][nh], idx)
		route.ActiveNextHops[nh] = struct{}{}
		assigned[idx] = nh
	}

	for bank, rng := range ranges {
		members := perBankMembers[bank]
		target := bank
		if len(members) == 0 {
			for b, other := range perBankMembers {
				if len(other) > 0 {
					members, target = other, b
					break
				}
			}
		}
		if len(members) == 0 {
			continue
		}
		i := 0
		for idx := rng.Start; idx < rng.End; idx++ {
			if _, ok := assigned[idx]; ok {
				continue
			}
			nh := members[i%len(members)]
			route.BucketMap[bank][nh] = append(route.BucketMap[bank][nh], idx)
			route.ActiveNextHops[nh] = struct{}{}
			assigned[idx] = nh
			i++
		}
		route.InactiveToActive[bank] = target
	}

	writes := make([]distributor.BucketWrite, 0, len(assigned))
	for idx, nh := range assigned {
		writes = append(writes, distributor.BucketWrite{Index: idx, NextHop: nh})
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].Index < writes[j].Index })
	return writes
}

func bankFor(ranges []types.BankRange, idx int) int {
	for i, r := range ranges {
		if r.Contains(idx) {
			return i
		}
	}
	return -1
}

// journaledBuckets counts route's buckets that have a HAL member
// programmed, i.e. the records DeleteRoute is about to purge.
func journaledBuckets(route *types.ShadowRoute) int {
	n := 0
	for _, m := range route.Members {
		if m != "" {
			n++
		}
	}
	return n
}
