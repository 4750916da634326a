// Package types holds the shared data model for fine-grained ECMP
// next-hop groups: configured group entries and the per-route shadow
// state the manager pushes to the HAL.
package types

import "net/netip"

// MatchMode selects how a next-hop group's members are discovered.
type MatchMode int

const (
	// RouteBased inherits members from the route's own next-hop set.
	RouteBased MatchMode = iota
	// NexthopBased uses an explicitly configured member list.
	NexthopBased
	// PrefixBased synthesizes membership per-route from the route's
	// next hops, capped at MaxNextHops.
	PrefixBased
)

func (m MatchMode) String() string {
	switch m {
	case RouteBased:
		return "route-based"
	case NexthopBased:
		return "nexthop-based"
	case PrefixBased:
		return "prefix-based"
	default:
		return "unknown"
	}
}

// LinkState is the tracked oper-state of a next hop's bound link.
type LinkState int

const (
	LinkDown LinkState = iota
	LinkUp
)

func (s LinkState) String() string {
	if s == LinkUp {
		return "up"
	}
	return "down"
}

// NextHopKey identifies a next hop within a group: its IP address plus
// the link alias it was bound through, if any. Two members with the
// same IP but different bound links are distinct next hops.
type NextHopKey struct {
	IP    netip.Addr
	Alias string
}

func (k NextHopKey) String() string {
	if k.Alias == "" {
		return k.IP.String()
	}
	return k.IP.String() + "@" + k.Alias
}

// NextHopInfo is the configured/observed state of one member IP.
type NextHopInfo struct {
	Bank      int
	LinkAlias string
	LinkState LinkState
	// IfDown mirrors NHFLAGS_IFDOWN from the route path: true means
	// the neighbor resolver has marked this next hop administratively
	// unusable regardless of link state.
	IfDown bool
}

// BankRange is a half-open contiguous slice of the bucket index space,
// [Start, End), owned by one bank. See spec §4.1.
type BankRange struct {
	Start, End int
}

// Len returns the number of buckets in the range.
func (r BankRange) Len() int { return r.End - r.Start }

// Contains reports whether index falls within the range.
func (r BankRange) Contains(index int) bool {
	return index >= r.Start && index < r.End
}

// FgNhgEntry is a named group of potential next hops sharing a bucket
// policy. See spec §3.
type FgNhgEntry struct {
	Name                 string
	ConfiguredBucketSize int
	RealBucketSize       int
	MatchMode            MatchMode
	MaxNextHops          int

	// NextHops maps member IP to its bank/link/state.
	NextHops map[netip.Addr]NextHopInfo
	// Links maps link alias to the ordered set of IPs using it.
	Links map[string][]netip.Addr
	// BankRanges partitions [0, RealBucketSize) contiguously, bank 0
	// first. Invariant I2.
	BankRanges []BankRange
	// Prefixes bound to this group.
	Prefixes []netip.Prefix

	// groupRefCount counts the prefixes bound to this group through
	// FG_NHG_PREFIX, for deletion gating.
	// See SPEC_FULL.md §7 "Group deletion reference counting".
	groupRefCount int
}

// BankOf returns the configured bank for ip, and whether ip is a
// member of this group at all.
func (e *FgNhgEntry) BankOf(ip netip.Addr) (int, bool) {
	info, ok := e.NextHops[ip]
	if !ok {
		return 0, false
	}
	return info.Bank, true
}

// BankCounts returns the number of configured members per bank, in
// bank-index order, for feeding internal/bank.Ranges.
func (e *FgNhgEntry) BankCounts() []int {
	if e.MatchMode == PrefixBased {
		return []int{e.MaxNextHops}
	}
	max := -1
	for _, info := range e.NextHops {
		if info.Bank > max {
			max = info.Bank
		}
	}
	counts := make([]int, max+1)
	for _, info := range e.NextHops {
		counts[info.Bank]++
	}
	return counts
}

// IncRef / DecRef track group ownership for deletion gating
// (SPEC_FULL.md §7).
func (e *FgNhgEntry) IncRef()        { e.groupRefCount++ }
func (e *FgNhgEntry) DecRef()        { e.groupRefCount-- }
func (e *FgNhgEntry) RefCount() int { return e.groupRefCount }

// ShadowRoute is the per-(VRF, prefix) runtime state the manager keeps
// in lockstep with the HAL. See spec §3.
type ShadowRoute struct {
	// NhgKey is the requesting next-hop group key: the set of
	// (ip, alias) pairs the route path asked to program.
	NhgKey map[NextHopKey]struct{}

	// GroupHandle is the HAL group handle, or the router-interface
	// handle when PointsToRIF.
	GroupHandle *string
	// Members is indexed by bucket index; len == RealBucketSize iff
	// !PointsToRIF (invariant R1).
	Members []string

	// BucketMap holds one map per bank: next-hop key -> owned bucket
	// indices within that bank's range.
	BucketMap []map[NextHopKey][]int

	// ActiveNextHops is the set of next-hop keys currently placed in
	// some bucket.
	ActiveNextHops map[NextHopKey]struct{}

	// InactiveToActive maps an inactive bank index to the active bank
	// currently filling its range.
	InactiveToActive map[int]int

	// PointsToRIF is true when the route is programmed to the
	// router-interface handle instead of a HAL group.
	PointsToRIF bool

	// RealBucketSize mirrors the owning group's real bucket count for
	// convenience (and for post-collapse bookkeeping after the group
	// handle is gone).
	RealBucketSize int

	// GroupName is the FgNhgEntry this route is bound to.
	GroupName string
}

// NewShadowRoute creates an empty shadow route with bank-sized maps
// pre-allocated.
func NewShadowRoute(groupName string, bankCount, realBucketSize int) *ShadowRoute {
	bucketMap := make([]map[NextHopKey][]int, bankCount)
	for i := range bucketMap {
		bucketMap[i] = make(map[NextHopKey][]int)
	}
	return &ShadowRoute{
		NhgKey:           make(map[NextHopKey]struct{}),
		BucketMap:        bucketMap,
		ActiveNextHops:   make(map[NextHopKey]struct{}),
		InactiveToActive: make(map[int]int),
		RealBucketSize:   realBucketSize,
		GroupName:        groupName,
	}
}

// BankChange is the per-bank membership delta the distributor
// consumes. See spec §4.2.
type BankChange struct {
	Bank      int
	ActiveNhs map[NextHopKey]struct{}
	ToAdd     []NextHopKey
	ToDel     []NextHopKey
}
