package hal

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sonic-net/fgnhgorch/internal/metrics"
)

// FakeDriver is an in-memory HAL backend for tests and the standalone
// demo binary. Handles are random UUIDs, grounded on cuemby-warren's
// use of google/uuid for entity identifiers.
type FakeDriver struct {
	mu sync.Mutex

	// RealSize, when non-nil, overrides the configured bucket size on
	// CreateGroup -- simulates a vendor that rounds bucket counts.
	RealSize func(configured int) int

	// FailNextSetAttribute, if set, makes the next SetMemberAttribute
	// call fail once then clear itself, for exercising spec.md §4.2.3's
	// "previously-written buckets are left in place" behavior.
	FailNextSetAttribute bool

	groups       map[Handle]int // group -> configured/real bucket size
	members      map[Handle]Handle // member -> owning group
	memberNH     map[Handle]string // member -> bound next-hop-id
	routeNextHop map[string]string // "vrf|prefix" -> next-hop-id
}

// NewFakeDriver creates an empty simulated HAL.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		groups:       make(map[Handle]int),
		members:      make(map[Handle]Handle),
		memberNH:     make(map[Handle]string),
		routeNextHop: make(map[string]string),
	}
}

func (f *FakeDriver) CreateGroup(bucketSize int) (Handle, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	real := bucketSize
	if f.RealSize != nil {
		real = f.RealSize(bucketSize)
	}
	g := Handle("group-" + uuid.NewString())
	f.groups[g] = real
	return g, real, nil
}

func (f *FakeDriver) DestroyGroup(g Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.groups[g]; !ok {
		return fmt.Errorf("unknown group %s", g)
	}
	delete(f.groups, g)
	for m, owner := range f.members {
		if owner == g {
			delete(f.members, m)
			delete(f.memberNH, m)
			metrics.GroupMemberUsage.WithLabelValues(string(g)).Set(0)
		}
	}
	return nil
}

func (f *FakeDriver) CreateMember(group Handle, nextHopID string, index int) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.groups[group]; !ok {
		return "", fmt.Errorf("unknown group %s", group)
	}
	m := Handle(fmt.Sprintf("member-%d-%s", index, uuid.NewString()))
	f.members[m] = group
	f.memberNH[m] = nextHopID
	metrics.GroupMemberUsage.WithLabelValues(string(group)).Inc()
	return m, nil
}

func (f *FakeDriver) DestroyMember(m Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.members[m]
	if !ok {
		return fmt.Errorf("unknown member %s", m)
	}
	delete(f.members, m)
	delete(f.memberNH, m)
	metrics.GroupMemberUsage.WithLabelValues(string(group)).Dec()
	return nil
}

func (f *FakeDriver) SetMemberAttribute(member Handle, nextHopID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNextSetAttribute {
		f.FailNextSetAttribute = false
		return fmt.Errorf("simulated transient HAL failure")
	}
	if _, ok := f.members[member]; !ok {
		return fmt.Errorf("unknown member %s", member)
	}
	f.memberNH[member] = nextHopID
	return nil
}

func (f *FakeDriver) RouteSetNextHop(vrf string, prefix string, nextHopID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routeNextHop[vrf+"|"+prefix] = nextHopID
	return nil
}

// MemberNextHop returns the next-hop-id currently bound to member, for
// assertions in tests (spec.md invariant R5).
func (f *FakeDriver) MemberNextHop(member Handle) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nh, ok := f.memberNH[member]
	return nh, ok
}

// RouteNextHop returns the next-hop-id currently programmed for
// (vrf, prefix), for assertions in tests.
func (f *FakeDriver) RouteNextHop(vrf, prefix string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nh, ok := f.routeNextHop[vrf+"|"+prefix]
	return nh, ok
}
