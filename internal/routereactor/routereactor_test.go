package routereactor

import (
	"net/netip"
	"testing"

	"github.com/sonic-net/fgnhgorch/internal/collab"
	"github.com/sonic-net/fgnhgorch/internal/config"
	"github.com/sonic-net/fgnhgorch/internal/hal"
	"github.com/sonic-net/fgnhgorch/internal/journal"
	"github.com/sonic-net/fgnhgorch/internal/shadow"
	"github.com/sonic-net/fgnhgorch/internal/types"
)

func setup(t *testing.T) (*Reactor, *config.Manager, *collab.FakeNeighbor, *collab.FakeInterfaces) {
	t.Helper()
	cfg := config.NewManager()
	cfg.HandleGroupEntry(config.GroupUpdate{Name: "G", ConfiguredBucketSize: 30, MatchMode: types.NexthopBased})
	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		cfg.HandleMemberEntry(config.MemberUpdate{IP: netip.MustParseAddr(ip), GroupName: "G", Bank: 0})
		_ = i
	}

	driver := hal.NewFakeDriver()
	jrn := journal.NewMemJournal()
	table := shadow.NewTable(driver, jrn)
	neighbor := collab.NewFakeNeighbor()
	ifaces := collab.NewFakeInterfaces()

	r := NewReactor(cfg, table, neighbor, ifaces, collab.FakeVRFs{}, nil)
	return r, cfg, neighbor, ifaces
}

func TestProgramRouteFallsBackToRIFWhenNothingResolved(t *testing.T) {
	r, _, _, ifaces := setup(t)
	ifaces.SetRIF("Ethernet0", "rif-eth0")

	nhgKey := []netip.Addr{netip.MustParseAddr("10.0.0.1")}
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	id, changed, err := r.ProgramRoute("default", prefix, nhgKey)
	if err != nil {
		t.Fatalf("ProgramRoute: %v", err)
	}
	if !changed {
		t.Fatalf("expected changed=true on first program")
	}
	if id != "" {
		t.Errorf("expected an empty RIF handle fallback (no link bound), got %q", id)
	}
	if !r.SyncdContains("default", prefix) {
		t.Fatalf("expected syncd_contains to report the new shadow route")
	}
}

func TestProgramRouteCreatesHALBackedWhenResolved(t *testing.T) {
	r, _, neighbor, _ := setup(t)
	neighbor.Resolve(netip.MustParseAddr("10.0.0.1"), "nh-1")
	neighbor.Resolve(netip.MustParseAddr("10.0.0.2"), "nh-2")
	neighbor.Resolve(netip.MustParseAddr("10.0.0.3"), "nh-3")

	nhgKey := []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
		netip.MustParseAddr("10.0.0.3"),
	}
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	id, changed, err := r.ProgramRoute("default", prefix, nhgKey)
	if err != nil {
		t.Fatalf("ProgramRoute: %v", err)
	}
	if !changed {
		t.Fatalf("expected changed=true on first program")
	}
	if id == "" {
		t.Fatalf("expected a HAL group handle")
	}
}

func TestProgramRouteRebalancesOnMemberDown(t *testing.T) {
	r, _, neighbor, _ := setup(t)
	ips := []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
		netip.MustParseAddr("10.0.0.3"),
	}
	for i, ip := range ips {
		neighbor.Resolve(ip, "nh-"+string(rune('1'+i)))
	}
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	if _, _, err := r.ProgramRoute("default", prefix, ips); err != nil {
		t.Fatalf("initial ProgramRoute: %v", err)
	}

	neighbor.Withdraw(netip.MustParseAddr("10.0.0.2"))
	id, changed, err := r.ProgramRoute("default", prefix, ips)
	if err != nil {
		t.Fatalf("second ProgramRoute: %v", err)
	}
	if changed {
		t.Errorf("expected changed=false: the route's next-hop-id should be stable across member churn")
	}
	if id == "" {
		t.Fatalf("expected the group handle to still be returned")
	}
}

func TestRemoveRouteIdempotent(t *testing.T) {
	r, _, _, _ := setup(t)
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	if err := r.RemoveRoute("default", prefix); err != nil {
		t.Fatalf("RemoveRoute on missing route should be a no-op: %v", err)
	}
}

func TestIsFineGrainedRequiresDefaultVRFAndEnabled(t *testing.T) {
	r, _, _, _ := setup(t)
	nhgKey := []netip.Addr{netip.MustParseAddr("10.0.0.1")}
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	if !r.IsFineGrained("default", prefix, nhgKey) {
		t.Fatalf("expected is_fine_grained true for a NexthopBased-matched route")
	}
	if r.IsFineGrained("blue", prefix, nhgKey) {
		t.Fatalf("expected is_fine_grained false outside the default VRF")
	}
	r.Enabled = false
	if r.IsFineGrained("default", prefix, nhgKey) {
		t.Fatalf("expected is_fine_grained false when the global flag is off")
	}
}
