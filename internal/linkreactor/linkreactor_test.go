package linkreactor

import (
	"net/netip"
	"testing"

	"github.com/sonic-net/fgnhgorch/internal/collab"
	"github.com/sonic-net/fgnhgorch/internal/config"
	"github.com/sonic-net/fgnhgorch/internal/hal"
	"github.com/sonic-net/fgnhgorch/internal/journal"
	"github.com/sonic-net/fgnhgorch/internal/routereactor"
	"github.com/sonic-net/fgnhgorch/internal/shadow"
	"github.com/sonic-net/fgnhgorch/internal/types"
)

func setup(t *testing.T) (*Reactor, *routereactor.Reactor, *config.Manager, *collab.FakeNeighbor, *shadow.Table) {
	t.Helper()
	cfg := config.NewManager()
	cfg.HandleGroupEntry(config.GroupUpdate{Name: "G", ConfiguredBucketSize: 30, MatchMode: types.NexthopBased})

	ips := []struct {
		addr string
		link string
	}{
		{"10.0.0.1", "Ethernet0"},
		{"10.0.0.2", "Ethernet4"},
		{"10.0.0.3", "Ethernet8"},
	}
	for _, e := range ips {
		cfg.HandleMemberEntry(config.MemberUpdate{
			IP:        netip.MustParseAddr(e.addr),
			GroupName: "G",
			Bank:      0,
			Link:      e.link,
		})
	}

	driver := hal.NewFakeDriver()
	jrn := journal.NewMemJournal()
	table := shadow.NewTable(driver, jrn)
	neighbor := collab.NewFakeNeighbor()
	ifaces := collab.NewFakeInterfaces()

	routes := routereactor.NewReactor(cfg, table, neighbor, ifaces, collab.FakeVRFs{}, nil)
	links := NewReactor(cfg, table, routes, neighbor)
	return links, routes, cfg, neighbor, table
}

func TestHandlePortStateChangeMemberDownRebalances(t *testing.T) {
	links, routes, _, neighbor, table := setup(t)

	all := []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
		netip.MustParseAddr("10.0.0.3"),
	}
	for i, ip := range all {
		neighbor.Resolve(ip, "nh-"+string(rune('1'+i)))
	}
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	if _, _, err := routes.ProgramRoute("default", prefix, all); err != nil {
		t.Fatalf("initial ProgramRoute: %v", err)
	}

	downNH := types.NextHopKey{IP: netip.MustParseAddr("10.0.0.2"), Alias: "Ethernet4"}
	route, ok := table.Get(shadow.RouteKey{VRF: "default", Prefix: prefix})
	if !ok {
		t.Fatalf("expected a shadow route to exist")
	}
	if _, active := route.ActiveNextHops[downNH]; !active {
		t.Fatalf("expected 10.0.0.2 to be active before the port goes down")
	}

	if err := links.HandlePortStateChange("Ethernet4", false); err != nil {
		t.Fatalf("HandlePortStateChange down: %v", err)
	}

	if _, active := route.ActiveNextHops[downNH]; active {
		t.Errorf("expected 10.0.0.2 to no longer be active after its link went down")
	}
}

func TestHandlePortStateChangeMemberUpRestoresMember(t *testing.T) {
	links, routes, _, neighbor, table := setup(t)

	all := []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
		netip.MustParseAddr("10.0.0.3"),
	}
	for i, ip := range all {
		neighbor.Resolve(ip, "nh-"+string(rune('1'+i)))
	}
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	if _, _, err := routes.ProgramRoute("default", prefix, all); err != nil {
		t.Fatalf("initial ProgramRoute: %v", err)
	}

	if err := links.HandlePortStateChange("Ethernet4", false); err != nil {
		t.Fatalf("HandlePortStateChange down: %v", err)
	}
	if err := links.HandlePortStateChange("Ethernet4", true); err != nil {
		t.Fatalf("HandlePortStateChange up: %v", err)
	}

	upNH := types.NextHopKey{IP: netip.MustParseAddr("10.0.0.2"), Alias: "Ethernet4"}
	route, ok := table.Get(shadow.RouteKey{VRF: "default", Prefix: prefix})
	if !ok {
		t.Fatalf("expected a shadow route to exist")
	}
	if _, active := route.ActiveNextHops[upNH]; !active {
		t.Errorf("expected 10.0.0.2 to be active again once its link and neighbor are both up")
	}
}

func TestHandlePortStateChangeIgnoresUnboundAlias(t *testing.T) {
	links, _, _, _, _ := setup(t)
	if err := links.HandlePortStateChange("Ethernet99", true); err != nil {
		t.Fatalf("expected no error for an alias no group references: %v", err)
	}
}
