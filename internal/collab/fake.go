package collab

import "net/netip"

// FakeNeighbor is an in-memory Neighbor for tests.
type FakeNeighbor struct {
	handles map[netip.Addr]string
}

func NewFakeNeighbor() *FakeNeighbor {
	return &FakeNeighbor{handles: make(map[netip.Addr]string)}
}

func (f *FakeNeighbor) Resolve(ip netip.Addr, nextHopID string) { f.handles[ip] = nextHopID }
func (f *FakeNeighbor) Withdraw(ip netip.Addr)                  { delete(f.handles, ip) }

func (f *FakeNeighbor) HandleFor(ip netip.Addr) (string, bool) {
	id, ok := f.handles[ip]
	return id, ok
}

// FakeInterfaces is an in-memory Interfaces for tests.
type FakeInterfaces struct {
	rifs map[string]string
}

func NewFakeInterfaces() *FakeInterfaces {
	return &FakeInterfaces{rifs: make(map[string]string)}
}

func (f *FakeInterfaces) SetRIF(alias, handle string) { f.rifs[alias] = handle }

func (f *FakeInterfaces) RIFHandle(alias string) (string, bool) {
	h, ok := f.rifs[alias]
	return h, ok
}

// FakeVRFs treats "default" (and "") as the default VRF.
type FakeVRFs struct{}

func (FakeVRFs) IsDefault(vrf string) bool { return vrf == "" || vrf == "default" }

// FakeRouteProcessor is an in-memory RouteProcessor for tests.
type FakeRouteProcessor struct {
	current map[string][]netip.Addr
	Deleted []string
}

func NewFakeRouteProcessor() *FakeRouteProcessor {
	return &FakeRouteProcessor{current: make(map[string][]netip.Addr)}
}

func key(vrf string, prefix netip.Prefix) string { return vrf + "|" + prefix.String() }

func (f *FakeRouteProcessor) SetCurrent(vrf string, prefix netip.Prefix, nhg []netip.Addr) {
	f.current[key(vrf, prefix)] = nhg
}

func (f *FakeRouteProcessor) CurrentNextHopGroup(vrf string, prefix netip.Prefix) ([]netip.Addr, bool) {
	nhg, ok := f.current[key(vrf, prefix)]
	return nhg, ok
}

func (f *FakeRouteProcessor) DeleteRoute(vrf string, prefix netip.Prefix) error {
	delete(f.current, key(vrf, prefix))
	f.Deleted = append(f.Deleted, key(vrf, prefix))
	return nil
}

func (f *FakeRouteProcessor) ReinsertRoute(vrf string, prefix netip.Prefix, nextHopID string) error {
	return nil
}
