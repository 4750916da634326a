// Package config implements the three configuration-table handlers of
// spec.md §4.7/§6: FG_NHG (group), FG_NHG_PREFIX (prefix), and
// FG_NHG_MEMBER (member). Each handler is driven by the orchestration
// loop's deferred-retry queues and returns an Outcome rather than
// mutating a queue itself, so internal/queue stays handler-agnostic.
//
// Grounded on the teacher's fsm.fsm (one handler function per
// transition, returning a result the dispatcher acts on) and the
// config-table contract of spec.md §6.
package config

import (
	"fmt"
	"net/netip"

	"github.com/rs/zerolog"

	"github.com/sonic-net/fgnhgorch/internal/collab"
	"github.com/sonic-net/fgnhgorch/internal/logging"
	"github.com/sonic-net/fgnhgorch/internal/orchtypes"
	"github.com/sonic-net/fgnhgorch/internal/types"
)

// Outcome is a handler's verdict on one queue entry, per spec.md §9
// "deferred-retry queue": Handled advances the queue, Retry leaves the
// entry at the head.
type Outcome int

const (
	Handled Outcome = iota
	Retry
)

// maxPrefixBindRetries bounds the FG_NHG_PREFIX two-phase add dance
// (spec.md §9 Open Question). The source leaves this unbounded; this
// implementation bounds it so a route pipeline that never completes
// the delete can't wedge the prefix queue forever. The bound applies
// to every prefix entry, whatever the group's match mode: after this
// many consecutive Retry outcomes, for any reason, the entry is logged
// as a ConfigError and dropped instead of retried again.
const maxPrefixBindRetries = 16

// Manager owns the three configuration tables' in-memory state: named
// groups, and the prefix→group binding. It has no knowledge of routes
// or the HAL; routereactor and shadow react to the groups it produces.
type Manager struct {
	Groups map[string]*types.FgNhgEntry
	// prefixGroup maps a bound prefix to its owning group name.
	prefixGroup map[netip.Prefix]string
	// pendingPrefixAdd tracks a prefix-add two-phase dance: the
	// original next-hop-group the route pipeline held before the
	// delete we issued to make way for FG binding.
	pendingPrefixAdd map[netip.Prefix][]netip.Addr

	log zerolog.Logger
}

// NewManager creates an empty config manager.
func NewManager() *Manager {
	return &Manager{
		Groups:           make(map[string]*types.FgNhgEntry),
		prefixGroup:      make(map[netip.Prefix]string),
		pendingPrefixAdd: make(map[netip.Prefix][]netip.Addr),
		log:              logging.Component("config"),
	}
}

// GroupUpdate is one FG_NHG table write.
type GroupUpdate struct {
	Name                 string
	ConfiguredBucketSize int
	MatchMode            types.MatchMode
	MaxNextHops          int
	Delete               bool
}

// HandleGroupEntry applies one FG_NHG table entry. Invalid
// combinations are a ConfigError: logged and consumed, never retried
// (spec.md §7).
func (m *Manager) HandleGroupEntry(u GroupUpdate) Outcome {
	if u.Delete {
		return m.deleteGroup(u.Name)
	}

	if u.ConfiguredBucketSize <= 0 {
		m.logConfigError(u.Name, "bucket_size must be non-zero")
		return Handled
	}
	if u.MatchMode == types.PrefixBased && u.MaxNextHops <= 0 {
		m.logConfigError(u.Name, "prefix-based groups require max_next_hops > 0")
		return Handled
	}

	entry, exists := m.Groups[u.Name]
	if !exists {
		entry = &types.FgNhgEntry{
			Name:       u.Name,
			NextHops:   make(map[netip.Addr]types.NextHopInfo),
			Links:      make(map[string][]netip.Addr),
			MatchMode:  u.MatchMode,
		}
		m.Groups[u.Name] = entry
	}
	entry.ConfiguredBucketSize = u.ConfiguredBucketSize
	entry.MatchMode = u.MatchMode
	entry.MaxNextHops = u.MaxNextHops
	return Handled
}

// deleteGroup rejects the delete (Retry) while member or prefix
// children exist, except prefix-based groups whose members are
// synthesized and may be cleared once no prefixes remain (spec.md §6
// "Exit semantics").
func (m *Manager) deleteGroup(name string) Outcome {
	entry, ok := m.Groups[name]
	if !ok {
		return Handled
	}
	if len(entry.Prefixes) > 0 {
		return Retry
	}
	if entry.MatchMode != types.PrefixBased && len(entry.NextHops) > 0 {
		return Retry
	}
	if entry.RefCount() > 0 {
		return Retry
	}
	delete(m.Groups, name)
	return Handled
}

// MemberUpdate is one FG_NHG_MEMBER table write.
type MemberUpdate struct {
	IP        netip.Addr
	GroupName string
	Bank      int
	Link      string
	Delete    bool
}

// HandleMemberEntry applies one FG_NHG_MEMBER entry. A member
// referencing a not-yet-created group retries; a member added to a
// prefix-based group (forbidden, spec.md §6) is a ConfigError, and so
// is a bank index that would leave a gap in the group's bank sequence
// (SPEC_FULL.md §7 "Bank index validation on member add").
func (m *Manager) HandleMemberEntry(u MemberUpdate) Outcome {
	entry, ok := m.Groups[u.GroupName]
	if !ok {
		return Retry
	}
	if u.Delete {
		delete(entry.NextHops, u.IP)
		removeIPFromLink(entry, u.Link, u.IP)
		return Handled
	}
	if entry.MatchMode == types.PrefixBased {
		m.logConfigError(u.GroupName, fmt.Sprintf("member %s: cannot add to a prefix-based group", u.IP))
		return Handled
	}
	if u.Bank > 0 && !m.bankIsContiguous(entry, u.Bank) {
		m.logConfigError(u.GroupName, fmt.Sprintf("member %s: bank %d leaves a gap in the group's bank sequence", u.IP, u.Bank))
		return Handled
	}
	// A member counts as link-up until a port event reports otherwise.
	entry.NextHops[u.IP] = types.NextHopInfo{Bank: u.Bank, LinkAlias: u.Link, LinkState: types.LinkUp}
	if u.Link != "" {
		entry.Links[u.Link] = appendUnique(entry.Links[u.Link], u.IP)
	}
	return Handled
}

// bankIsContiguous reports whether bank already has a member, or is
// exactly one past the group's current highest bank -- i.e. accepting
// it would not leave a gap in the bank sequence.
func (m *Manager) bankIsContiguous(entry *types.FgNhgEntry, bank int) bool {
	highest := -1
	for _, info := range entry.NextHops {
		if info.Bank == bank {
			return true
		}
		if info.Bank > highest {
			highest = info.Bank
		}
	}
	return bank == highest+1
}

func removeIPFromLink(entry *types.FgNhgEntry, link string, ip netip.Addr) {
	if link == "" {
		return
	}
	ips := entry.Links[link]
	for i, existing := range ips {
		if existing == ip {
			entry.Links[link] = append(ips[:i], ips[i+1:]...)
			return
		}
	}
}

func appendUnique(ips []netip.Addr, ip netip.Addr) []netip.Addr {
	for _, existing := range ips {
		if existing == ip {
			return ips
		}
	}
	return append(ips, ip)
}

// PrefixUpdate is one FG_NHG_PREFIX table write.
type PrefixUpdate struct {
	Prefix    netip.Prefix
	GroupName string
	Delete    bool
}

// PrefixBindResult is returned once a prefix add/delete dance
// completes, so the orchestration loop can drive the group's
// reference count and route re-entry.
type PrefixBindResult struct {
	Bound        bool
	GroupName    string
	OriginalNHG  []netip.Addr
}

// HandlePrefixEntry implements spec.md §4.7's two-phase dance: on add,
// if the route pipeline already holds a conventional route for the
// prefix, the handler caches its next-hop group, issues a delete, and
// retries; the next pass sees the route gone and binds the prefix.
// Delete removes the binding in a single pass: it never returns Retry
// and issues nothing to the route pipeline. attempts is the entry's
// current retry count
// (queue.Entry.Attempts) so the bounded-retry policy (maxPrefixBindRetries)
// can take over if the route pipeline never completes its side.
func (m *Manager) HandlePrefixEntry(u PrefixUpdate, rp collab.RouteProcessor, attempts int) (Outcome, *PrefixBindResult) {
	if attempts >= maxPrefixBindRetries {
		m.logConfigError(u.GroupName, fmt.Sprintf("prefix %s: gave up after %d retries waiting on the route pipeline", u.Prefix, attempts))
		delete(m.pendingPrefixAdd, u.Prefix)
		return Handled, nil
	}

	if u.Delete {
		return m.unbindPrefix(u, rp)
	}
	return m.bindPrefix(u, rp)
}

func (m *Manager) bindPrefix(u PrefixUpdate, rp collab.RouteProcessor) (Outcome, *PrefixBindResult) {
	entry, ok := m.Groups[u.GroupName]
	if !ok {
		return Retry, nil
	}
	if entry.MatchMode == types.PrefixBased && len(entry.Prefixes) > 0 {
		m.logConfigError(u.GroupName, fmt.Sprintf("prefix-based group already bound to %v", entry.Prefixes))
		return Handled, nil
	}

	if original, pending := m.pendingPrefixAdd[u.Prefix]; pending {
		if _, stillThere := rp.CurrentNextHopGroup(defaultVRF, u.Prefix); stillThere {
			return Retry, nil
		}
		delete(m.pendingPrefixAdd, u.Prefix)
		m.prefixGroup[u.Prefix] = u.GroupName
		entry.Prefixes = appendUniquePrefix(entry.Prefixes, u.Prefix)
		entry.IncRef()
		return Handled, &PrefixBindResult{Bound: true, GroupName: u.GroupName, OriginalNHG: original}
	}

	if nhg, exists := rp.CurrentNextHopGroup(defaultVRF, u.Prefix); exists {
		m.pendingPrefixAdd[u.Prefix] = nhg
		if err := rp.DeleteRoute(defaultVRF, u.Prefix); err != nil {
			m.log.Warn().Err(err).Str("prefix", u.Prefix.String()).Msg("delete during prefix-bind dance failed")
		}
		return Retry, nil
	}

	m.prefixGroup[u.Prefix] = u.GroupName
	entry.Prefixes = appendUniquePrefix(entry.Prefixes, u.Prefix)
	entry.IncRef()
	return Handled, &PrefixBindResult{Bound: true, GroupName: u.GroupName}
}

func (m *Manager) unbindPrefix(u PrefixUpdate, rp collab.RouteProcessor) (Outcome, *PrefixBindResult) {
	groupName, bound := m.prefixGroup[u.Prefix]
	if !bound {
		return Handled, nil
	}
	delete(m.prefixGroup, u.Prefix)
	if entry, ok := m.Groups[groupName]; ok {
		entry.Prefixes = removePrefix(entry.Prefixes, u.Prefix)
		entry.DecRef()
		if entry.MatchMode == types.PrefixBased && len(entry.Prefixes) == 0 {
			entry.NextHops = make(map[netip.Addr]types.NextHopInfo)
		}
	}
	return Handled, &PrefixBindResult{Bound: false, GroupName: groupName}
}

func appendUniquePrefix(prefixes []netip.Prefix, p netip.Prefix) []netip.Prefix {
	for _, existing := range prefixes {
		if existing == p {
			return prefixes
		}
	}
	return append(prefixes, p)
}

func removePrefix(prefixes []netip.Prefix, p netip.Prefix) []netip.Prefix {
	for i, existing := range prefixes {
		if existing == p {
			return append(prefixes[:i], prefixes[i+1:]...)
		}
	}
	return prefixes
}

func (m *Manager) logConfigError(group, msg string) {
	err := orchtypes.New(orchtypes.KindConfig, msg)
	m.log.Error().Str("group", group).Err(err).Msg("configuration error")
}

// defaultVRF is the only VRF FG-ECMP applies to (spec.md §4.4).
const defaultVRF = "default"

// BoundGroup reports the group a prefix is explicitly bound to via
// FG_NHG_PREFIX, if any.
func (m *Manager) BoundGroup(prefix netip.Prefix) (string, bool) {
	name, ok := m.prefixGroup[prefix]
	return name, ok
}

// GroupForNextHops implements the NexthopBased half of spec.md §4.4's
// is_fine_grained: the name of the one NexthopBased group every IP in
// ips belongs to, if such a group exists.
func (m *Manager) GroupForNextHops(ips []netip.Addr) (string, bool) {
	if len(ips) == 0 {
		return "", false
	}
	for name, entry := range m.Groups {
		if entry.MatchMode != types.NexthopBased {
			continue
		}
		all := true
		for _, ip := range ips {
			if _, ok := entry.NextHops[ip]; !ok {
				all = false
				break
			}
		}
		if all {
			return name, true
		}
	}
	return "", false
}
