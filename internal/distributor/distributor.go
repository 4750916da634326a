// Package distributor implements the bucket distributor of spec.md
// §4.2: a pure function that computes the minimal set of bucket
// reassignments needed to apply a membership change to a bank while
// preserving resilient hashing (no bucket of a surviving next hop is
// ever handed to another surviving next hop).
//
// Nothing here touches the HAL or the journal -- internal/shadow
// drives this package and then applies its BucketWrite plan through
// the HAL driver and journal, one bucket at a time, in the order
// returned.
//
// Grounded on the teacher's fsm.fsm state-dispatch shape (one function
// per case, selected by a classifier) and radix.Radix's in-place
// tree-mutation bookkeeping style.
package distributor

import (
	"sort"

	"github.com/sonic-net/fgnhgorch/internal/types"
)

// BucketWrite is one ordered HAL bucket reassignment.
type BucketWrite struct {
	Bank     int
	Index    int
	NextHop  types.NextHopKey
}

// Result is the outcome of Apply: the ordered write plan, plus whether
// the whole route collapsed to RIF because every bank drained with no
// surviving failover target (spec.md §4.2.2/§4.4).
type Result struct {
	Writes        []BucketWrite
	CollapseToRIF bool
}

// bankCase is the spec.md §4.2 classification for one bank.
type bankCase int

const (
	caseActiveChurn bankCase = iota // (a)
	caseToActive                    // (b)
	caseToInactive                  // (c)
	caseStayInactive                // (d)
)

// classify picks exactly one of spec.md §4.2's four cases for a bank.
//
// bc.ActiveNhs is taken to be the bank's *surviving* active next hops
// for this event -- i.e. already excluding anything in bc.ToDel. This
// is the one place this implementation resolves an ambiguity in
// spec.md's wording: with that reading, the four
// cases partition cleanly with no ordering subtlety.
func classify(bc types.BankChange) bankCase {
	switch {
	case len(bc.ActiveNhs) > 0 || (len(bc.ToAdd) > 0 && len(bc.ToDel) > 0):
		return caseActiveChurn
	case len(bc.ToDel) > 0:
		return caseToInactive
	case len(bc.ToAdd) > 0:
		return caseToActive
	default:
		return caseStayInactive
	}
}

// Apply computes and applies, in place on shadow, the bucket
// reassignments needed for one route event, per spec.md §4.2.
// changes must have one entry per bank, in bank-index order, sized to
// match ranges.
func Apply(shadow *types.ShadowRoute, changes []types.BankChange, ranges []types.BankRange) (Result, error) {
	// Precompute each bank's own post-change active set up front: this
	// is pure from the inputs and doesn't depend on processing order,
	// so failover target selection (which scans all banks) can use it
	// regardless of which bank is currently being processed.
	activeAfter := make([]map[types.NextHopKey]struct{}, len(ranges))
	for i, bc := range changes {
		set := make(map[types.NextHopKey]struct{}, len(bc.ActiveNhs)+len(bc.ToAdd))
		for nh := range bc.ActiveNhs {
			set[nh] = struct{}{}
		}
		for _, nh := range bc.ToAdd {
			set[nh] = struct{}{}
		}
		activeAfter[i] = set
	}

	var writes []BucketWrite
	appendBank := func(bank int, w []BucketWrite) {
		for i := range w {
			w[i].Bank = bank
		}
		writes = append(writes, w...)
	}
	for bank, bc := range changes {
		rng := ranges[bank]
		switch classify(bc) {
		case caseActiveChurn:
			newMap, w := rebalanceActive(shadow.BucketMap[bank], bc.ToAdd, bc.ToDel, rng)
			shadow.BucketMap[bank] = newMap
			delete(shadow.InactiveToActive, bank)
			appendBank(bank, w)

		case caseToActive:
			newMap, w := sprayRoundRobin(rng, sortedKeys(bc.ToAdd))
			shadow.BucketMap[bank] = newMap
			shadow.InactiveToActive[bank] = bank
			appendBank(bank, w)

		case caseToInactive:
			w, collapsed := failoverInactive(shadow, bank, ranges, activeAfter)
			appendBank(bank, w)
			if collapsed {
				return Result{Writes: writes, CollapseToRIF: true}, nil
			}

		case caseStayInactive:
			target, mapped := shadow.InactiveToActive[bank]
			if mapped && len(activeAfter[target]) > 0 {
				targetChange := changes[target]
				newMap, w := rebalanceActive(shadow.BucketMap[bank], targetChange.ToAdd, targetChange.ToDel, rng)
				shadow.BucketMap[bank] = newMap
				appendBank(bank, w)
			} else {
				w, collapsed := failoverInactive(shadow, bank, ranges, activeAfter)
				appendBank(bank, w)
				if collapsed {
					return Result{Writes: writes, CollapseToRIF: true}, nil
				}
			}
		}
	}

	recomputeActiveNextHops(shadow)
	return Result{Writes: writes}, nil
}

// failoverInactive implements spec.md §4.2.2: re-parent bank's range
// to the lowest-indexed bank with a non-empty post-change active set.
// If none exists, the whole route collapses to RIF.
func failoverInactive(shadow *types.ShadowRoute, bank int, ranges []types.BankRange, activeAfter []map[types.NextHopKey]struct{}) ([]BucketWrite, bool) {
	target := -1
	for b := 0; b < len(ranges); b++ {
		if b == bank {
			continue
		}
		if len(activeAfter[b]) > 0 {
			target = b
			break
		}
	}
	if target == -1 {
		shadow.BucketMap[bank] = make(map[types.NextHopKey][]int)
		delete(shadow.InactiveToActive, bank)
		return nil, true
	}

	shadow.InactiveToActive[bank] = target
	members := make([]types.NextHopKey, 0, len(activeAfter[target]))
	for nh := range activeAfter[target] {
		members = append(members, nh)
	}
	newMap, w := sprayRoundRobin(ranges[bank], sortedNhSlice(members))
	shadow.BucketMap[bank] = newMap
	return w, false
}

// sprayRoundRobin fills rng's entire index space round-robin over
// members, in sorted order for determinism. Used for both a fresh
// bank (case b) and a failed-over bank's re-spray (§4.2.2).
func sprayRoundRobin(rng types.BankRange, members []types.NextHopKey) (map[types.NextHopKey][]int, []BucketWrite) {
	m := make(map[types.NextHopKey][]int)
	var writes []BucketWrite
	if len(members) == 0 {
		return m, writes
	}
	for i := rng.Start; i < rng.End; i++ {
		nh := members[(i-rng.Start)%len(members)]
		m[nh] = append(m[nh], i)
		writes = append(writes, BucketWrite{Index: i, NextHop: nh})
	}
	return m, writes
}

// rebalanceActive implements spec.md §4.2.1: the two-phase
// swap-in-place then redistribute algorithm for an active bank with
// churn. existing holds the bank's bucket ownership before this
// event, including entries for members now in toDel.
func rebalanceActive(existing map[types.NextHopKey][]int, toAdd, toDel []types.NextHopKey, rng types.BankRange) (map[types.NextHopKey][]int, []BucketWrite) {
	delSet := make(map[types.NextHopKey]struct{}, len(toDel))
	for _, d := range toDel {
		delSet[d] = struct{}{}
	}

	survivors := make([]types.NextHopKey, 0, len(existing))
	for nh := range existing {
		if _, del := delSet[nh]; !del {
			survivors = append(survivors, nh)
		}
	}
	survivors = sortedNhSlice(survivors)
	toAddSorted := sortedNhSlice(append([]types.NextHopKey(nil), toAdd...))
	toDelSorted := sortedNhSlice(append([]types.NextHopKey(nil), toDel...))

	newMap := make(map[types.NextHopKey][]int, len(existing)+len(toAdd))
	for _, s := range survivors {
		newMap[s] = append([]int(nil), sortedInts(existing[s])...)
	}

	freed := make(map[types.NextHopKey][]int, len(toDelSorted))
	for _, d := range toDelSorted {
		freed[d] = sortedInts(existing[d])
	}

	var writes []BucketWrite

	// Phase 1: swap-in-place. Pair deletes with adds 1:1; every
	// bucket owned by a paired delete is handed whole to its paired
	// add, preserving bucket ownership counts and minimizing writes.
	pairs := len(toDelSorted)
	if len(toAddSorted) < pairs {
		pairs = len(toAddSorted)
	}
	pairedAdds := make([]types.NextHopKey, 0, pairs)
	for i := 0; i < pairs; i++ {
		d := toDelSorted[i]
		a := toAddSorted[i]
		idxs := freed[d]
		newMap[a] = append(newMap[a], idxs...)
		for _, idx := range idxs {
			writes = append(writes, BucketWrite{Index: idx, NextHop: a})
		}
		delete(freed, d)
		pairedAdds = append(pairedAdds, a)
	}
	remainingDel := toDelSorted[pairs:]
	remainingAdd := toAddSorted[pairs:]

	finalActive := append(append(append([]types.NextHopKey(nil), survivors...), pairedAdds...), remainingAdd...)
	finalActive = sortedNhSlice(finalActive)
	target := computeTargets(finalActive, rng.Len())

	countOf := func(nh types.NextHopKey) int { return len(newMap[nh]) }

	// Phase 2, deletes remaining: hand each leftover bucket to the
	// next surviving/swapped-in member in round-robin order, skipping
	// anyone who has already reached their target share.
	if len(remainingDel) > 0 {
		var freedBuckets []int
		for _, d := range remainingDel {
			freedBuckets = append(freedBuckets, freed[d]...)
		}
		rotation := append(append([]types.NextHopKey(nil), survivors...), pairedAdds...)
		rotation = sortedNhSlice(rotation)
		ri := 0
		for _, idx := range freedBuckets {
			for len(rotation) > 0 {
				cand := rotation[ri%len(rotation)]
				if countOf(cand) < target[cand] {
					newMap[cand] = append(newMap[cand], idx)
					writes = append(writes, BucketWrite{Index: idx, NextHop: cand})
					ri++
					break
				}
				rotation = append(rotation[:ri%len(rotation)], rotation[ri%len(rotation)+1:]...)
			}
		}
	}

	// Phase 2, adds remaining: each new member repeatedly claims the
	// highest-index bucket from a donor whose share exceeds its
	// target, until the new member reaches its own target.
	if len(remainingAdd) > 0 {
		donorPool := append(append([]types.NextHopKey(nil), survivors...), pairedAdds...)
		donorPool = sortedNhSlice(donorPool)
		for _, a := range remainingAdd {
			if _, ok := newMap[a]; !ok {
				newMap[a] = []int{}
			}
			for countOf(a) < target[a] {
				donor, ok := pickOverfullDonor(donorPool, newMap, target)
				if !ok {
					break
				}
				idxs := newMap[donor]
				last := idxs[len(idxs)-1]
				newMap[donor] = idxs[:len(idxs)-1]
				newMap[a] = append(newMap[a], last)
				writes = append(writes, BucketWrite{Index: last, NextHop: a})
			}
		}
	}

	for nh := range newMap {
		newMap[nh] = sortedInts(newMap[nh])
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].Index < writes[j].Index })
	return newMap, writes
}

func pickOverfullDonor(pool []types.NextHopKey, current map[types.NextHopKey][]int, target map[types.NextHopKey]int) (types.NextHopKey, bool) {
	for _, d := range pool {
		if len(current[d]) > target[d] {
			return d, true
		}
	}
	return types.NextHopKey{}, false
}

// computeTargets assigns each member of members a target bucket
// share: floor(R/N) for most, floor(R/N)+1 for the first R mod N
// members in sorted order. Which specific members get the +1 isn't
// specified by spec.md beyond "the rest" -- sorted order keeps the
// assignment deterministic and replay-stable.
func computeTargets(members []types.NextHopKey, rangeLen int) map[types.NextHopKey]int {
	target := make(map[types.NextHopKey]int, len(members))
	n := len(members)
	if n == 0 {
		return target
	}
	base := rangeLen / n
	rem := rangeLen % n
	for i, nh := range members {
		t := base
		if i < rem {
			t++
		}
		target[nh] = t
	}
	return target
}

func sortedNhSlice(nhs []types.NextHopKey) []types.NextHopKey {
	sort.Slice(nhs, func(i, j int) bool { return nhs[i].String() < nhs[j].String() })
	return nhs
}

func sortedKeys(nhs []types.NextHopKey) []types.NextHopKey {
	return sortedNhSlice(append([]types.NextHopKey(nil), nhs...))
}

func sortedInts(xs []int) []int {
	out := append([]int(nil), xs...)
	sort.Ints(out)
	return out
}

// recomputeActiveNextHops rebuilds shadow.ActiveNextHops from the
// current contents of BucketMap, which is the ground truth for which
// next hops currently own at least one bucket (invariant R4).
func recomputeActiveNextHops(shadow *types.ShadowRoute) {
	active := make(map[types.NextHopKey]struct{})
	for _, bucketMap := range shadow.BucketMap {
		for nh, idxs := range bucketMap {
			if len(idxs) > 0 {
				active[nh] = struct{}{}
			}
		}
	}
	shadow.ActiveNextHops = active
}
