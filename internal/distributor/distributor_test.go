package distributor

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonic-net/fgnhgorch/internal/types"
)

func nh(ip string) types.NextHopKey {
	return types.NextHopKey{IP: netip.MustParseAddr(ip)}
}

func bucketCount(shadow *types.ShadowRoute, bank int, n types.NextHopKey) int {
	return len(shadow.BucketMap[bank][n])
}

func allIndices(t *testing.T, shadow *types.ShadowRoute) map[int]types.NextHopKey {
	t.Helper()
	owner := make(map[int]types.NextHopKey)
	for bank, bm := range shadow.BucketMap {
		for n, idxs := range bm {
			for _, idx := range idxs {
				if existing, dup := owner[idx]; dup {
					t.Fatalf("bucket %d double-owned by bank %d nh %s and %s", idx, bank, n, existing)
				}
				owner[idx] = n
			}
		}
	}
	return owner
}

// Scenario 1: initial spray. Group G, bucket_size 60, B0={nh1,nh2,nh3},
// B1={nh4,nh5,nh6}.
func TestInitialSpray(t *testing.T) {
	ranges := []types.BankRange{{Start: 0, End: 30}, {Start: 30, End: 60}}
	shadow := types.NewShadowRoute("G", 2, 60)

	changes := []types.BankChange{
		{Bank: 0, ToAdd: []types.NextHopKey{nh("10.0.0.1"), nh("10.0.0.2"), nh("10.0.0.3")}},
		{Bank: 1, ToAdd: []types.NextHopKey{nh("10.0.0.4"), nh("10.0.0.5"), nh("10.0.0.6")}},
	}

	res, err := Apply(shadow, changes, ranges)
	require.NoError(t, err)
	assert.False(t, res.CollapseToRIF)
	assert.Len(t, res.Writes, 60)

	owner := allIndices(t, shadow)
	assert.Len(t, owner, 60)
	for _, idxs := range shadow.BucketMap[0] {
		for _, i := range idxs {
			assert.True(t, ranges[0].Contains(i), "index %d should be in B0's range", i)
		}
	}
	for _, n := range []types.NextHopKey{nh("10.0.0.1"), nh("10.0.0.2"), nh("10.0.0.3")} {
		assert.Equal(t, 10, bucketCount(shadow, 0, n), "nh %s in B0", n)
	}
	for _, n := range []types.NextHopKey{nh("10.0.0.4"), nh("10.0.0.5"), nh("10.0.0.6")} {
		assert.Equal(t, 10, bucketCount(shadow, 1, n), "nh %s in B1", n)
	}
}

func initialShadow(t *testing.T) (*types.ShadowRoute, []types.BankRange) {
	t.Helper()
	ranges := []types.BankRange{{Start: 0, End: 30}, {Start: 30, End: 60}}
	shadow := types.NewShadowRoute("G", 2, 60)
	changes := []types.BankChange{
		{Bank: 0, ToAdd: []types.NextHopKey{nh("10.0.0.1"), nh("10.0.0.2"), nh("10.0.0.3")}},
		{Bank: 1, ToAdd: []types.NextHopKey{nh("10.0.0.4"), nh("10.0.0.5"), nh("10.0.0.6")}},
	}
	if _, err := Apply(shadow, changes, ranges); err != nil {
		t.Fatalf("setup Apply failed: %v", err)
	}
	return shadow, ranges
}

// Scenario 2: single member down, no swap-in. nh2's 10 buckets split
// between nh1 and nh3 (15/0/15); B1 untouched.
func TestSingleMemberDownNoSwapIn(t *testing.T) {
	shadow, ranges := initialShadow(t)
	nh1, nh2, nh3 := nh("10.0.0.1"), nh("10.0.0.2"), nh("10.0.0.3")

	before1 := append([]int(nil), shadow.BucketMap[0][nh1]...)
	before3 := append([]int(nil), shadow.BucketMap[0][nh3]...)

	changes := []types.BankChange{
		{
			Bank:      0,
			ActiveNhs: map[types.NextHopKey]struct{}{nh1: {}, nh3: {}},
			ToDel:     []types.NextHopKey{nh2},
		},
		{Bank: 1, ActiveNhs: map[types.NextHopKey]struct{}{
			nh("10.0.0.4"): {}, nh("10.0.0.5"): {}, nh("10.0.0.6"): {},
		}},
	}

	res, err := Apply(shadow, changes, ranges)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(res.Writes) != 10 {
		t.Fatalf("expected exactly 10 writes (nh2's buckets only), got %d", len(res.Writes))
	}
	if c := bucketCount(shadow, 0, nh1); c != 15 {
		t.Errorf("expected nh1 to own 15 buckets, got %d", c)
	}
	if c := bucketCount(shadow, 0, nh2); c != 0 {
		t.Errorf("expected nh2 to own 0 buckets, got %d", c)
	}
	if c := bucketCount(shadow, 0, nh3); c != 15 {
		t.Errorf("expected nh3 to own 15 buckets, got %d", c)
	}

	for _, idx := range before1 {
		found := false
		for _, cur := range shadow.BucketMap[0][nh1] {
			if cur == idx {
				found = true
			}
		}
		if !found {
			t.Errorf("nh1 lost original bucket %d -- resilient hashing violated", idx)
		}
	}
	for _, idx := range before3 {
		found := false
		for _, cur := range shadow.BucketMap[0][nh3] {
			if cur == idx {
				found = true
			}
		}
		if !found {
			t.Errorf("nh3 lost original bucket %d -- resilient hashing violated", idx)
		}
	}
	for _, n := range []types.NextHopKey{nh("10.0.0.4"), nh("10.0.0.5"), nh("10.0.0.6")} {
		if c := bucketCount(shadow, 1, n); c != 10 {
			t.Errorf("B1 disturbed: nh %s has %d buckets", n, c)
		}
	}
}

// Scenario 3: swap-in-place. Add nh7, remove nh2, same event.
func TestSwapInPlace(t *testing.T) {
	shadow, ranges := initialShadow(t)
	nh1, nh2, nh3, nh7 := nh("10.0.0.1"), nh("10.0.0.2"), nh("10.0.0.3"), nh("10.0.0.7")

	nh2Buckets := append([]int(nil), shadow.BucketMap[0][nh2]...)
	before1 := append([]int(nil), shadow.BucketMap[0][nh1]...)
	before3 := append([]int(nil), shadow.BucketMap[0][nh3]...)

	changes := []types.BankChange{
		{
			Bank:      0,
			ActiveNhs: map[types.NextHopKey]struct{}{nh1: {}, nh3: {}},
			ToAdd:     []types.NextHopKey{nh7},
			ToDel:     []types.NextHopKey{nh2},
		},
		{Bank: 1, ActiveNhs: map[types.NextHopKey]struct{}{
			nh("10.0.0.4"): {}, nh("10.0.0.5"): {}, nh("10.0.0.6"): {},
		}},
	}

	res, err := Apply(shadow, changes, ranges)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(res.Writes) != 10 {
		t.Fatalf("expected exactly 10 writes (swap-in-place), got %d", len(res.Writes))
	}
	if c := bucketCount(shadow, 0, nh7); c != 10 {
		t.Errorf("expected nh7 to own all 10 of nh2's buckets, got %d", c)
	}
	for _, idx := range nh2Buckets {
		found := false
		for _, cur := range shadow.BucketMap[0][nh7] {
			if cur == idx {
				found = true
			}
		}
		if !found {
			t.Errorf("nh7 missing nh2's original bucket %d", idx)
		}
	}
	if got := shadow.BucketMap[0][nh1]; !equalInts(got, before1) {
		t.Errorf("nh1 disturbed by swap-in-place: before=%v after=%v", before1, got)
	}
	if got := shadow.BucketMap[0][nh3]; !equalInts(got, before3) {
		t.Errorf("nh3 disturbed by swap-in-place: before=%v after=%v", before3, got)
	}

	for _, n := range []types.NextHopKey{nh1, nh3, nh7, nh("10.0.0.4"), nh("10.0.0.5"), nh("10.0.0.6")} {
		if _, ok := shadow.ActiveNextHops[n]; !ok {
			t.Errorf("expected %s to be active", n)
		}
	}
	if _, ok := shadow.ActiveNextHops[nh2]; ok {
		t.Errorf("nh2 should no longer be active")
	}
}

// Scenario 4: whole bank drain with failover. B0 fully drains; its
// range re-sprays round-robin over B1's active set.
func TestWholeBankDrainWithFailover(t *testing.T) {
	shadow, ranges := initialShadow(t)
	nh1, nh2, nh3 := nh("10.0.0.1"), nh("10.0.0.2"), nh("10.0.0.3")

	changes := []types.BankChange{
		{Bank: 0, ToDel: []types.NextHopKey{nh1, nh2, nh3}},
		{Bank: 1, ActiveNhs: map[types.NextHopKey]struct{}{
			nh("10.0.0.4"): {}, nh("10.0.0.5"): {}, nh("10.0.0.6"): {},
		}},
	}

	res, err := Apply(shadow, changes, ranges)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if res.CollapseToRIF {
		t.Fatalf("should not collapse: B1 still active")
	}
	if got, want := shadow.InactiveToActive[0], 1; got != want {
		t.Fatalf("expected inactive_to_active[0] = %d, got %d", want, got)
	}
	for _, n := range []types.NextHopKey{nh("10.0.0.4"), nh("10.0.0.5"), nh("10.0.0.6")} {
		if c := bucketCount(shadow, 0, n); c != 10 {
			t.Errorf("expected %s to own 10 buckets within B0's failed-over range, got %d", n, c)
		}
		for _, idx := range shadow.BucketMap[0][n] {
			if !ranges[0].Contains(idx) {
				t.Errorf("failed-over bucket %d for %s not within B0's range", idx, n)
			}
		}
		if c := bucketCount(shadow, 1, n); c != 10 {
			t.Errorf("B1's own range disturbed for %s: %d buckets", n, c)
		}
	}
	_ = nh("10.0.0.4")
}

// Scenario 5: full collapse to RIF, continuing from scenario 4.
func TestFullCollapseToRIF(t *testing.T) {
	shadow, ranges := initialShadow(t)
	nh1, nh2, nh3 := nh("10.0.0.1"), nh("10.0.0.2"), nh("10.0.0.3")
	nh4, nh5, nh6 := nh("10.0.0.4"), nh("10.0.0.5"), nh("10.0.0.6")

	drain := []types.BankChange{
		{Bank: 0, ToDel: []types.NextHopKey{nh1, nh2, nh3}},
		{Bank: 1, ActiveNhs: map[types.NextHopKey]struct{}{nh4: {}, nh5: {}, nh6: {}}},
	}
	if _, err := Apply(shadow, drain, ranges); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}

	final := []types.BankChange{
		{Bank: 0}, // stays inactive, mapped-to bank about to drain too
		{Bank: 1, ToDel: []types.NextHopKey{nh4, nh5, nh6}},
	}
	res, err := Apply(shadow, final, ranges)
	if err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	if !res.CollapseToRIF {
		t.Fatalf("expected collapse to RIF when every bank has drained")
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int]bool, len(a))
	for _, x := range a {
		seen[x] = true
	}
	for _, x := range b {
		if !seen[x] {
			return false
		}
	}
	return true
}
