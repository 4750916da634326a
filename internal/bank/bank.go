// Package bank implements the bank arithmetic from spec.md §4.1:
// partitioning a group's bucket index space into contiguous per-bank
// ranges proportional to each bank's configured next-hop count.
//
// Pure, stateless functions only -- grounded on the teacher's
// network.FindBGPIdentifier/ipToUint32 style of small helper
// functions with no owning struct.
package bank

import "github.com/sonic-net/fgnhgorch/internal/types"

// Ranges partitions [0, bucketSize) across len(bankCounts) banks,
// bank i receiving q*bankCounts[i] + e + (1 if i < s else 0) buckets,
// where q = bucketSize / M, r = bucketSize - q*M, e = r / k, s = r -
// e*k, and M is the sum of bankCounts. Ranges are laid out
// contiguously starting at bank 0, satisfying invariant I2.
//
// A bank with zero configured members still receives a (possibly
// zero-length) range at its position so that failover bookkeeping can
// address it by index.
func Ranges(bucketSize int, bankCounts []int) []types.BankRange {
	k := len(bankCounts)
	ranges := make([]types.BankRange, k)
	if k == 0 {
		return ranges
	}

	m := 0
	for _, c := range bankCounts {
		m += c
	}
	if m == 0 {
		// No members configured anywhere yet; every bank gets an
		// equal (possibly remainder-padded) slice so the layout is
		// still well defined before any member is added.
		q := bucketSize / k
		r := bucketSize - q*k
		start := 0
		for i := 0; i < k; i++ {
			size := q
			if i < r {
				size++
			}
			ranges[i] = types.BankRange{Start: start, End: start + size}
			start += size
		}
		return ranges
	}

	q := bucketSize / m
	r := bucketSize - q*m
	e := r / k
	s := r - e*k

	start := 0
	for i := 0; i < k; i++ {
		size := q*bankCounts[i] + e
		if i < s {
			size++
		}
		ranges[i] = types.BankRange{Start: start, End: start + size}
		start += size
	}
	return ranges
}
