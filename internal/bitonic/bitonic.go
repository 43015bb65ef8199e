// Package bitonic sorts fixed-width (hash, payload) records in place,
// the GPU-parallel primitive the spatial-hash build pipelines run
// their pending (cellHash, sourceIndex) table through before the
// cell-boundary sweep. The CPU executor here implements the exact
// compare-exchange network the three WGSL kernels in kernels.go
// perform on a GPU Runtime: a compare-exchange at left index p during
// merge stage s is ascending iff (p & s) == 0, ties broken by the
// second 32-bit lane.
package bitonic

import "github.com/computer-graphics-tools/simulation-tools/internal/bhash"

// Pair is a sortable (hash, payload) record: 64 bits total, hash is
// the primary sort key, payload (the original source index) the tie
// breaker. It is unique per live element, so equal-hash runs sort
// deterministically by source order.
type Pair = bhash.HashPair

// NextPow2 returns the smallest power of two >= n (n >= 1).
func NextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Fill pads buf[n:] with the (UINT_MAX, UINT_MAX) sentinel pair so the
// bitonic network's comparator sorts unused slots to the tail.
func Fill(buf []Pair, n int) {
	for i := n; i < len(buf); i++ {
		buf[i] = Pair{Hash: bhash.Sentinel, Payload: bhash.Sentinel}
	}
}

// less orders two pairs by hash then payload, matching the GPU
// comparator's tie-break rule exactly.
func less(a, b Pair) bool {
	if a.Hash != b.Hash {
		return a.Hash < b.Hash
	}
	return a.Payload < b.Payload
}

// Sort sorts buf in place; len(buf) must be a power of two. One
// "thread" t in [0, n/2) owns one compare-exchange per (stage, unit)
// pair, computing its own left index via the block-size generator from
// spec.md 4.2 rather than scanning all n positions and skipping
// duplicates — exactly the work division a GPU dispatch of n/2 threads
// would use. The CPU executor runs every stage/unit combination
// directly rather than splitting them into the GPU's first/general/
// final shared-memory passes; that split (kernels.go) exists only to
// bound per-dispatch shared-memory usage on a real device and produces
// the identical total order.
func Sort(buf []Pair) {
	n := len(buf)
	if n&(n-1) != 0 {
		panic("bitonic: length must be a power of two")
	}
	half := n / 2
	for stage := 2; stage <= n; stage <<= 1 {
		for unit := stage >> 1; unit > 0; unit >>= 1 {
			for t := 0; t < half; t++ {
				left := leftIndex(t, unit)
				right := left + unit
				ascending := (left & stage) == 0
				a, b := buf[left], buf[right]
				if ascending == less(b, a) {
					buf[left], buf[right] = b, a
				}
			}
		}
	}
}

// leftIndex is the block-size left-index generator from spec.md 4.2:
// with block size b (the current compare distance, "unit"), thread t
// owns the pair (left, left+b).
func leftIndex(t, unit int) int {
	return ((t &^ (unit - 1)) << 1) | (t & (unit - 1))
}
