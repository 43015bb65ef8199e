package bitonic

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/computer-graphics-tools/simulation-tools/internal/bhash"
)

func TestNextPow2(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 17: 32, 1024: 1024, 1025: 2048}
	for n, want := range cases {
		if got := NextPow2(n); got != want {
			t.Errorf("NextPow2(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestFillPadsTailWithSentinel(t *testing.T) {
	buf := make([]Pair, 8)
	for i := range buf {
		buf[i] = Pair{Hash: uint32(i), Payload: uint32(i)}
	}
	Fill(buf, 5)
	for i := 5; i < 8; i++ {
		if buf[i].Hash != bhash.Sentinel || buf[i].Payload != bhash.Sentinel {
			t.Errorf("buf[%d] = %+v, want sentinel pair", i, buf[i])
		}
	}
	for i := 0; i < 5; i++ {
		if buf[i].Hash != uint32(i) {
			t.Errorf("Fill modified live entry %d: %+v", i, buf[i])
		}
	}
}

func TestSortOrdersByHashThenPayload(t *testing.T) {
	n := 16
	buf := make([]Pair, n)
	rng := rand.New(rand.NewSource(1))
	for i := range buf {
		buf[i] = Pair{Hash: uint32(rng.Intn(4)), Payload: uint32(i)}
	}
	Sort(buf)
	for i := 1; i < n; i++ {
		if less(buf[i], buf[i-1]) {
			t.Fatalf("not sorted at %d: %+v then %+v", i, buf[i-1], buf[i])
		}
	}
}

func TestSortMatchesStdlibOnRandomData(t *testing.T) {
	for trial := 0; trial < 20; trial++ {
		n := 1 << uint(2+trial%6) // 4..128
		buf := make([]Pair, n)
		rng := rand.New(rand.NewSource(int64(trial)))
		for i := range buf {
			buf[i] = Pair{Hash: uint32(rng.Intn(n * 2)), Payload: uint32(i)}
		}
		want := make([]Pair, n)
		copy(want, buf)
		sort.Slice(want, func(i, j int) bool { return less(want[i], want[j]) })

		Sort(buf)
		for i := range buf {
			if buf[i] != want[i] {
				t.Fatalf("trial %d n=%d: mismatch at %d: got %+v, want %+v", trial, n, i, buf[i], want[i])
			}
		}
	}
}

func TestSortPanicsOnNonPowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic for non-power-of-two length")
		}
	}()
	Sort(make([]Pair, 5))
}

func TestSortSingleElement(t *testing.T) {
	buf := []Pair{{Hash: 1, Payload: 1}}
	Sort(buf)
	if buf[0].Hash != 1 {
		t.Errorf("single-element sort modified the element")
	}
}
