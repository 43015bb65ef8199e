package pointindex_test

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/computer-graphics-tools/simulation-tools/encoding"
	"github.com/computer-graphics-tools/simulation-tools/pointindex"
)

func packPositions(pts [][3]float32) []byte {
	buf := make([]byte, len(pts)*12)
	for i, p := range pts {
		off := i * 12
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(p[0]))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(p[1]))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(p[2]))
	}
	return buf
}

func alignPositions(pts [][3]float32) []byte {
	buf := make([]byte, len(pts)*16)
	for i, p := range pts {
		off := i * 16
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(p[0]))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(p[1]))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(p[2]))
	}
	return buf
}

func freshCandidates(n, k int) []uint32 {
	row := make([]uint32, n*k)
	for i := range row {
		row[i] = pointindex.Sentinel
	}
	return row
}

func containsIdx(row []uint32, v uint32) bool {
	for _, x := range row {
		if x == v {
			return true
		}
	}
	return false
}

// Scenario 1: closest-pair on a line.
func TestFindClosestPairOnLine(t *testing.T) {
	pts := [][3]float32{{-0.5, 0, 0}, {0, 0, 0}, {1, 0, 0}, {1.5, 0, 0}}
	idx, err := pointindex.New(pointindex.Config{CellSize: 1, Radius: 0.5, NMax: 4})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := idx.Build(ctx, packPositions(pts), encoding.Packed3); err != nil {
		t.Fatal(err)
	}
	cand := freshCandidates(4, 4)
	if err := idx.Find(ctx, pointindex.FindRequest{Candidates: cand}); err != nil {
		t.Fatal(err)
	}

	row := func(i int) []uint32 { return cand[i*4 : i*4+4] }

	if !containsIdx(row(0), 1) {
		t.Errorf("row 0 = %v, want to contain 1", row(0))
	}
	if !containsIdx(row(1), 0) || !containsIdx(row(1), 2) {
		t.Errorf("row 1 = %v, want to contain 0 and 2", row(1))
	}
	if row(1)[0] != 0 {
		t.Errorf("row 1 first candidate = %d, want 0 (closer)", row(1)[0])
	}
	if !containsIdx(row(2), 3) || !containsIdx(row(2), 1) {
		t.Errorf("row 2 = %v, want to contain 3 and 1", row(2))
	}
	if row(2)[0] != 3 {
		t.Errorf("row 2 first candidate = %d, want 3 (closer)", row(2)[0])
	}
	if !containsIdx(row(3), 2) {
		t.Errorf("row 3 = %v, want to contain 2", row(3))
	}
}

// Scenario 2: tight cells exclude far neighbours.
func TestFindTightCellsExcludeAcrossSplit(t *testing.T) {
	pts := [][3]float32{{-0.5, 0, 0}, {0, 0, 0}, {1, 0, 0}, {1.5, 0, 0}}
	idx, err := pointindex.New(pointindex.Config{CellSize: 0.5, Radius: 0.25, NMax: 4})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := idx.Build(ctx, packPositions(pts), encoding.Packed3); err != nil {
		t.Fatal(err)
	}
	cand := freshCandidates(4, 4)
	if err := idx.Find(ctx, pointindex.FindRequest{Candidates: cand}); err != nil {
		t.Fatal(err)
	}
	row := func(i int) []uint32 { return cand[i*4 : i*4+4] }

	if containsIdx(row(0), 2) || containsIdx(row(0), 3) {
		t.Errorf("row 0 = %v, should not cross the split", row(0))
	}
	if containsIdx(row(1), 2) || containsIdx(row(1), 3) {
		t.Errorf("row 1 = %v, should not cross the split", row(1))
	}
	if containsIdx(row(2), 0) || containsIdx(row(2), 1) {
		t.Errorf("row 2 = %v, should not cross the split", row(2))
	}
	if containsIdx(row(3), 0) || containsIdx(row(3), 1) {
		t.Errorf("row 3 = %v, should not cross the split", row(3))
	}
}

// Scenario 3: connected-vertex exclusion.
func TestFindConnectedVertexExclusion(t *testing.T) {
	pts := [][3]float32{{0, 0, 0}, {0.1, 0, 0}, {0.5, 0, 0}, {1.5, 0, 0}}
	idx, err := pointindex.New(pointindex.Config{CellSize: 1, Radius: 0.5, NMax: 4})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := idx.Build(ctx, packPositions(pts), encoding.Packed3); err != nil {
		t.Fatal(err)
	}
	cand := freshCandidates(4, 4)
	connected := make([]uint32, 4*1)
	for i := range connected {
		connected[i] = pointindex.Sentinel
	}
	connected[0] = 1 // connected[0] = {1}
	connected[1] = 0 // connected[1] = {0}

	if err := idx.Find(ctx, pointindex.FindRequest{Candidates: cand, Connected: connected}); err != nil {
		t.Fatal(err)
	}
	row := func(i int) []uint32 { return cand[i*4 : i*4+4] }

	if !containsIdx(row(0), 2) {
		t.Errorf("row 0 = %v, want to contain 2", row(0))
	}
	if containsIdx(row(0), 1) || containsIdx(row(0), 3) {
		t.Errorf("row 0 = %v, must not contain 1 or 3", row(0))
	}
	if !containsIdx(row(1), 2) {
		t.Errorf("row 1 = %v, want to contain 2", row(1))
	}
	if containsIdx(row(1), 0) || containsIdx(row(1), 3) {
		t.Errorf("row 1 = %v, must not contain 0 or 3", row(1))
	}
}

// Scenario 4 and the quantified invariants: a 100-point ring,
// self-collision, K=8.
func TestFindRingInvariants(t *testing.T) {
	const n = 100
	const k = 8
	chord := float32(1.0)
	radius := chord / (2 * float32(math.Sin(math.Pi/float64(n))))

	pts := make([][3]float32, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = [3]float32{radius * float32(math.Cos(theta)), radius * float32(math.Sin(theta)), 0}
	}

	// r is chosen so (2r)^2 comfortably covers the two nearest
	// neighbours on each side (chord, 2*chord), four in all, without
	// reaching the third neighbour out (about 3*chord).
	r := float32(2.1 * chord / 2)
	cellSize := 2 * r

	idx, err := pointindex.New(pointindex.Config{CellSize: cellSize, Radius: r, NMax: n})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := idx.Build(ctx, packPositions(pts), encoding.Packed3); err != nil {
		t.Fatal(err)
	}
	cand := freshCandidates(n, k)
	if err := idx.Find(ctx, pointindex.FindRequest{Candidates: cand}); err != nil {
		t.Fatal(err)
	}

	diam2 := (2 * r) * (2 * r)
	sq := func(i, j int) float32 {
		dx := pts[i][0] - pts[j][0]
		dy := pts[i][1] - pts[j][1]
		dz := pts[i][2] - pts[j][2]
		return dx*dx + dy*dy + dz*dz
	}

	row := func(i int) []uint32 { return cand[i*k : i*k+k] }

	for i := 0; i < n; i++ {
		ri := row(i)

		// Self-exclusion.
		if containsIdx(ri, uint32(i)) {
			t.Errorf("row %d contains itself: %v", i, ri)
		}

		// Distance bound and sorted order.
		lastDist := float32(-1)
		for _, j := range ri {
			if j == pointindex.Sentinel {
				continue
			}
			d2 := sq(i, int(j))
			if d2 > diam2+1e-4 {
				t.Errorf("row %d: candidate %d at d^2=%v exceeds bound %v", i, j, d2, diam2)
			}
			if d2 < lastDist {
				t.Errorf("row %d not sorted: %v", i, ri)
			}
			lastDist = d2
		}

		// Symmetry.
		for _, j := range ri {
			if j == pointindex.Sentinel {
				continue
			}
			if !containsIdx(row(int(j)), uint32(i)) {
				t.Errorf("symmetry violated: %d in row %d but %d not in row %d", j, i, i, j)
			}
		}
	}
}

// Round-trip idempotence: a second find call on the same build and
// buffers yields bit-identical rows.
func TestFindIsIdempotentOnFixedGeometry(t *testing.T) {
	pts := [][3]float32{{-0.5, 0, 0}, {0, 0, 0}, {1, 0, 0}, {1.5, 0, 0}}
	idx, err := pointindex.New(pointindex.Config{CellSize: 1, Radius: 0.5, NMax: 4})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := idx.Build(ctx, packPositions(pts), encoding.Packed3); err != nil {
		t.Fatal(err)
	}
	cand := freshCandidates(4, 4)
	if err := idx.Find(ctx, pointindex.FindRequest{Candidates: cand}); err != nil {
		t.Fatal(err)
	}
	first := append([]uint32(nil), cand...)

	if err := idx.Find(ctx, pointindex.FindRequest{Candidates: cand}); err != nil {
		t.Fatal(err)
	}
	for i := range cand {
		if cand[i] != first[i] {
			t.Errorf("second find changed row entry %d: %d != %d", i, cand[i], first[i])
		}
	}
}

// Scenario 6: mixed encoding parity.
func TestBuildPackedAndAlignedProduceIdenticalCandidates(t *testing.T) {
	pts := [][3]float32{{-0.5, 0, 0}, {0, 0, 0}, {1, 0, 0}, {1.5, 0, 0}, {0.3, 0.4, 0}}

	run := func(tag encoding.Tag, buf []byte) []uint32 {
		idx, err := pointindex.New(pointindex.Config{CellSize: 1, Radius: 0.5, NMax: len(pts)})
		if err != nil {
			t.Fatal(err)
		}
		ctx := context.Background()
		if err := idx.Build(ctx, buf, tag); err != nil {
			t.Fatal(err)
		}
		cand := freshCandidates(len(pts), 4)
		if err := idx.Find(ctx, pointindex.FindRequest{Candidates: cand}); err != nil {
			t.Fatal(err)
		}
		return cand
	}

	packed := run(encoding.Packed3, packPositions(pts))
	aligned := run(encoding.Aligned3, alignPositions(pts))

	for i := range packed {
		if packed[i] != aligned[i] {
			t.Errorf("packed/aligned mismatch at %d: %d != %d", i, packed[i], aligned[i])
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := []pointindex.Config{
		{CellSize: 0, Radius: 1, NMax: 1},
		{CellSize: 1, Radius: 0, NMax: 1},
		{CellSize: 1, Radius: 2, NMax: 1},
		{CellSize: 1, Radius: 1, NMax: 0},
	}
	for _, c := range cases {
		if _, err := pointindex.New(c); err == nil {
			t.Errorf("New(%+v) succeeded, want error", c)
		}
	}
}

func TestBuildRejectsOverCapacity(t *testing.T) {
	idx, err := pointindex.New(pointindex.Config{CellSize: 1, Radius: 0.5, NMax: 2})
	if err != nil {
		t.Fatal(err)
	}
	pts := [][3]float32{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}}
	if err := idx.Build(context.Background(), packPositions(pts), encoding.Packed3); err == nil {
		t.Errorf("Build with n > NMax succeeded, want error")
	}
}
