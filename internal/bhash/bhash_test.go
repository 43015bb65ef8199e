package bhash

import (
	"math"
	"testing"
)

func TestHashCoordFloors(t *testing.T) {
	c := HashCoord(Vec3{X: 1.9, Y: -0.1, Z: -2.5}, 1.0)
	want := CellCoord{X: 1, Y: -1, Z: -3}
	if c != want {
		t.Errorf("HashCoord = %+v, want %+v", c, want)
	}
}

func TestGetHashWithinCapacity(t *testing.T) {
	capacity := uint32(37)
	for x := int32(-5); x <= 5; x++ {
		for y := int32(-5); y <= 5; y++ {
			h := GetHash(CellCoord{X: x, Y: y, Z: 0}, capacity)
			if h >= capacity {
				t.Fatalf("GetHash(%d,%d,0) = %d, out of range [0,%d)", x, y, h, capacity)
			}
		}
	}
}

func TestGetHashDeterministic(t *testing.T) {
	c := CellCoord{X: 3, Y: -7, Z: 12}
	a := GetHash(c, 101)
	b := GetHash(c, 101)
	if a != b {
		t.Errorf("GetHash not deterministic: %d != %d", a, b)
	}
}

func TestSdsBoxInsideIsNonPositive(t *testing.T) {
	b := Vec3{X: 1, Y: 1, Z: 1}
	d := SdsBox(Vec3{}, b)
	if d > 0 {
		t.Errorf("SdsBox at centre = %v, want <= 0", d)
	}
}

func TestSdsBoxOutsideIsPositive(t *testing.T) {
	b := Vec3{X: 1, Y: 1, Z: 1}
	d := SdsBox(Vec3{X: 5, Y: 0, Z: 0}, b)
	if d <= 0 {
		t.Errorf("SdsBox far outside = %v, want > 0", d)
	}
}

func TestUsdTriangleAtVertexIsZero(t *testing.T) {
	a := Vec3{X: 0, Y: 0, Z: 0}
	b := Vec3{X: 1, Y: 0, Z: 0}
	c := Vec3{X: 0, Y: 1, Z: 0}
	d := UsdTriangle(a, a, b, c)
	if math.Abs(float64(d)) > 1e-6 {
		t.Errorf("UsdTriangle at own vertex = %v, want ~0", d)
	}
}

func TestUsdTriangleInsideFootIsZero(t *testing.T) {
	a := Vec3{X: 0, Y: 0, Z: 0}
	b := Vec3{X: 1, Y: 0, Z: 0}
	c := Vec3{X: 0, Y: 1, Z: 0}
	p := Vec3{X: 0.2, Y: 0.2, Z: 0}
	d := UsdTriangle(p, a, b, c)
	if d > 1e-6 {
		t.Errorf("UsdTriangle for point inside footprint = %v, want ~0", d)
	}
}

func TestUsdTriangleOffPlaneMatchesPerpendicularDistance(t *testing.T) {
	a := Vec3{X: 0, Y: 0, Z: 0}
	b := Vec3{X: 1, Y: 0, Z: 0}
	c := Vec3{X: 0, Y: 1, Z: 0}
	p := Vec3{X: 0.2, Y: 0.2, Z: 2}
	d := UsdTriangle(p, a, b, c)
	want := float32(4.0)
	if math.Abs(float64(d-want)) > 1e-4 {
		t.Errorf("UsdTriangle = %v, want %v", d, want)
	}
}

func TestClosestPointTriangleMatchesUsd(t *testing.T) {
	a := Vec3{X: 0, Y: 0, Z: 0}
	b := Vec3{X: 1, Y: 0, Z: 0}
	c := Vec3{X: 0, Y: 1, Z: 0}
	p := Vec3{X: 5, Y: 5, Z: 0}

	closest, uvw := ClosestPointTriangle(a, b, c, p)
	sum := uvw.X + uvw.Y + uvw.Z
	if math.Abs(float64(sum-1)) > 1e-4 {
		t.Errorf("barycentric weights sum to %v, want 1", sum)
	}

	want := UsdTriangle(p, a, b, c)
	got := closest.Sub(p).LengthSquared()
	if math.Abs(float64(got-want)) > 1e-3 {
		t.Errorf("ClosestPointTriangle distance %v disagrees with UsdTriangle %v", got, want)
	}
}

func TestBoundedInsertKeepsSortedOrder(t *testing.T) {
	cand := make([]Record, 3)
	for i := range cand {
		cand[i] = Record{Index: Sentinel, Dist: math.MaxFloat32}
	}
	BoundedInsert(cand, 1, float32(5))
	BoundedInsert(cand, 2, float32(1))
	BoundedInsert(cand, 3, float32(10))
	BoundedInsert(cand, 4, float32(3))

	wantOrder := []uint32{2, 4, 1}
	for i, w := range wantOrder {
		if cand[i].Index != w {
			t.Errorf("cand[%d].Index = %d, want %d", i, cand[i].Index, w)
		}
	}
	for i := 1; i < len(cand); i++ {
		if cand[i].Dist < cand[i-1].Dist {
			t.Errorf("candidates not sorted ascending at %d", i)
		}
	}
}

func TestBoundedInsertUpdatesDuplicate(t *testing.T) {
	cand := []Record{
		{Index: 1, Dist: 1},
		{Index: 2, Dist: 5},
		{Index: Sentinel, Dist: math.MaxFloat32},
	}
	// Index 2 improves to a closer distance; it should move earlier
	// without creating a second entry.
	BoundedInsert(cand, 2, float32(0.5))

	count := 0
	for _, c := range cand {
		if c.Index == 2 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("index 2 appears %d times, want 1", count)
	}
	if cand[0].Index != 2 {
		t.Errorf("cand[0].Index = %d, want 2 (closest)", cand[0].Index)
	}
}

func TestBoundedInsertRejectsWorseThanFull(t *testing.T) {
	cand := []Record{
		{Index: 1, Dist: 1},
		{Index: 2, Dist: 2},
	}
	BoundedInsert(cand, 3, float32(10))
	if cand[0].Index != 1 || cand[1].Index != 2 {
		t.Errorf("full register accepted a worse candidate: %+v", cand)
	}
}

func TestNewSeededRowAndWriteRow(t *testing.T) {
	row := []uint32{Sentinel, Sentinel, Sentinel}
	positions := map[uint32]float32{0: 2, 1: 1}
	cand := NewSeededRow(row, func(idx uint32) float32 { return positions[idx] })
	if len(cand) != 3 {
		t.Fatalf("len(cand) = %d, want 3", len(cand))
	}
	for _, c := range cand {
		if c.Index != Sentinel || c.Dist != math.MaxFloat32 {
			t.Errorf("seeded sentinel entry = %+v, want {Sentinel MaxFloat32}", c)
		}
	}

	BoundedInsert(cand, 0, positions[0])
	BoundedInsert(cand, 1, positions[1])
	WriteRow(row, cand)
	if row[0] != 1 || row[1] != 0 {
		t.Errorf("row = %v, want [1 0 Sentinel]", row)
	}
}
