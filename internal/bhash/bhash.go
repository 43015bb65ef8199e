// Package bhash implements the hash-and-distance primitives shared by
// every kernel in this module: cell-coordinate hashing, squared
// point-point/point-triangle distance, the conservative AABB-vs-sphere
// prune, and the bounded-K sorted insert that maintains a per-query
// candidate row. These are written once here and called from the CPU
// worker-pool executor in the two index packages; this module has no
// WGSL version of them (its only WGSL kernels are the bitonic sort's).
package bhash

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Odd hash constants. Fixed by the original kernel; changing them
// breaks bit-reproducibility of every candidate-list test.
const (
	hashP1 int64 = 92837111
	hashP2 int64 = 689287499
	hashP3 int64 = 283923481
)

// Sentinel denotes an empty slot or an absent candidate everywhere in
// this module: hash-table slots, cell boundaries, and candidate rows.
const Sentinel uint32 = math.MaxUint32

// Vec3 is a plain float32 3-vector used throughout the distance math.
type Vec3 struct {
	X, Y, Z float32
}

func (v Vec3) Sub(o Vec3) Vec3  { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Add(o Vec3) Vec3  { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Scale(s float32) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Dot(o Vec3) float32 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}
func (v Vec3) LengthSquared() float32 { return v.Dot(v) }

// HashPair is one entry of the hash table: a cell hash and the source
// index it was computed from. The table is sorted by Hash, breaking
// ties by Payload.
type HashPair struct {
	Hash    uint32
	Payload uint32
}

// CellCoord is the integer triple obtained by flooring position/cellSize.
type CellCoord struct {
	X, Y, Z int32
}

// HashCoord floors pos/cellSize component-wise into a cell coordinate.
// Negative coordinates are supported; no shift is applied.
func HashCoord(pos Vec3, cellSize float32) CellCoord {
	return CellCoord{
		X: int32(math.Floor(float64(pos.X / cellSize))),
		Y: int32(math.Floor(float64(pos.Y / cellSize))),
		Z: int32(math.Floor(float64(pos.Z / cellSize))),
	}
}

// ComputeHash combines a cell coordinate into a signed 32-bit hash via
// the fixed odd-constant XOR scheme.
func ComputeHash(c CellCoord) int32 {
	h := (int64(c.X) * hashP1) ^ (int64(c.Y) * hashP2) ^ (int64(c.Z) * hashP3)
	return int32(h)
}

// GetHash maps a cell coordinate to a slot in [0, capacity).
func GetHash(c CellCoord, capacity uint32) uint32 {
	h := ComputeHash(c)
	if h < 0 {
		h = -h
	}
	return uint32(h) % capacity
}

// SdsBox returns the squared signed distance from point p to an
// axis-aligned box centred at the origin with half-extents b.
// Negative results (interior points) are preserved so AABB-vs-sphere
// pruning can compare against a positive threshold without clamping.
func SdsBox(p, b Vec3) float32 {
	q := Vec3{absf(p.X) - b.X, absf(p.Y) - b.Y, absf(p.Z) - b.Z}
	maxQ := Vec3{maxf(q.X, 0), maxf(q.Y, 0), maxf(q.Z, 0)}
	return maxQ.LengthSquared() + minf(maxf(q.X, maxf(q.Y, q.Z)), 0)
}

// UsdTriangle returns the unsigned squared distance from point p to
// triangle (a, b, c), the Inigo Quilez formulation: if p's projection
// falls inside the triangle's plane, the foot is the planar projection;
// otherwise it is the closest of the three clamped edge projections.
func UsdTriangle(p, a, b, c Vec3) float32 {
	ba := b.Sub(a)
	pa := p.Sub(a)
	cb := c.Sub(b)
	pb := p.Sub(b)
	ac := a.Sub(c)
	pc := p.Sub(c)
	nor := ba.Cross(ac)

	s := signf(ba.Cross(nor).Dot(pa)) + signf(cb.Cross(nor).Dot(pb)) + signf(ac.Cross(nor).Dot(pc))
	if s < 2 {
		d1 := ba.Scale(saturate(ba.Dot(pa)/ba.LengthSquared())).Sub(pa).LengthSquared()
		d2 := cb.Scale(saturate(cb.Dot(pb)/cb.LengthSquared())).Sub(pb).LengthSquared()
		d3 := ac.Scale(saturate(ac.Dot(pc)/ac.LengthSquared())).Sub(pc).LengthSquared()
		return minf(minf(d1, d2), d3)
	}
	nd := nor.Dot(pa)
	return nd * nd / nor.LengthSquared()
}

// ClosestPointTriangle returns the closest point on triangle (p0, p1,
// p2) to p along with its barycentric weights. Supplemented from
// DistanceFunctions.h: usdTriangle alone tells a caller membership and
// distance, but a narrow-phase collaborator following up on a
// candidate list needs the actual contact point.
func ClosestPointTriangle(p0, p1, p2, p Vec3) (closest, uvw Vec3) {
	b0, b1, b2 := float32(1.0/3.0), float32(1.0/3.0), float32(1.0/3.0)

	d1 := p1.Sub(p0)
	d2 := p2.Sub(p0)
	pp0 := p.Sub(p0)
	a := d1.LengthSquared()
	b := d2.Dot(d1)
	c := pp0.Dot(d1)
	d := b
	e := d2.LengthSquared()
	f := pp0.Dot(d2)
	det := a*e - b*d

	if det != 0 {
		s := (c*e - b*f) / det
		t := (a*f - c*d) / det
		b0 = 1 - s - t
		b1 = s
		b2 = t

		switch {
		case b0 < 0:
			edge := p2.Sub(p1)
			edgeLenSq := edge.LengthSquared()
			var tt float32 = 0.5
			if edgeLenSq != 0 {
				tt = saturate(edge.Dot(p.Sub(p1)) / edgeLenSq)
			}
			b0, b1, b2 = 0, 1-tt, tt
		case b1 < 0:
			edge := p0.Sub(p2)
			edgeLenSq := edge.LengthSquared()
			var tt float32 = 0.5
			if edgeLenSq != 0 {
				tt = saturate(edge.Dot(p.Sub(p2)) / edgeLenSq)
			}
			b1, b2, b0 = 0, 1-tt, tt
		case b2 < 0:
			edge := p1.Sub(p0)
			edgeLenSq := edge.LengthSquared()
			var tt float32 = 0.5
			if edgeLenSq != 0 {
				tt = saturate(edge.Dot(p.Sub(p0)) / edgeLenSq)
			}
			b2, b0, b1 = 0, 1-tt, tt
		}
	}

	uvw = Vec3{b0, b1, b2}
	closest = p0.Scale(b0).Add(p1.Scale(b1)).Add(p2.Scale(b2))
	return closest, uvw
}

// Record is a single entry of a per-query sorted-candidates register:
// a candidate index and its squared distance to the query.
type Record struct {
	Index uint32
	Dist  float32
}

// BoundedInsert performs the bounded-K sorted insert described in
// spec.md 4.1: find the insertion point by distance, find any existing
// duplicate of idx, shift the run between them, and write the new
// record. cand must already be sorted ascending by Dist. Generic over
// the distance type so both float32 (GPU-mirrored path) and any other
// ordered float kernels built on top of this package share one
// implementation.
func BoundedInsert[F constraints.Float](cand []Record, idx uint32, dist F) {
	d := float32(dist)
	pos := -1
	dup := -1
	for i := range cand {
		if pos == -1 && d <= cand[i].Dist {
			pos = i
		}
		if dup == -1 && cand[i].Index == idx {
			dup = i
		}
	}
	if pos == -1 {
		return
	}
	start := len(cand) - 1
	if dup != -1 {
		start = dup
	}
	for j := start; j > pos; j-- {
		cand[j] = cand[j-1]
	}
	cand[pos] = Record{Index: idx, Dist: d}
}

// NewSeededRow builds a K-length sorted-candidates register from a
// caller-supplied candidate row and a function resolving a candidate
// index to its current squared distance to the query. Entries equal to
// Sentinel seed as FLT_MAX so they sort to the tail and lose to any
// real candidate found during the walk.
func NewSeededRow(row []uint32, distOf func(idx uint32) float32) []Record {
	cand := make([]Record, len(row))
	for i, idx := range row {
		if idx == Sentinel {
			cand[i] = Record{Index: Sentinel, Dist: math.MaxFloat32}
			continue
		}
		cand[i] = Record{Index: idx, Dist: distOf(idx)}
	}
	return cand
}

// WriteRow flattens a sorted-candidates register back into a row of
// indices, the form stored in the caller's candidate buffer.
func WriteRow(row []uint32, cand []Record) {
	for i, r := range cand {
		row[i] = r.Index
	}
}

func absf(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func signf(x float32) float32 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func saturate(x float32) float32 {
	return maxf(0, minf(1, x))
}
