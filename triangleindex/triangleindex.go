// Package triangleindex implements the triangle spatial index (spec.md
// component C4): builds a bucketed spatial-hash cell table over a
// triangle mesh's AABBs and answers bounded-K nearest-triangle queries
// for an external or implicit (per-vertex) query set.
package triangleindex

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	simtools "github.com/computer-graphics-tools/simulation-tools"
	"github.com/computer-graphics-tools/simulation-tools/encoding"
	"github.com/computer-graphics-tools/simulation-tools/internal/bhash"
	"github.com/computer-graphics-tools/simulation-tools/internal/gpu"
	"github.com/computer-graphics-tools/simulation-tools/internal/half"
	"github.com/computer-graphics-tools/simulation-tools/internal/workpool"
)

// Sentinel is the "empty slot" / "absent" marker, shared with pointindex.
const Sentinel = bhash.Sentinel

// Config configures a triangle spatial index at construction.
type Config struct {
	// CellSize is the spatial-hash cell width, > 0.
	CellSize float32
	// BucketSize is the fixed number of slots per cell, 8 or 16. Zero
	// defaults to 8.
	BucketSize int
	// MMax is the maximum triangle count Build will ever be called
	// with.
	MMax int
	// Width is the threadgroup width used by the CPU worker-pool
	// executor.
	Width int
	// Runtime is stored with the configuration but not used by Build,
	// Find or Reuse, which always run on the CPU worker pool; no GPU
	// kernels are dispatched by this package.
	Runtime *gpu.Runtime
	// Logger receives structured build/find/reuse diagnostics. A nil
	// Logger discards everything.
	Logger *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.Level(1000)}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// SizeofBuffers returns the total byte size of the buffers an Index
// with the given mMax and bucket size will allocate: bucketed hash
// table + per-cell insertion counters, per spec.md 6.
func SizeofBuffers(mMax, bucketSize int) int {
	return 4*bucketSize*mMax + 4*mMax
}

// Index owns the bucketed hash table and half-precision vertex mirror
// for a fixed-capacity triangle set. Collider positions, triangle
// indices, candidate buffers, and neighbour rows are all caller-owned
// and passed in per call.
type Index struct {
	cfg    Config
	bucket int
	width  int

	hashTable []uint32 // length m_max*bucket, UINT_MAX sentinel
	counter   []uint32 // length m_max, insertion count per cell

	verts []half.Vec3 // capacity grows to the largest n seen so far
	tris  []encoding.Triangle

	step uint32 // monotonically increasing frame-rotation counter
	m    int    // triangle count from the most recent Build
	n    int    // collider vertex count from the most recent Build

	log *slog.Logger
}

// New constructs a triangle spatial index with the given configuration.
func New(cfg Config) (*Index, error) {
	if cfg.CellSize <= 0 {
		return nil, fmt.Errorf("triangleindex: cellSize must be > 0")
	}
	if cfg.BucketSize == 0 {
		cfg.BucketSize = 8
	}
	if cfg.BucketSize != 8 && cfg.BucketSize != 16 {
		return nil, fmt.Errorf("triangleindex: bucketSize must be 8 or 16")
	}
	if cfg.MMax <= 0 {
		return nil, fmt.Errorf("triangleindex: mMax must be > 0")
	}
	if cfg.Width <= 0 {
		cfg.Width = workpool.DefaultWidth
	}

	idx := &Index{
		cfg:       cfg,
		bucket:    cfg.BucketSize,
		width:     cfg.Width,
		hashTable: make([]uint32, cfg.MMax*cfg.BucketSize),
		counter:   make([]uint32, cfg.MMax),
		tris:      make([]encoding.Triangle, cfg.MMax),
		log:       cfg.logger(),
	}
	return idx, nil
}

// Len returns the triangle count from the most recent Build.
func (idx *Index) Len() int { return idx.m }

// vertexAt reads collider vertex i back to full float32 precision.
func (idx *Index) vertexAt(i uint32) bhash.Vec3 {
	x, y, z := idx.verts[i].ToFloat32()
	return bhash.Vec3{X: x, Y: y, Z: z}
}

func (idx *Index) triVerts(t encoding.Triangle) (a, b, c bhash.Vec3) {
	return idx.vertexAt(t.A), idx.vertexAt(t.B), idx.vertexAt(t.C)
}

// Build resets the index and constructs a fresh bucketed hash table
// over colliderPositions/triangles, per spec.md 4.4. The frame-rotation
// counter step advances by one on every call, spreading bucket-overflow
// loss across frames; it is preserved across builds of the same index
// and only reset by New.
func (idx *Index) Build(ctx context.Context, colliderPositions []byte, posTag encoding.Tag, triangles []byte, triTag encoding.IndexTag) error {
	if !posTag.Valid() {
		return simtools.ErrEncodingUnsupported
	}
	if !triTag.Valid() {
		return simtools.ErrEncodingUnsupported
	}
	n := posTag.Count(colliderPositions)
	m := triTag.Count(triangles)
	if err := simtools.CapacityCheck("triangles", m, idx.cfg.MMax); err != nil {
		return err
	}
	if n > len(idx.verts) {
		idx.verts = make([]half.Vec3, n)
	}

	idx.log.DebugContext(ctx, "triangleindex build starting", "m", m, "n", n)

	// Convert collider positions to the half-precision mirror.
	err := workpool.RunEach(ctx, n, idx.width, func(_ context.Context, i int) error {
		v := posTag.ReadVec3(colliderPositions, i)
		idx.verts[i] = half.FromFloat32Vec3(v.X, v.Y, v.Z)
		return nil
	})
	if err != nil {
		return err
	}

	// Reset counter and hash table to the sentinel before this build.
	err = workpool.RunEach(ctx, m, idx.width, func(_ context.Context, g int) error {
		idx.counter[g] = 0
		return nil
	})
	if err != nil {
		return err
	}
	err = workpool.RunEach(ctx, m*idx.bucket, idx.width, func(_ context.Context, i int) error {
		idx.hashTable[i] = Sentinel
		return nil
	})
	if err != nil {
		return err
	}

	counters := make([]atomic.Uint32, m)

	err = workpool.RunEach(ctx, m, idx.width, func(_ context.Context, g int) error {
		gp := (int(idx.step) + g) % m
		tri := triTag.ReadTriangle(triangles, gp)
		idx.tris[gp] = tri

		a, b, c := idx.triVerts(tri)
		lo := bhash.Vec3{X: minf(a.X, minf(b.X, c.X)), Y: minf(a.Y, minf(b.Y, c.Y)), Z: minf(a.Z, minf(b.Z, c.Z))}
		hi := bhash.Vec3{X: maxf(a.X, maxf(b.X, c.X)), Y: maxf(a.Y, maxf(b.Y, c.Y)), Z: maxf(a.Z, maxf(b.Z, c.Z))}

		minCell := bhash.CellCoord{
			X: int32(math.Floor(float64(lo.X / idx.cfg.CellSize))),
			Y: int32(math.Floor(float64(lo.Y / idx.cfg.CellSize))),
			Z: int32(math.Floor(float64(lo.Z / idx.cfg.CellSize))),
		}
		maxCell := bhash.CellCoord{
			X: int32(math.Ceil(float64(hi.X / idx.cfg.CellSize))),
			Y: int32(math.Ceil(float64(hi.Y / idx.cfg.CellSize))),
			Z: int32(math.Ceil(float64(hi.Z / idx.cfg.CellSize))),
		}

		for cz := minCell.Z; cz <= maxCell.Z; cz++ {
			for cy := minCell.Y; cy <= maxCell.Y; cy++ {
				for cx := minCell.X; cx <= maxCell.X; cx++ {
					cell := bhash.CellCoord{X: cx, Y: cy, Z: cz}
					h := bhash.GetHash(cell, uint32(m))
					slot := counters[h].Add(1) - 1
					if int(slot) < idx.bucket {
						idx.hashTable[int(h)*idx.bucket+int(slot)] = uint32(gp)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for h := range counters {
		idx.counter[h] = counters[h].Load()
	}

	idx.step++
	idx.m = m
	idx.n = n
	idx.log.DebugContext(ctx, "triangleindex build complete", "m", m)
	return nil
}

// FindRequest bundles Find's caller-owned buffers.
type FindRequest struct {
	// ExternalQueries, if non-nil, is the query position buffer; a nil
	// ExternalQueries makes the query set the collider's own vertices
	// (self mode, one query per vertex).
	ExternalQueries []byte
	Tag             encoding.Tag
	// Candidates is read as the reuse seed, then overwritten. Its
	// length must be a multiple of the query count; K is inferred.
	Candidates []uint32
	// Connected is an optional per-query row of vertex indices to
	// exclude a triangle that references them.
	Connected []uint32
}

// Find answers a nearest-K-triangles query per spec.md 4.4: a single
// cell lookup per query, relying on the AABB expansion performed at
// build time rather than a 3x3x3 neighbourhood walk.
func (idx *Index) Find(ctx context.Context, req FindRequest) error {
	extMode := req.ExternalQueries != nil
	var nq int
	var extPositions []bhash.Vec3
	if extMode {
		if !req.Tag.Valid() {
			return simtools.ErrEncodingUnsupported
		}
		nq = req.Tag.Count(req.ExternalQueries)
		extPositions = make([]bhash.Vec3, nq)
		for i := 0; i < nq; i++ {
			v := req.Tag.ReadVec3(req.ExternalQueries, i)
			extPositions[i] = bhash.Vec3{X: v.X, Y: v.Y, Z: v.Z}
		}
	} else {
		nq = idx.n
	}
	if nq == 0 {
		return nil
	}
	if err := simtools.ShapeCheck("candidates", len(req.Candidates), nq); err != nil {
		return err
	}
	k := len(req.Candidates) / nq
	if k == 0 || k > 32 {
		return fmt.Errorf("triangleindex: invalid K=%d inferred from candidates buffer", k)
	}
	v := 0
	if req.Connected != nil {
		if err := simtools.ShapeCheck("connected", len(req.Connected), nq); err != nil {
			return err
		}
		v = len(req.Connected) / nq
	}

	m := uint32(idx.m)

	err := workpool.RunEach(ctx, nq, idx.width, func(_ context.Context, q int) error {
		var qpos bhash.Vec3
		if extMode {
			qpos = extPositions[q]
		} else {
			qpos = idx.vertexAt(uint32(q))
		}

		row := req.Candidates[q*k : q*k+k]
		cand := bhash.NewSeededRow(row, func(cIdx uint32) float32 {
			a, b, c := idx.triVerts(idx.tris[cIdx])
			return bhash.UsdTriangle(qpos, a, b, c)
		})

		var connected []uint32
		if req.Connected != nil {
			connected = req.Connected[q*v : q*v+v]
		}

		cell := bhash.HashCoord(qpos, idx.cfg.CellSize)
		h := bhash.GetHash(cell, m)
		count := idx.counter[h]
		if count > uint32(idx.bucket) {
			count = uint32(idx.bucket)
		}
		base := int(h) * idx.bucket
		for s := uint32(0); s < count; s++ {
			t := idx.hashTable[base+int(s)]
			if t == Sentinel {
				continue
			}
			tri := idx.tris[t]
			if !extMode {
				qIdx := uint32(q)
				if tri.A == qIdx || tri.B == qIdx || tri.C == qIdx {
					continue
				}
			}
			if containsUint32(connected, tri.A) || containsUint32(connected, tri.B) || containsUint32(connected, tri.C) {
				continue
			}
			a, b, c := idx.triVerts(tri)
			d2 := bhash.UsdTriangle(qpos, a, b, c)
			if len(cand) > 0 && d2 > cand[len(cand)-1].Dist {
				continue
			}
			bhash.BoundedInsert(cand, t, d2)
		}

		bhash.WriteRow(row, cand)
		return nil
	})
	if err != nil {
		return err
	}

	idx.log.DebugContext(ctx, "triangleindex find complete", "queries", nq, "k", k)
	return nil
}

// Reuse refreshes every candidate row in place using vertex- and
// optional triangle-adjacency coherence, per spec.md 4.5, without
// re-traversing any cell. candidates is both the previous frame's
// result and the seed/output of this call. vertexNeighbours is a
// caller-owned row of up to N neighbour-vertex indices per query;
// triangleNeighbours, if non-nil, is a fixed row of three
// triangle-adjacency indices per triangle.
func (idx *Index) Reuse(ctx context.Context, candidates []uint32, vertexNeighbours []uint32, triangleNeighbours []uint32) error {
	nq := idx.n
	if nq == 0 {
		return nil
	}
	if err := simtools.ShapeCheck("candidates", len(candidates), nq); err != nil {
		return err
	}
	k := len(candidates) / nq
	if err := simtools.ShapeCheck("vertexNeighbours", len(vertexNeighbours), nq); err != nil {
		return err
	}
	nn := len(vertexNeighbours) / nq

	hasTriNeighbours := triangleNeighbours != nil
	if hasTriNeighbours {
		if err := simtools.ShapeCheck("triangleNeighbours", len(triangleNeighbours), idx.m); err != nil {
			return err
		}
	}

	err := workpool.RunEach(ctx, nq, idx.width, func(_ context.Context, q int) error {
		qpos := idx.vertexAt(uint32(q))
		row := candidates[q*k : q*k+k]
		cand := bhash.NewSeededRow(row, func(cIdx uint32) float32 {
			a, b, c := idx.triVerts(idx.tris[cIdx])
			return bhash.UsdTriangle(qpos, a, b, c)
		})

		vrow := vertexNeighbours[q*nn : q*nn+nn]
		limit := min(4, nn)
		for i := 0; i < limit; i++ {
			n := vrow[i]
			if n == Sentinel {
				continue
			}
			nrow := candidates[int(n)*k : int(n)*k+k]
			t := bestValid(nrow)
			if t == Sentinel {
				continue
			}
			a, b, c := idx.triVerts(idx.tris[t])
			d2 := bhash.UsdTriangle(qpos, a, b, c)
			if len(cand) > 0 && d2 > cand[len(cand)-1].Dist {
				continue
			}
			bhash.BoundedInsert(cand, t, d2)

			if hasTriNeighbours {
				trow := triangleNeighbours[int(t)*3 : int(t)*3+3]
				for _, adj := range trow {
					if adj == Sentinel {
						continue
					}
					aa, bb, cc := idx.triVerts(idx.tris[adj])
					ad2 := bhash.UsdTriangle(qpos, aa, bb, cc)
					if len(cand) > 0 && ad2 > cand[len(cand)-1].Dist {
						continue
					}
					bhash.BoundedInsert(cand, adj, ad2)
				}
			}
		}

		bhash.WriteRow(row, cand)
		return nil
	})
	if err != nil {
		return err
	}

	idx.log.DebugContext(ctx, "triangleindex reuse complete", "queries", nq)
	return nil
}

// bestValid returns the first non-sentinel entry of a candidate row,
// the row's current best by construction since rows are kept sorted.
func bestValid(row []uint32) uint32 {
	for _, v := range row {
		if v != Sentinel {
			return v
		}
	}
	return Sentinel
}

func containsUint32(s []uint32, v uint32) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func min(a, b int) int {
	if a < b {
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

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
