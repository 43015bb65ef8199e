// Package pointindex implements the point spatial index (spec.md
// component C3): builds a spatial-hash cell table over a set of
// positions and answers bounded-K nearest-neighbour-within-radius
// queries, either against the same set (self mode) or an external
// query set.
package pointindex

import (
	"context"
	"fmt"
	"log/slog"

	simtools "github.com/computer-graphics-tools/simulation-tools"
	"github.com/computer-graphics-tools/simulation-tools/encoding"
	"github.com/computer-graphics-tools/simulation-tools/internal/bhash"
	"github.com/computer-graphics-tools/simulation-tools/internal/bitonic"
	"github.com/computer-graphics-tools/simulation-tools/internal/gpu"
	"github.com/computer-graphics-tools/simulation-tools/internal/half"
	"github.com/computer-graphics-tools/simulation-tools/internal/workpool"
)

// Config configures a point spatial index at construction. Capacities
// are fixed for the object's lifetime; spec.md explicitly excludes
// dynamic resize.
type Config struct {
	// CellSize is the spatial-hash cell width, > 0.
	CellSize float32
	// Radius is the search radius, > 0 and <= CellSize. Candidates are
	// kept when their diameter (2*Radius) overlaps the query's, i.e.
	// the effective bound is (2*Radius)^2, not Radius^2 — see Find.
	// Callers wanting a strict "within radius r" query should pass
	// Radius = r/2, per spec.md 9's locked convention.
	Radius float32
	// NMax is the maximum number of positions Build will ever be
	// called with.
	NMax int
	// Width is the threadgroup width used by the CPU worker-pool
	// executor. Defaults to workpool.DefaultWidth.
	Width int
	// ReuseSpacingScale scales CellSize for the C5 reuse pass's
	// distance bound; defaults to 1 if zero.
	ReuseSpacingScale float32
	// Runtime is stored with the configuration but not used by Build,
	// Find or Reuse, which always run on the CPU worker pool; no GPU
	// kernels are dispatched by this package.
	Runtime *gpu.Runtime
	// Logger receives structured build/find/reuse diagnostics. A nil
	// Logger discards everything.
	Logger *slog.Logger
}

// Sentinel is the "empty slot" / "absent" marker used throughout
// hash tables, cell boundaries, and candidate rows.
const Sentinel = bhash.Sentinel

// Index owns the spatial-hash cell table and half-precision position
// mirror for a fixed-capacity point set. Positions, candidate buffers,
// and connected-vertex rows are all caller-owned and passed in per
// call; the Index never retains them across calls.
type Index struct {
	cfg      Config
	capacity uint32 // C = 2*NMax
	padMax   int    // next_pow2(NMax)
	width    int

	hashTable  []bhash.HashPair // length padMax
	start      []uint32         // length capacity
	end        []uint32         // length capacity
	sortedHalf []half.Vec3      // length padMax, indexed by sorted table slot
	byIndex    []half.Vec3      // length NMax, indexed by original position index

	n int // element count from the most recent Build

	log *slog.Logger
}

// positionAt reads the original-index position i back to full float32
// precision from its half-precision mirror.
func (idx *Index) positionAt(i uint32) bhash.Vec3 {
	x, y, z := idx.byIndex[i].ToFloat32()
	return bhash.Vec3{X: x, Y: y, Z: z}
}

// sortedPositionAt reads the sorted-table-slot position i back to full
// float32 precision from its half-precision mirror.
func (idx *Index) sortedPositionAt(i uint32) bhash.Vec3 {
	x, y, z := idx.sortedHalf[i].ToFloat32()
	return bhash.Vec3{X: x, Y: y, Z: z}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.Level(1000)}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// SizeofBuffers returns a byte budget for an Index with the given
// nMax: start + end (2*4*nMax each) + hash table (16*nMax) + one
// half-position mirror (6*nMax), per spec.md 6. It does not count the
// Index's second, original-index half mirror (byIndex), so when nMax
// is not a power of two the Index allocates more than this total.
func SizeofBuffers(nMax int) int {
	return 2*4*nMax + 2*4*nMax + 16*nMax + 6*nMax
}

// New constructs a point spatial index with the given configuration.
func New(cfg Config) (*Index, error) {
	if cfg.CellSize <= 0 {
		return nil, fmt.Errorf("pointindex: cellSize must be > 0")
	}
	if cfg.Radius <= 0 || cfg.Radius > cfg.CellSize {
		return nil, fmt.Errorf("pointindex: radius must be in (0, cellSize]")
	}
	if cfg.NMax <= 0 {
		return nil, fmt.Errorf("pointindex: nMax must be > 0")
	}
	if cfg.Width <= 0 {
		cfg.Width = workpool.DefaultWidth
	}
	if cfg.ReuseSpacingScale <= 0 {
		cfg.ReuseSpacingScale = 1
	}

	capacity := uint32(2 * cfg.NMax)
	padMax := bitonic.NextPow2(cfg.NMax)

	idx := &Index{
		cfg:        cfg,
		capacity:   capacity,
		padMax:     padMax,
		width:      cfg.Width,
		hashTable:  make([]bhash.HashPair, padMax),
		start:      make([]uint32, capacity),
		end:        make([]uint32, capacity),
		sortedHalf: make([]half.Vec3, padMax),
		byIndex:    make([]half.Vec3, cfg.NMax),
		log:        cfg.logger(),
	}
	return idx, nil
}

// Len returns the element count from the most recent Build.
func (idx *Index) Len() int { return idx.n }

// Build resets the index and constructs a fresh spatial-hash cell
// table over positions, following spec.md 4.3's build sequence:
// reset, convert to half-precision, hash, bitonic sort, reorder,
// cell-boundary sweep. Steps execute strictly in this order.
func (idx *Index) Build(ctx context.Context, positions []byte, tag encoding.Tag) error {
	if !tag.Valid() {
		return simtools.ErrEncodingUnsupported
	}
	n := tag.Count(positions)
	if err := simtools.CapacityCheck("positions", n, idx.cfg.NMax); err != nil {
		return err
	}

	idx.log.DebugContext(ctx, "pointindex build starting", "n", n)

	// 1. Reset hash table to the sentinel pair.
	bitonic.Fill(idx.hashTable, 0)

	// 2. Convert positions to the half-precision mirror addressable by
	// original index — kept for the lifetime of the build rather than
	// discarded, so self-exclusion, connected-vertex checks, and the
	// C5 reuse pass have O(1) lookup by caller-visible index alongside
	// the sorted mirror spec.md describes (see DESIGN.md).
	// 3. Hash each position into the pending table, from the
	// full-precision source buffer rather than the half mirror just
	// written, so cell assignment never suffers half-precision
	// rounding near a cell boundary.
	err := workpool.RunEach(ctx, n, idx.width, func(_ context.Context, i int) error {
		v := tag.ReadVec3(positions, i)
		full := bhash.Vec3{X: v.X, Y: v.Y, Z: v.Z}
		idx.byIndex[i] = half.FromFloat32Vec3(v.X, v.Y, v.Z)

		cell := bhash.HashCoord(full, idx.cfg.CellSize)
		h := bhash.GetHash(cell, idx.capacity)
		idx.hashTable[i] = bhash.HashPair{Hash: h, Payload: uint32(i)}
		return nil
	})
	if err != nil {
		return err
	}

	// 4. Bitonic sort the padded table.
	pad := bitonic.NextPow2(n)
	if pad == 0 {
		pad = 1
	}
	bitonic.Fill(idx.hashTable, n)
	bitonic.Sort(idx.hashTable[:pad])

	// 5. Reorder half-positions into sorted order.
	err = workpool.RunEach(ctx, n, idx.width, func(_ context.Context, i int) error {
		payload := idx.hashTable[i].Payload
		idx.sortedHalf[i] = idx.byIndex[payload]
		return nil
	})
	if err != nil {
		return err
	}

	// 6. Cell-boundary sweep: reset then compute start/end runs.
	err = workpool.RunEach(ctx, int(idx.capacity), idx.width, func(_ context.Context, i int) error {
		idx.start[i] = Sentinel
		idx.end[i] = Sentinel
		return nil
	})
	if err != nil {
		return err
	}
	err = workpool.RunEach(ctx, n, idx.width, func(_ context.Context, gid int) error {
		h := idx.hashTable[gid].Hash
		if gid == 0 || h != idx.hashTable[gid-1].Hash {
			idx.start[h] = uint32(gid)
			if gid > 0 {
				idx.end[idx.hashTable[gid-1].Hash] = uint32(gid)
			}
		}
		if gid == n-1 {
			idx.end[h] = uint32(gid + 1)
		}
		return nil
	})
	if err != nil {
		return err
	}

	idx.n = n
	idx.log.DebugContext(ctx, "pointindex build complete", "n", n)
	return nil
}

// FindRequest bundles Find's caller-owned buffers.
type FindRequest struct {
	// ExternalQueries, if non-nil, is the query position buffer; a nil
	// ExternalQueries makes the query set the index's own sorted
	// positions (self mode).
	ExternalQueries []byte
	Tag             encoding.Tag
	// Candidates is read as the reuse seed, then overwritten. Its
	// length must be a multiple of the query count; K is inferred
	// from that. Zero it to Sentinel before the first call on fresh
	// geometry — leave it as-is on subsequent calls to get reuse.
	Candidates []uint32
	// Connected is an optional per-query row of indices to exclude
	// from that query's candidates (e.g. mesh edge neighbours). Its
	// length must be a multiple of the query count.
	Connected []uint32
}

// Find answers a K-NN-within-(2*Radius) query per spec.md 4.3.
func (idx *Index) Find(ctx context.Context, req FindRequest) error {
	nq := idx.n
	extMode := req.ExternalQueries != nil
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
	}

	if nq == 0 {
		return nil
	}
	if err := simtools.ShapeCheck("candidates", len(req.Candidates), nq); err != nil {
		return err
	}
	k := len(req.Candidates) / nq
	if k == 0 || k > 32 {
		return fmt.Errorf("pointindex: invalid K=%d inferred from candidates buffer", k)
	}
	v := 0
	if req.Connected != nil {
		if err := simtools.ShapeCheck("connected", len(req.Connected), nq); err != nil {
			return err
		}
		v = len(req.Connected) / nq
	}

	diam2 := (2 * idx.cfg.Radius) * (2 * idx.cfg.Radius)
	halfExtent := bhash.Vec3{X: idx.cfg.CellSize / 2, Y: idx.cfg.CellSize / 2, Z: idx.cfg.CellSize / 2}

	err := workpool.RunEach(ctx, nq, idx.width, func(_ context.Context, q int) error {
		var qpos bhash.Vec3
		selfIdx := Sentinel
		rowIdx := q
		if extMode {
			qpos = extPositions[q]
		} else {
			// The loop runs over sorted table slots for cache-friendly
			// cell walks, but the caller addresses candidate/connected
			// rows by the point's own index — the payload the slot
			// was sorted from — so a rebuild never changes which row
			// a caller-visible point's results land in.
			qpos = idx.sortedPositionAt(uint32(q))
			selfIdx = idx.hashTable[q].Payload
			rowIdx = int(selfIdx)
		}

		row := req.Candidates[rowIdx*k : rowIdx*k+k]
		cand := bhash.NewSeededRow(row, func(cIdx uint32) float32 {
			return qpos.Sub(idx.positionAt(cIdx)).LengthSquared()
		})

		var connected []uint32
		if req.Connected != nil {
			connected = req.Connected[rowIdx*v : rowIdx*v+v]
		}

		cell := bhash.HashCoord(qpos, idx.cfg.CellSize)
		for dz := int32(-1); dz <= 1; dz++ {
			for dy := int32(-1); dy <= 1; dy++ {
				for dx := int32(-1); dx <= 1; dx++ {
					nc := bhash.CellCoord{X: cell.X + dx, Y: cell.Y + dy, Z: cell.Z + dz}
					centre := bhash.Vec3{
						X: (float32(nc.X) + 0.5) * idx.cfg.CellSize,
						Y: (float32(nc.Y) + 0.5) * idx.cfg.CellSize,
						Z: (float32(nc.Z) + 0.5) * idx.cfg.CellSize,
					}
					if bhash.SdsBox(centre.Sub(qpos), halfExtent) > diam2 {
						continue
					}
					h := bhash.GetHash(nc, idx.capacity)
					start := idx.start[h]
					if start == Sentinel {
						continue
					}
					end := idx.end[h]
					limit := start + 32
					if end < limit {
						limit = end
					}
					for i := start; i < limit; i++ {
						cIdx := idx.hashTable[i].Payload
						if !extMode && cIdx == selfIdx {
							continue
						}
						if containsUint32(connected, cIdx) {
							continue
						}
						d2 := qpos.Sub(idx.sortedPositionAt(i)).LengthSquared()
						if d2 > diam2 {
							continue
						}
						if len(cand) > 0 && d2 > cand[len(cand)-1].Dist {
							continue
						}
						bhash.BoundedInsert(cand, cIdx, d2)
					}
				}
			}
		}

		bhash.WriteRow(row, cand)
		return nil
	})
	if err != nil {
		return err
	}

	idx.log.DebugContext(ctx, "pointindex find complete", "queries", nq, "k", k)
	return nil
}

// Reuse refreshes every self-mode candidate row in place using
// neighbour-of-neighbour coherence, per spec.md 4.5, without
// re-traversing any cell. candidates is both the previous frame's
// result and the seed/output of this call.
func (idx *Index) Reuse(ctx context.Context, candidates []uint32) error {
	n := idx.n
	if n == 0 {
		return nil
	}
	if err := simtools.ShapeCheck("candidates", len(candidates), n); err != nil {
		return err
	}
	k := len(candidates) / n
	spacing2 := (idx.cfg.CellSize * idx.cfg.ReuseSpacingScale) * (idx.cfg.CellSize * idx.cfg.ReuseSpacingScale)

	scan := k
	if scan > 4 {
		scan = 4
	}

	err := workpool.RunEach(ctx, n, idx.width, func(_ context.Context, q int) error {
		qpos := idx.positionAt(uint32(q))
		row := candidates[q*k : q*k+k]
		cand := bhash.NewSeededRow(row, func(cIdx uint32) float32 {
			return qpos.Sub(idx.positionAt(cIdx)).LengthSquared()
		})

		for ci := 0; ci < scan && ci < len(cand); ci++ {
			c := cand[ci].Index
			if c == Sentinel {
				continue
			}
			nrow := candidates[int(c)*k : int(c)*k+k]
			for _, raw := range nrow[:min(scan, len(nrow))] {
				cp := raw
				if cp == Sentinel || cp == uint32(q) {
					continue
				}
				d2 := qpos.Sub(idx.positionAt(cp)).LengthSquared()
				if d2 > spacing2 {
					continue
				}
				if len(cand) > 0 && d2 > cand[len(cand)-1].Dist {
					continue
				}
				bhash.BoundedInsert(cand, cp, d2)
			}
		}

		bhash.WriteRow(row, cand)
		return nil
	})
	if err != nil {
		return err
	}

	idx.log.DebugContext(ctx, "pointindex reuse complete", "n", n)
	return nil
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
