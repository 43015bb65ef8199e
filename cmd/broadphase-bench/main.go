// Command broadphase-bench times a point spatial index's build/find
// pipeline against a naive O(n^2) scan over random point clouds of
// increasing size.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/computer-graphics-tools/simulation-tools/encoding"
	"github.com/computer-graphics-tools/simulation-tools/pointindex"
)

func main() {
	counts := []int{100, 500, 1000, 2000, 5000, 10000, 20000}
	for _, n := range counts {
		benchOne(n)
	}
}

func benchOne(n int) {
	const cellSize = 2.0
	const radius = 1.0
	const k = 16

	spawn := float32(10.0) + float32(n)/50.0
	rng := rand.New(rand.NewSource(42))

	buf := make([]byte, n*12)
	for i := 0; i < n; i++ {
		x := rng.Float32()*spawn - spawn/2
		y := rng.Float32()*spawn - spawn/2
		z := rng.Float32()*spawn - spawn/2
		off := i * 12
		putFloat32(buf[off:], x)
		putFloat32(buf[off+4:], y)
		putFloat32(buf[off+8:], z)
	}

	idx, err := pointindex.New(pointindex.Config{CellSize: cellSize, Radius: radius, NMax: n})
	if err != nil {
		fmt.Printf("%6d points: index ERROR: %v\n", n, err)
		return
	}

	ctx := context.Background()
	if err := idx.Build(ctx, buf, encoding.Packed3); err != nil {
		fmt.Printf("%6d points: build ERROR: %v\n", n, err)
		return
	}

	candidates := make([]uint32, n*k)
	for i := range candidates {
		candidates[i] = pointindex.Sentinel
	}

	// Warm up.
	_ = idx.Find(ctx, pointindex.FindRequest{Candidates: candidates})

	const iterations = 10
	start := time.Now()
	for i := 0; i < iterations; i++ {
		if err := idx.Build(ctx, buf, encoding.Packed3); err != nil {
			fmt.Printf("%6d points: build ERROR: %v\n", n, err)
			return
		}
		for j := range candidates {
			candidates[j] = pointindex.Sentinel
		}
		if err := idx.Find(ctx, pointindex.FindRequest{Candidates: candidates}); err != nil {
			fmt.Printf("%6d points: find ERROR: %v\n", n, err)
			return
		}
	}
	indexTime := time.Since(start) / iterations

	naiveStart := time.Now()
	const naiveIterations = 3
	var naivePairs int
	diam2 := (2 * radius) * (2 * radius)
	for iter := 0; iter < naiveIterations; iter++ {
		naivePairs = 0
		for i := 0; i < n; i++ {
			xi, yi, zi := readFloat32(buf, i)
			for j := i + 1; j < n; j++ {
				xj, yj, zj := readFloat32(buf, j)
				dx, dy, dz := xi-xj, yi-yj, zi-zj
				if dx*dx+dy*dy+dz*dz < diam2 {
					naivePairs++
				}
			}
		}
	}
	naiveTime := time.Since(naiveStart) / naiveIterations

	speedup := float64(naiveTime) / float64(indexTime)
	fmt.Printf("%6d points: index %10v | naive O(n^2) %10v (%6d pairs) | %.1fx speedup\n",
		n, indexTime.Round(time.Microsecond), naiveTime.Round(time.Microsecond), naivePairs, speedup)
}

func putFloat32(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}

func readFloat32(buf []byte, i int) (x, y, z float32) {
	v := encoding.Packed3.ReadVec3(buf, i)
	return v.X, v.Y, v.Z
}
