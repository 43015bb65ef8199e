// Package workpool fans a kernel out across goroutines the way a GPU
// dispatch fans a kernel out across threadgroups: the element range
// [0, n) is chopped into chunks of width W (the configured threadgroup
// width) and each chunk runs on its own goroutine. The barrier between
// kernels in one build/find/reuse call becomes an errgroup.Wait, giving
// the same happens-before guarantee spec.md's command-stream ordering
// requires without a real GPU queue underneath.
package workpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultWidth is the threadgroup width used when a caller doesn't
// configure one explicitly; it mirrors the teacher's workgroup_size(256).
const DefaultWidth = 256

// Run invokes fn(lo, hi) once per chunk of width elements covering
// [0, n), fanning the chunks across goroutines and returning the first
// error any chunk produced. A ctx cancellation aborts remaining chunks
// before they start, the same way a caller "cancels" a GPU stream by
// not submitting it.
func Run(ctx context.Context, n, width int, fn func(ctx context.Context, lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if width <= 0 {
		width = DefaultWidth
	}

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += width {
		lo := lo
		hi := lo + width
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, lo, hi)
		})
	}
	return g.Wait()
}

// RunEach is a convenience over Run that invokes fn once per index in
// [0, n), still chunked across goroutines of the given width.
func RunEach(ctx context.Context, n, width int, fn func(ctx context.Context, i int) error) error {
	return Run(ctx, n, width, func(ctx context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	})
}
