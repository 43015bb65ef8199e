// Package simtools is the root of the GPU-accelerated broad-phase
// collision-detection core: spatial-hash index construction, the
// bitonic sort underlying it, and the candidate-search / reuse passes
// that maintain per-query top-K proximity lists. See pointindex and
// triangleindex for the two index types callers actually build against.
package simtools

import (
	"errors"
	"fmt"
)

// Sentinel errors covering the simple error kinds from spec.md 7.
var (
	// ErrCapacityExceeded is returned when a build or find call is
	// given a buffer longer than the configured max (n_max or m_max).
	// Fatal for the call; recoverable by rebuilding with a larger capacity.
	ErrCapacityExceeded = errors.New("simtools: buffer exceeds configured capacity")

	// ErrEncodingUnsupported is returned when an element-encoding tag
	// isn't one of the recognised variants.
	ErrEncodingUnsupported = errors.New("simtools: unsupported element encoding")

	// ErrAllocationFailed is returned when the backing allocator
	// (device or heap) refused a buffer request.
	ErrAllocationFailed = errors.New("simtools: allocation failed")

	// ErrPipelineCreationFailed is returned when the GPU kernel
	// library refused to produce a compute pipeline.
	ErrPipelineCreationFailed = errors.New("simtools: pipeline creation failed")
)

// ErrBufferShapeMismatch is returned when a candidate buffer's length
// isn't an integer multiple of the query count, a connected-vertices
// row isn't a multiple of the query count, or a bucket size doesn't
// divide a hash-table length.
type ErrBufferShapeMismatch struct {
	Buffer  string
	Length  int
	Divisor int
}

func (e *ErrBufferShapeMismatch) Error() string {
	return fmt.Sprintf("simtools: %s length %d is not a multiple of %d", e.Buffer, e.Length, e.Divisor)
}

// ShapeCheck returns an *ErrBufferShapeMismatch if divisor isn't
// positive or length isn't a multiple of divisor (zero included), nil
// otherwise.
func ShapeCheck(buffer string, length, divisor int) error {
	if divisor <= 0 || length%divisor != 0 {
		return &ErrBufferShapeMismatch{Buffer: buffer, Length: length, Divisor: divisor}
	}
	return nil
}

// CapacityCheck returns ErrCapacityExceeded wrapped with context if n
// exceeds max.
func CapacityCheck(what string, n, max int) error {
	if n > max {
		return fmt.Errorf("%w: %s has %d elements, configured max is %d", ErrCapacityExceeded, what, n, max)
	}
	return nil
}
