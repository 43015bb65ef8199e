// Package encoding describes the caller-selectable element layouts the
// core reads positions and triangle indices from.
//
// Only three layouts are recognised (spec.md ties this down explicitly):
// tightly packed float32 triples, float32 triples padded to a 4-lane
// stride, and full float32x4 where the w lane is ignored. Kernels never
// dispatch on the tag per element — the host picks one monomorphised
// reader function for the whole call, matching the "monomorphisation,
// not indirection" design note.
package encoding

import (
	"encoding/binary"
	"math"
)

// Tag selects how a position or index buffer is laid out in memory.
type Tag int

const (
	// Packed3 reads three consecutive float32 values per element (12 bytes/element).
	Packed3 Tag = iota
	// Aligned3 reads three float32 values padded to a 4-float stride (16 bytes/element).
	Aligned3
	// Aligned4 reads a full float32x4 per element, ignoring the w lane (16 bytes/element).
	Aligned4
)

// Stride returns the byte stride between consecutive elements for tag.
func (t Tag) Stride() int {
	switch t {
	case Packed3:
		return 12
	case Aligned3, Aligned4:
		return 16
	default:
		return 0
	}
}

// Valid reports whether t is one of the recognised tags.
func (t Tag) Valid() bool {
	switch t {
	case Packed3, Aligned3, Aligned4:
		return true
	default:
		return false
	}
}

// Vec3 is a plain 3-component float position, the internal working type
// every reader produces regardless of source tag.
type Vec3 struct {
	X, Y, Z float32
}

// Count returns the number of elements encoded in buf under tag.
func (t Tag) Count(buf []byte) int {
	stride := t.Stride()
	if stride == 0 {
		return 0
	}
	return len(buf) / stride
}

// ReadVec3 reads the i-th element of buf encoded under tag.
func (t Tag) ReadVec3(buf []byte, i int) Vec3 {
	stride := t.Stride()
	off := i * stride
	x := math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
	y := math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4:]))
	z := math.Float32frombits(binary.LittleEndian.Uint32(buf[off+8:]))
	return Vec3{X: x, Y: y, Z: z}
}

// DecodeVec3s decodes every element of buf under tag into a fresh slice.
func (t Tag) DecodeVec3s(buf []byte) []Vec3 {
	n := t.Count(buf)
	out := make([]Vec3, n)
	for i := 0; i < n; i++ {
		out[i] = t.ReadVec3(buf, i)
	}
	return out
}

// IndexTag selects the layout of a triangle-index buffer (u32x3 per
// triangle), mirroring the same packed/aligned distinction as Tag.
type IndexTag int

const (
	// IndexPacked3 reads three consecutive uint32 values per triangle (12 bytes).
	IndexPacked3 IndexTag = iota
	// IndexAligned4 reads a uint32x4 per triangle, ignoring the 4th lane (16 bytes).
	IndexAligned4
)

// Stride returns the byte stride between consecutive triangles for tag.
func (t IndexTag) Stride() int {
	switch t {
	case IndexPacked3:
		return 12
	case IndexAligned4:
		return 16
	default:
		return 0
	}
}

// Valid reports whether t is one of the recognised index tags.
func (t IndexTag) Valid() bool {
	switch t {
	case IndexPacked3, IndexAligned4:
		return true
	default:
		return false
	}
}

// Triangle is a triple of vertex indices.
type Triangle struct {
	A, B, C uint32
}

// Count returns the number of triangles encoded in buf under tag.
func (t IndexTag) Count(buf []byte) int {
	stride := t.Stride()
	if stride == 0 {
		return 0
	}
	return len(buf) / stride
}

// ReadTriangle reads the i-th triangle of buf encoded under tag.
func (t IndexTag) ReadTriangle(buf []byte, i int) Triangle {
	stride := t.Stride()
	off := i * stride
	a := binary.LittleEndian.Uint32(buf[off:])
	b := binary.LittleEndian.Uint32(buf[off+4:])
	c := binary.LittleEndian.Uint32(buf[off+8:])
	return Triangle{A: a, B: b, C: c}
}
