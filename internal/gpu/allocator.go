package gpu

import (
	"errors"

	"github.com/cogentcore/webgpu/wgpu"
)

var errHeapExhausted = errors.New("gpu: heap allocator exhausted")

// Buffer is a plain record over a device buffer: the raw handle, its
// byte offset and size within that handle, and its usage flags. This
// replaces the source's capability-polymorphic typed-buffer wrapper
// (spec.md 9): no dynamic dispatch, just a struct callers pass to
// Dispatch and WriteBuffer.
type Buffer struct {
	raw    *wgpu.Buffer
	offset uint64
	size   uint64
	usage  wgpu.BufferUsage
}

// Size returns the buffer's length in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Release frees the buffer's GPU memory. A Buffer obtained from a
// HeapAllocator holds the heap's shared backing buffer, so Release on
// it frees the whole heap allocation, siblings included.
func (b *Buffer) Release() {
	if b.raw != nil {
		b.raw.Release()
	}
}

// AllocFlags selects a buffer's usage: whether the CPU writes into it,
// reads back from it, or the GPU only touches it as scratch storage.
type AllocFlags struct {
	Storage   bool
	Uniform   bool
	CopySrc   bool
	CopyDst   bool
	MapRead   bool
	MapWrite  bool
}

func (f AllocFlags) usage() wgpu.BufferUsage {
	var u wgpu.BufferUsage
	if f.Storage {
		u |= wgpu.BufferUsageStorage
	}
	if f.Uniform {
		u |= wgpu.BufferUsageUniform
	}
	if f.CopySrc {
		u |= wgpu.BufferUsageCopySrc
	}
	if f.CopyDst {
		u |= wgpu.BufferUsageCopyDst
	}
	if f.MapRead {
		u |= wgpu.BufferUsageMapRead
	}
	if f.MapWrite {
		u |= wgpu.BufferUsageMapWrite
	}
	return u
}

// Allocator is the interface every buffer-owning component in this
// module depends on (spec.md 9: "make this an interface ... the core
// depends only on the interface"). Two implementations are provided:
// DeviceAllocator, which asks the device for a fresh buffer per call,
// and HeapAllocator, which bump-allocates sub-ranges of one pre-sized
// backing buffer. Neither choice changes index build/find/reuse
// behaviour — only where the bytes physically live.
type Allocator interface {
	// Alloc reserves len bytes with the given usage flags and returns
	// a Buffer view over them.
	Alloc(len int, flags AllocFlags) (*Buffer, error)
}

// DeviceAllocator allocates a fresh device buffer on every call.
type DeviceAllocator struct {
	runtime *Runtime
}

// NewDeviceAllocator wraps runtime as an Allocator that asks the
// device for a new buffer per Alloc call.
func NewDeviceAllocator(runtime *Runtime) *DeviceAllocator {
	return &DeviceAllocator{runtime: runtime}
}

func (a *DeviceAllocator) Alloc(length int, flags AllocFlags) (*Buffer, error) {
	buf, err := a.runtime.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "simtools_buffer",
		Size:  uint64(length),
		Usage: flags.usage(),
	})
	if err != nil {
		return nil, err
	}
	return &Buffer{raw: buf, size: uint64(length), usage: flags.usage()}, nil
}

// HeapAllocator bump-allocates sub-ranges of one pre-sized backing
// buffer, for callers who want to pre-size a single region up front
// (spec.md's sizeof_buffers helpers exist precisely to compute this
// size) rather than issue one device allocation per internal buffer.
type HeapAllocator struct {
	backing *wgpu.Buffer
	cap     uint64
	next    uint64
}

// NewHeapAllocator creates one backing buffer of size bytes covering
// every usage flag the caller intends to sub-allocate for.
func NewHeapAllocator(runtime *Runtime, size uint64, flags AllocFlags) (*HeapAllocator, error) {
	buf, err := runtime.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "simtools_heap",
		Size:  size,
		Usage: flags.usage(),
	})
	if err != nil {
		return nil, err
	}
	return &HeapAllocator{backing: buf, cap: size}, nil
}

// Alloc reserves the next length bytes of the heap, 16-byte aligned to
// satisfy every WebGPU storage-buffer binding's alignment requirement.
func (h *HeapAllocator) Alloc(length int, _ AllocFlags) (*Buffer, error) {
	const align = 16
	offset := (h.next + align - 1) &^ (align - 1)
	end := offset + uint64(length)
	if end > h.cap {
		return nil, errHeapExhausted
	}
	h.next = end
	return &Buffer{raw: h.backing, offset: offset, size: uint64(length)}, nil
}

// Release frees the entire backing allocation. Individual Buffers
// returned by Alloc must not be released independently.
func (h *HeapAllocator) Release() {
	h.backing.Release()
}
