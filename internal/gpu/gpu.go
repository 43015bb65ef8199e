// Package gpu is the "GPU runtime" collaborator spec.md describes:
// device/queue/buffer acquisition, compute-pipeline creation from WGSL
// source, 1D dispatch with a caller-chosen threadgroup width, and
// staging-buffer readback. It knows nothing about spatial hashing,
// bitonic sorting, or candidate lists — those live in internal/bhash,
// internal/bitonic, pointindex, and triangleindex, which depend only
// on the interfaces this package exposes (Runtime, Allocator, Buffer,
// Pipeline). The core is free to run entirely on the CPU worker-pool
// backend in internal/workpool instead; this package is only touched
// when a caller opts into GPU dispatch.
package gpu

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// Runtime owns one WebGPU device and its compiled-pipeline cache. One
// Runtime is shared by every index a process constructs; acquiring it
// is expensive, dispatching against it is not.
type Runtime struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	pipelines map[string]*Pipeline
	mu        sync.RWMutex
}

// Pipeline is a compiled compute shader ready to dispatch.
type Pipeline struct {
	shader   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline
	layout   *wgpu.BindGroupLayout
}

// AdapterInfo reports which physical GPU a Runtime bound to.
type AdapterInfo struct {
	Name       string
	Vendor     string
	Backend    string
	DeviceType string
	Driver     string
}

// New acquires an instance, adapter, and device, preferring a
// high-performance discrete GPU when the platform offers a choice.
func New() (*Runtime, error) {
	instance := wgpu.CreateInstance(nil)

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("gpu: request adapter: %w", err)
	}

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("gpu: request device: %w", err)
	}

	return &Runtime{
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     device.GetQueue(),
		pipelines: make(map[string]*Pipeline),
	}, nil
}

// Info reports the bound adapter's identity.
func (r *Runtime) Info() AdapterInfo {
	info := r.adapter.GetInfo()
	return AdapterInfo{
		Name:       info.Name,
		Vendor:     info.VendorName,
		Backend:    info.BackendType.String(),
		DeviceType: info.AdapterType.String(),
		Driver:     info.DriverDescription,
	}
}

// Pipeline compiles a WGSL compute shader and caches it by name; a
// second call with the same name returns the cached pipeline.
func (r *Runtime) Pipeline(name, wgslCode, entryPoint string) (*Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pipelines[name]; ok {
		return p, nil
	}

	shaderModule, err := r.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: wgslCode},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create shader module %q: %w", name, err)
	}

	pipeline, err := r.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: name,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     shaderModule,
			EntryPoint: entryPoint,
		},
	})
	if err != nil {
		shaderModule.Release()
		return nil, fmt.Errorf("gpu: create compute pipeline %q: %w", name, err)
	}

	p := &Pipeline{
		shader:   shaderModule,
		pipeline: pipeline,
		layout:   pipeline.GetBindGroupLayout(0),
	}
	r.pipelines[name] = p
	return p, nil
}

// WriteBuffer uploads data into buf at offset.
func (r *Runtime) WriteBuffer(buf *Buffer, offset uint64, data []byte) {
	r.queue.WriteBuffer(buf.raw, buf.offset+offset, data)
}

// DispatchParams describes one compute-pass invocation. Buffers bind
// in @binding order starting at 0; Uniform, if non-nil, binds as the
// final entry as a uniform buffer (the pattern the bitonic sort
// kernels' stage parameters need).
type DispatchParams struct {
	Pipeline    *Pipeline
	Buffers     []*Buffer
	Uniform     []byte
	WorkgroupsX uint32
	WorkgroupsY uint32
	WorkgroupsZ uint32
}

// Dispatch encodes and submits one compute pass. It returns once the
// pass is enqueued on the device's single queue; ordering against
// prior and subsequent dispatches on the same Runtime is exactly the
// enqueue order, giving the happens-before edge spec.md's concurrency
// model requires without an explicit barrier call.
func (r *Runtime) Dispatch(p DispatchParams) error {
	if p.WorkgroupsY == 0 {
		p.WorkgroupsY = 1
	}
	if p.WorkgroupsZ == 0 {
		p.WorkgroupsZ = 1
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(p.Buffers)+1)
	for i, buf := range p.Buffers {
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  buf.raw,
			Offset:  buf.offset,
			Size:    buf.size,
		})
	}

	var uniform *Buffer
	if p.Uniform != nil {
		var err error
		uniform, err = r.newBufferWithData("dispatch_uniform", p.Uniform, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
		if err != nil {
			return fmt.Errorf("gpu: uniform buffer: %w", err)
		}
		defer uniform.Release()
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: uint32(len(p.Buffers)),
			Buffer:  uniform.raw,
			Offset:  uniform.offset,
			Size:    uniform.size,
		})
	}

	bindGroup, err := r.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "compute_bind_group",
		Layout:  p.Pipeline.layout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpu: create bind group: %w", err)
	}
	defer bindGroup.Release()

	encoder, err := r.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("gpu: create command encoder: %w", err)
	}

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(p.Pipeline.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(p.WorkgroupsX, p.WorkgroupsY, p.WorkgroupsZ)
	pass.End()
	pass.Release()

	commands, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("gpu: finish command encoder: %w", err)
	}
	defer commands.Release()

	r.queue.Submit(commands)
	return nil
}

// Await blocks until every previously submitted dispatch on this
// Runtime has completed. The index packages' Find and Reuse run on the
// CPU worker pool and do not call it.
func (r *Runtime) Await() {
	r.device.Poll(true, nil)
}

// ReadBuffer copies a device buffer back to host memory via a staging
// buffer. buf must have been created with BufferUsageCopySrc.
func (r *Runtime) ReadBuffer(buf *Buffer) ([]byte, error) {
	staging, err := r.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "staging_read",
		Size:  buf.size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create staging buffer: %w", err)
	}
	defer staging.Release()

	encoder, err := r.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("gpu: create command encoder: %w", err)
	}
	encoder.CopyBufferToBuffer(buf.raw, buf.offset, staging, 0, buf.size)
	commands, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("gpu: finish encoder: %w", err)
	}
	r.queue.Submit(commands)
	commands.Release()

	done := make(chan error, 1)
	err = staging.MapAsync(wgpu.MapModeRead, 0, buf.size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			done <- fmt.Errorf("gpu: map buffer: %v", status)
			return
		}
		done <- nil
	})
	if err != nil {
		return nil, err
	}

	r.device.Poll(true, nil)
	if err := <-done; err != nil {
		return nil, err
	}

	mapped := staging.GetMappedRange(0, uint(buf.size))
	result := make([]byte, len(mapped))
	copy(result, mapped)
	staging.Unmap()

	return result, nil
}

func (r *Runtime) newBufferWithData(label string, data []byte, usage wgpu.BufferUsage) (*Buffer, error) {
	buf, err := r.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: data,
		Usage:    usage,
	})
	if err != nil {
		return nil, err
	}
	return &Buffer{raw: buf, size: uint64(len(data)), usage: usage}, nil
}

// Release frees every cached pipeline and the device/adapter/instance.
func (r *Runtime) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.pipelines {
		p.layout.Release()
		p.pipeline.Release()
		p.shader.Release()
	}
	r.pipelines = nil

	r.queue.Release()
	r.device.Release()
	r.adapter.Release()
	r.instance.Release()
}

// ToBytes reinterprets a typed slice as its raw byte representation
// for upload via WriteBuffer.
func ToBytes[T any](data []T) []byte {
	return wgpu.ToBytes(data)
}

// FromBytes reinterprets a raw byte buffer read back via ReadBuffer as
// a typed slice.
func FromBytes[T any](data []byte) []T {
	return wgpu.FromBytes[T](data)
}
