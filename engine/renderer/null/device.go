// Package null implements metadata.Device entirely on the CPU. Command
// lists only record what they are asked to do and fences complete on
// Signal, or when a test says so.
package null

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const gpuAddressAlignment = 0x10000

type Option func(*Device)

// WithManualFences keeps signalled values pending until Queue.Complete or
// Queue.CompleteAll is called.
func WithManualFences() Option {
	return func(d *Device) {
		d.manualFences = true
	}
}

// WithBufferFailure makes every buffer creation fail with err.
func WithBufferFailure(err error) Option {
	return func(d *Device) {
		d.bufferErr = err
	}
}

type Device struct {
	manualFences bool
	bufferErr    error
	nextAddress  atomic.Uint64

	mu        sync.Mutex
	queues    [metadata.QueueTypeCount]*Queue
	copies    [][]metadata.DescriptorCopyRange
	created   map[string]int
	destroyed map[string]int
}

func NewDevice(opts ...Option) *Device {
	d := &Device{
		created:   map[string]int{},
		destroyed: map[string]int{},
	}
	d.nextAddress.Store(gpuAddressAlignment)
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Device) Name() string {
	return "null"
}

func (d *Device) count(kind string) {
	d.mu.Lock()
	d.created[kind]++
	d.mu.Unlock()
}

func (d *Device) release(kind string) {
	d.mu.Lock()
	d.destroyed[kind]++
	d.mu.Unlock()
}

// Created reports how many objects of kind ("heap", "buffer", "texture",
// "render-target", "depth-target", "pipeline", "allocator", "list") were
// created.
func (d *Device) Created(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind]
}

func (d *Device) Destroyed(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed[kind]
}

// CopyCalls returns the ranges of every CopyDescriptors call so far.
func (d *Device) CopyCalls() [][]metadata.DescriptorCopyRange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]metadata.DescriptorCopyRange(nil), d.copies...)
}

func (d *Device) ResetCopyCalls() {
	d.mu.Lock()
	d.copies = nil
	d.mu.Unlock()
}

func (d *Device) CreateDescriptorHeap(heapType metadata.DescriptorHeapType, numDescriptors uint32, shaderVisible bool) (metadata.DescriptorHeap, error) {
	if numDescriptors == 0 {
		return nil, fmt.Errorf("descriptor heap of zero descriptors")
	}
	d.count("heap")
	return &DescriptorHeap{
		device:        d,
		heapType:      heapType,
		shaderVisible: shaderVisible,
		views:         make([]metadata.DescriptorView, numDescriptors),
	}, nil
}

func (d *Device) WriteDescriptor(dst metadata.DescriptorHandle, view metadata.DescriptorView) {
	heap := dst.Heap.(*DescriptorHeap)
	heap.views[dst.Index] = view
}

func (d *Device) CopyDescriptors(dst metadata.DescriptorHandle, src []metadata.DescriptorCopyRange) {
	d.mu.Lock()
	d.copies = append(d.copies, append([]metadata.DescriptorCopyRange(nil), src...))
	d.mu.Unlock()

	out := dst.Heap.(*DescriptorHeap)
	at := dst.Index
	for _, r := range src {
		in := r.Src.Heap.(*DescriptorHeap)
		copy(out.views[at:at+r.Count], in.views[r.Src.Index:r.Src.Index+r.Count])
		at += r.Count
	}
}

func (d *Device) CreateBuffer(name string, size uint64, kind metadata.MemoryKind) (metadata.Buffer, error) {
	if d.bufferErr != nil {
		return nil, d.bufferErr
	}
	d.count("buffer")
	b := &Buffer{
		resource: resource{device: d, kind: "buffer", name: name},
		size:     size,
		address:  d.nextAddress.Add(math.AlignUp(size, gpuAddressAlignment)) - math.AlignUp(size, gpuAddressAlignment),
	}
	if kind == metadata.MemoryKindCPUWritable {
		b.mapped = make([]byte, size)
	}
	return b, nil
}

func (d *Device) CreateTexture(name string, desc metadata.TextureDesc) (metadata.GPUResource, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("texture %s has a zero extent", name)
	}
	d.count("texture")
	return &Texture{resource: resource{device: d, kind: "texture", name: name}, Desc: desc}, nil
}

func (d *Device) CreateRenderTarget(name string, desc metadata.RenderTargetDesc) (metadata.GPUResource, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("render target %s has a zero extent", name)
	}
	d.count("render-target")
	return &RenderTarget{resource: resource{device: d, kind: "render-target", name: name}, Desc: desc}, nil
}

func (d *Device) CreateDepthTarget(name string, desc metadata.DepthTargetDesc) (metadata.GPUResource, error) {
	if !desc.Format.IsDepth() {
		return nil, fmt.Errorf("depth target %s needs a depth format", name)
	}
	d.count("depth-target")
	return &DepthTarget{resource: resource{device: d, kind: "depth-target", name: name}, Desc: desc}, nil
}

func (d *Device) CreatePipelineState(desc *metadata.PipelineStateDesc) (metadata.PipelineState, error) {
	d.count("pipeline")
	return &PipelineState{device: d, desc: *desc}, nil
}

func (d *Device) CreateCommandQueue(queueType metadata.QueueType) (metadata.HardwareQueue, error) {
	if queueType >= metadata.QueueTypeCount {
		return nil, fmt.Errorf("no %s queue on the null device", queueType)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	q := newQueue(queueType, d.manualFences)
	d.queues[queueType] = q
	return q, nil
}

// Queue returns the hardware queue created for queueType, nil before it
// was created.
func (d *Device) Queue(queueType metadata.QueueType) *Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queues[queueType]
}

func (d *Device) CreateCommandAllocator(queueType metadata.QueueType) (metadata.CommandAllocator, error) {
	d.count("allocator")
	return &CommandAllocator{device: d, queueType: queueType}, nil
}

func (d *Device) CreateCommandList(queueType metadata.QueueType, allocator metadata.CommandAllocator) (metadata.CommandList, error) {
	d.count("list")
	return &CommandList{device: d, queueType: queueType, allocator: allocator}, nil
}

func (d *Device) Destroy() {}

type DescriptorHeap struct {
	device        *Device
	heapType      metadata.DescriptorHeapType
	shaderVisible bool
	views         []metadata.DescriptorView
	destroyed     bool
}

func (h *DescriptorHeap) Type() metadata.DescriptorHeapType { return h.heapType }
func (h *DescriptorHeap) NumDescriptors() uint32            { return uint32(len(h.views)) }
func (h *DescriptorHeap) ShaderVisible() bool               { return h.shaderVisible }

// View returns what was written or copied into slot i.
func (h *DescriptorHeap) View(i uint32) metadata.DescriptorView {
	return h.views[i]
}

func (h *DescriptorHeap) Destroy() {
	if !h.destroyed {
		h.destroyed = true
		h.device.release("heap")
	}
}

type resource struct {
	metadata.StateTracker
	device    *Device
	kind      string
	name      string
	destroyed bool
}

func (r *resource) Name() string { return r.name }

func (r *resource) IsDestroyed() bool { return r.destroyed }

func (r *resource) Destroy() {
	if !r.destroyed {
		r.destroyed = true
		r.device.release(r.kind)
	}
}

type Buffer struct {
	resource
	size    uint64
	address uint64
	mapped  []byte
}

func (b *Buffer) Size() uint64       { return b.size }
func (b *Buffer) GPUAddress() uint64 { return b.address }
func (b *Buffer) Mapped() []byte     { return b.mapped }

type Texture struct {
	resource
	Desc metadata.TextureDesc
}

type RenderTarget struct {
	resource
	Desc metadata.RenderTargetDesc
}

type DepthTarget struct {
	resource
	Desc metadata.DepthTargetDesc
}

type PipelineState struct {
	device *Device
	desc   metadata.PipelineStateDesc
}

func (p *PipelineState) Name() string                     { return p.desc.Name }
func (p *PipelineState) Desc() metadata.PipelineStateDesc { return p.desc }
func (p *PipelineState) Destroy()                         { p.device.release("pipeline") }
