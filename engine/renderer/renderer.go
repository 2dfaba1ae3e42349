package renderer

import (
	"context"
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/command"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/descriptor"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/linear"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type deferredRelease struct {
	fence    metadata.FenceValue
	resource metadata.GPUResource
}

// Renderer owns the queues, the allocator pools and the deferred release
// queue of one device. Everything it hands out is gated by fences of its
// own queues.
type Renderer struct {
	config  *core.RendererConfig
	device  metadata.Device
	metrics *core.FrameMetrics
	clock   *core.Clock

	queues        *command.QueueManager
	descriptors   [metadata.DescriptorHeapTypeCount]*descriptor.Allocator
	resourceHeaps *descriptor.HeapPool
	samplerHeaps  *descriptor.HeapPool
	cpuPages      *linear.PageManager
	gpuPages      *linear.PageManager
	contexts      *command.ContextManager

	mu       sync.Mutex
	deferred []deferredRelease

	frameNumber uint64
	frameFence  metadata.FenceValue
}

func New(cfg *core.RendererConfig, device metadata.Device) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics := core.NewFrameMetrics()

	queues, err := command.NewQueueManager(device, metrics)
	if err != nil {
		return nil, err
	}

	r := &Renderer{
		config:        cfg,
		device:        device,
		metrics:       metrics,
		clock:         core.NewClock(),
		queues:        queues,
		resourceHeaps: descriptor.NewHeapPool(device, metadata.DescriptorHeapTypeResource, cfg.Descriptors.ShaderVisibleHeapSize, metrics),
		samplerHeaps:  descriptor.NewHeapPool(device, metadata.DescriptorHeapTypeSampler, cfg.Descriptors.SamplerHeapSize, metrics),
		cpuPages:      linear.NewPageManager(device, metadata.MemoryKindCPUWritable, cfg.Linear.CPUPageSize, metrics),
		gpuPages:      linear.NewPageManager(device, metadata.MemoryKindGPUExclusive, cfg.Linear.GPUPageSize, metrics),
	}
	for t := metadata.DescriptorHeapType(0); t < metadata.DescriptorHeapTypeCount; t++ {
		r.descriptors[t] = descriptor.NewAllocator(device, t, cfg.Descriptors.PageSize)
	}
	r.contexts = command.NewContextManager(command.ContextManagerConfig{
		Device:        device,
		Queues:        queues,
		CPUPages:      r.cpuPages,
		GPUPages:      r.gpuPages,
		ResourceHeaps: r.resourceHeaps,
		SamplerHeaps:  r.samplerHeaps,
	})
	r.clock.Start()

	core.LogInfo("renderer initialized on the %s device", device.Name())
	return r, nil
}

func (r *Renderer) Config() *core.RendererConfig      { return r.config }
func (r *Renderer) Device() metadata.Device           { return r.device }
func (r *Renderer) Metrics() *core.FrameMetrics       { return r.metrics }
func (r *Renderer) Queues() *command.QueueManager     { return r.queues }
func (r *Renderer) Contexts() *command.ContextManager { return r.contexts }
func (r *Renderer) CPUPages() *linear.PageManager     { return r.cpuPages }
func (r *Renderer) GPUPages() *linear.PageManager     { return r.gpuPages }
func (r *Renderer) FrameNumber() uint64               { return r.frameNumber }

// Descriptors returns the CPU-visible descriptor allocator of heapType.
func (r *Renderer) Descriptors(heapType metadata.DescriptorHeapType) *descriptor.Allocator {
	core.Assert(heapType < metadata.DescriptorHeapTypeCount, "unknown descriptor heap type %d", heapType)
	return r.descriptors[heapType]
}

// CreateView allocates one CPU-visible descriptor and writes view into it.
func (r *Renderer) CreateView(view metadata.DescriptorView) (*descriptor.Allocation, error) {
	alloc, err := r.Descriptors(view.Type.HeapType()).Allocate(1)
	if err != nil {
		return nil, err
	}
	r.device.WriteDescriptor(alloc.Handle(0), view)
	return alloc, nil
}

func (r *Renderer) CreateTexture(name string, desc metadata.TextureDesc) (metadata.GPUResource, error) {
	return r.device.CreateTexture(name, desc)
}

func (r *Renderer) CreateRenderTarget(name string, desc metadata.RenderTargetDesc) (metadata.GPUResource, error) {
	return r.device.CreateRenderTarget(name, desc)
}

func (r *Renderer) CreateDepthTarget(name string, desc metadata.DepthTargetDesc) (metadata.GPUResource, error) {
	return r.device.CreateDepthTarget(name, desc)
}

// CreateBuffer creates a standalone buffer, optionally filled with data
// through the copy queue.
func (r *Renderer) CreateBuffer(ctx context.Context, name string, size uint64, data []byte) (metadata.Buffer, error) {
	buffer, err := r.device.CreateBuffer(name, size, metadata.MemoryKindGPUExclusive)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer %s: %w", name, err)
	}
	if len(data) > 0 {
		if err := r.contexts.InitializeBuffer(ctx, buffer, 0, data); err != nil {
			buffer.Destroy()
			return nil, err
		}
	}
	return buffer, nil
}

// RetireResource destroys resource once fence completes.
func (r *Renderer) RetireResource(fence metadata.FenceValue, resource metadata.GPUResource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deferred = append(r.deferred, deferredRelease{fence: fence, resource: resource})
}

// ProcessDeferredReleases destroys every retired resource whose fence
// completed and reclaims released descriptors. It returns the number of
// resources destroyed.
func (r *Renderer) ProcessDeferredReleases() int {
	r.mu.Lock()
	destroyed := 0
	kept := r.deferred[:0]
	for _, d := range r.deferred {
		if r.queues.IsFenceComplete(d.fence) {
			d.resource.Destroy()
			destroyed++
			continue
		}
		kept = append(kept, d)
	}
	r.deferred = kept
	r.mu.Unlock()

	for _, a := range r.descriptors {
		a.ReleaseStaleDescriptors(r.queues.IsFenceComplete)
	}
	r.metrics.RetiredAssets.Add(uint64(destroyed))
	return destroyed
}

// PendingReleases is the number of resources waiting on their fence.
func (r *Renderer) PendingReleases() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deferred)
}

// NewGraph starts a render graph whose transient resources come from and
// return to this renderer.
func (r *Renderer) NewGraph() *graph.Graph {
	return graph.New(r)
}

func (r *Renderer) BeginFrame() {
	r.clock.Update()
	r.ProcessDeferredReleases()
}

// EndFrame records the fence of the frame's last submission and updates the
// frame statistics.
func (r *Renderer) EndFrame(fence metadata.FenceValue) {
	r.frameFence = fence
	r.frameNumber++
	r.metrics.Update(r.clock.Delta().Seconds())
}

// RenderFrame builds, executes and retires one graph on the graphics queue.
func (r *Renderer) RenderFrame(ctx context.Context, build func(g *graph.Graph) error) (metadata.FenceValue, error) {
	r.BeginFrame()

	g := r.NewGraph()
	defer g.Close()
	if err := build(g); err != nil {
		return 0, err
	}
	g.Compile()

	cmd, err := r.contexts.Begin(metadata.QueueTypeGraphics, fmt.Sprintf("frame %d", r.frameNumber))
	if err != nil {
		return 0, err
	}
	if err := g.Execute(cmd); err != nil {
		// passes may have flushed part of the frame already
		pending := cmd.RetireFence()
		cmd.Discard()
		g.Retire(pending)
		return 0, err
	}
	pending := cmd.RetireFence()
	fence, err := cmd.Finish(ctx, false)
	if err != nil {
		g.Retire(pending)
		return 0, err
	}
	g.Retire(fence)
	r.EndFrame(fence)
	return fence, nil
}

// WaitForFrame blocks until the last frame's work completed.
func (r *Renderer) WaitForFrame(ctx context.Context) error {
	if r.frameFence == 0 {
		return nil
	}
	return r.queues.WaitForFence(ctx, r.frameFence)
}

// Shutdown drains the GPU and destroys everything the renderer owns.
func (r *Renderer) Shutdown(ctx context.Context) error {
	if err := r.queues.IdleGPU(ctx); err != nil {
		return err
	}
	r.ProcessDeferredReleases()
	core.Assert(r.PendingReleases() == 0, "%d retired resources survived an idle GPU", r.PendingReleases())

	r.contexts.DestroyAll()
	r.cpuPages.Destroy()
	r.gpuPages.Destroy()
	r.resourceHeaps.Destroy()
	r.samplerHeaps.Destroy()
	for _, a := range r.descriptors {
		a.Destroy()
	}
	r.queues.Destroy()
	r.device.Destroy()
	r.clock.Stop()
	core.LogInfo("renderer shut down after %d frames", r.frameNumber)
	return nil
}
