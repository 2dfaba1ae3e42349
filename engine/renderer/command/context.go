package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/descriptor"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/linear"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/pipeline"
)

// Barriers are batched and flushed once this many are pending.
const MaxPendingBarriers = 16

const computeQueueStates = metadata.ResourceStateUnorderedAccess |
	metadata.ResourceStateNonPixelShaderResource |
	metadata.ResourceStateCopyDest |
	metadata.ResourceStateCopySource

// Context records the commands of one episode of work. A context is used
// by a single goroutine between ContextManager.Begin and Finish.
type Context struct {
	manager   *ContextManager
	queue     *Queue
	queueType metadata.QueueType
	name      string
	id        uuid.UUID

	list      metadata.CommandList
	allocator metadata.CommandAllocator

	cpuLinear *linear.Allocator
	gpuLinear *linear.Allocator

	resourceBinder *descriptor.Binder
	samplerBinder  *descriptor.Binder
	heaps          [metadata.DescriptorHeapTypeCount]metadata.DescriptorHeap

	barriers []metadata.ResourceBarrier
	pipeline *pipeline.State
	inPass   bool

	// usage states before the first unsubmitted transition, restored on Discard
	restore map[metadata.GPUResource]metadata.ResourceState
	// fence of the last Flush, zero when nothing was submitted this episode
	flushed metadata.FenceValue
}

func (c *Context) Name() string {
	return c.name
}

// DebugID identifies this recording episode in logs.
func (c *Context) DebugID() string {
	return c.id.String()
}

func (c *Context) Type() metadata.QueueType {
	return c.queueType
}

// CommandList exposes the native list for recording calls not wrapped here.
func (c *Context) CommandList() metadata.CommandList {
	return c.list
}

func (c *Context) CPULinear() *linear.Allocator {
	return c.cpuLinear
}

func (c *Context) GPULinear() *linear.Allocator {
	return c.gpuLinear
}

// TransitionResource queues a state change for resource. The barrier is
// recorded lazily unless flush is set or the batch is full.
func (c *Context) TransitionResource(resource metadata.GPUResource, state metadata.ResourceState, flush bool) {
	before := resource.UsageState()
	if c.queueType == metadata.QueueTypeCompute {
		core.Assert(before&computeQueueStates == before, "%s: %s is in a state the compute queue cannot leave", c.name, resource.Name())
		core.Assert(state&computeQueueStates == state, "%s: %s transitioned to a state the compute queue cannot use", c.name, resource.Name())
	}

	if before != state {
		core.Assert(len(c.barriers) < MaxPendingBarriers, "%s: too many pending barriers", c.name)
		c.barriers = append(c.barriers, metadata.ResourceBarrier{Resource: resource, Before: before, After: state})
		if _, ok := c.restore[resource]; !ok {
			c.restore[resource] = before
		}
		resource.SetUsageState(state)
	}

	if flush || len(c.barriers) == MaxPendingBarriers {
		c.FlushResourceBarriers()
	}
}

func (c *Context) FlushResourceBarriers() {
	if len(c.barriers) == 0 {
		return
	}
	c.list.ResourceBarrier(c.barriers)
	c.barriers = c.barriers[:0]
}

// SetDescriptorHeap points the command list at a shader-visible heap. The
// binders call it whenever they switch heaps.
func (c *Context) SetDescriptorHeap(heapType metadata.DescriptorHeapType, heap metadata.DescriptorHeap) {
	if c.heaps[heapType] == heap {
		return
	}
	c.heaps[heapType] = heap
	c.bindDescriptorHeaps()
}

func (c *Context) bindDescriptorHeaps() {
	heaps := make([]metadata.DescriptorHeap, 0, len(c.heaps))
	for _, h := range c.heaps {
		if h != nil {
			heaps = append(heaps, h)
		}
	}
	if len(heaps) > 0 {
		c.list.SetDescriptorHeaps(heaps)
	}
}

// SetPipelineState binds state and re-parses its layout in both binders.
// Staged descriptors survive only when the layout did not change.
func (c *Context) SetPipelineState(state *pipeline.State) {
	core.Assert(state != nil, "%s: nil pipeline state", c.name)
	if !state.IsCompute() {
		core.Assert(c.queueType == metadata.QueueTypeGraphics, "%s: graphics pipeline %s bound on the %s queue", c.name, state.Name(), c.queueType)
	}
	if c.pipeline == state {
		return
	}
	c.pipeline = state
	c.list.SetPipelineState(state.Native())
	if state.IsCompute() {
		c.resourceBinder.ParseComputeLayout(state.Layout())
		c.samplerBinder.ParseComputeLayout(state.Layout())
	} else {
		c.resourceBinder.ParseGraphicsLayout(state.Layout())
		c.samplerBinder.ParseGraphicsLayout(state.Layout())
	}
}

func (c *Context) binderFor(heapType metadata.DescriptorHeapType) *descriptor.Binder {
	core.Assert(heapType == metadata.DescriptorHeapTypeResource || heapType == metadata.DescriptorHeapTypeSampler, "%s heaps are never shader visible", heapType)
	if heapType == metadata.DescriptorHeapTypeSampler {
		return c.samplerBinder
	}
	return c.resourceBinder
}

func (c *Context) isCompute() bool {
	return c.pipeline != nil && c.pipeline.IsCompute()
}

// SetDynamicDescriptors stages resource descriptors for root table rootIndex
// of the bound pipeline.
func (c *Context) SetDynamicDescriptors(rootIndex, offset uint32, handles ...metadata.DescriptorHandle) {
	c.setDynamic(c.resourceBinder, rootIndex, offset, handles)
}

// SetDynamicSamplers stages sampler descriptors for root table rootIndex.
func (c *Context) SetDynamicSamplers(rootIndex, offset uint32, handles ...metadata.DescriptorHandle) {
	c.setDynamic(c.samplerBinder, rootIndex, offset, handles)
}

func (c *Context) setDynamic(b *descriptor.Binder, rootIndex, offset uint32, handles []metadata.DescriptorHandle) {
	if c.isCompute() {
		b.SetComputeDescriptorHandles(rootIndex, offset, handles...)
		return
	}
	b.SetGraphicsDescriptorHandles(rootIndex, offset, handles...)
}

// BindResource stages handle for a shader slot declared by the bound layout.
func (c *Context) BindResource(descriptorType metadata.DescriptorType, slot uint32, handle metadata.DescriptorHandle) {
	b := c.binderFor(descriptorType.HeapType())
	if c.isCompute() {
		b.BindComputeSlot(descriptorType, slot, handle)
		return
	}
	b.BindGraphicsSlot(descriptorType, slot, handle)
}

// SetDynamicConstantBufferView uploads data through the CPU linear allocator
// and binds it to root parameter rootIndex by address.
func (c *Context) SetDynamicConstantBufferView(rootIndex uint32, data []byte) error {
	alloc, err := c.cpuLinear.Allocate(uint64(len(data)), linear.DefaultAlignment)
	if err != nil {
		return err
	}
	copy(alloc.CPU, data)
	// the page stays retired until this context's fence completes
	defer alloc.Release()

	if c.isCompute() {
		c.list.SetComputeRootConstantBufferView(rootIndex, alloc.GPUAddress)
	} else {
		c.list.SetGraphicsRootConstantBufferView(rootIndex, alloc.GPUAddress)
	}
	return nil
}

// UploadDescriptor copies one descriptor into the current shader-visible
// heap and returns where it landed.
func (c *Context) UploadDescriptor(handle metadata.DescriptorHandle) (metadata.DescriptorHandle, error) {
	return c.binderFor(handle.Heap.Type()).UploadDirect(handle)
}

func (c *Context) commitGraphics() error {
	c.FlushResourceBarriers()
	if err := c.resourceBinder.CommitGraphicsRootDescriptorTables(c.list); err != nil {
		return err
	}
	return c.samplerBinder.CommitGraphicsRootDescriptorTables(c.list)
}

func (c *Context) commitCompute() error {
	c.FlushResourceBarriers()
	if err := c.resourceBinder.CommitComputeRootDescriptorTables(c.list); err != nil {
		return err
	}
	return c.samplerBinder.CommitComputeRootDescriptorTables(c.list)
}

func (c *Context) Draw(vertexCount, instanceCount, startVertex, startInstance uint32) error {
	core.Assert(c.queueType == metadata.QueueTypeGraphics, "%s: draw on the %s queue", c.name, c.queueType)
	if err := c.commitGraphics(); err != nil {
		return err
	}
	c.list.Draw(vertexCount, instanceCount, startVertex, startInstance)
	return nil
}

func (c *Context) DrawIndexed(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) error {
	core.Assert(c.queueType == metadata.QueueTypeGraphics, "%s: draw on the %s queue", c.name, c.queueType)
	if err := c.commitGraphics(); err != nil {
		return err
	}
	c.list.DrawIndexed(indexCount, instanceCount, startIndex, baseVertex, startInstance)
	return nil
}

func (c *Context) Dispatch(groupsX, groupsY, groupsZ uint32) error {
	core.Assert(c.queueType != metadata.QueueTypeCopy, "%s: dispatch on the copy queue", c.name)
	if err := c.commitCompute(); err != nil {
		return err
	}
	c.list.Dispatch(groupsX, groupsY, groupsZ)
	return nil
}

// BeginRenderPass transitions the attachments and opens a render pass.
func (c *Context) BeginRenderPass(colour []metadata.GPUResource, depth metadata.GPUResource) {
	core.Assert(c.queueType == metadata.QueueTypeGraphics, "%s: render pass on the %s queue", c.name, c.queueType)
	core.Assert(!c.inPass, "%s: render pass already open", c.name)
	for _, rt := range colour {
		c.TransitionResource(rt, metadata.ResourceStateRenderTarget, false)
	}
	if depth != nil {
		c.TransitionResource(depth, metadata.ResourceStateDepthWrite, false)
	}
	c.FlushResourceBarriers()
	c.list.BeginRenderPass(colour, depth)
	c.inPass = true
}

func (c *Context) EndRenderPass() {
	core.Assert(c.inPass, "%s: no render pass open", c.name)
	c.list.EndRenderPass()
	c.inPass = false
}

func (c *Context) CopyBuffer(dst, src metadata.Buffer) {
	core.Assert(dst.Size() >= src.Size(), "%s: copying %d bytes into %s of %d", c.name, src.Size(), dst.Name(), dst.Size())
	c.CopyBufferRegion(dst, 0, src, 0, src.Size())
}

func (c *Context) CopyBufferRegion(dst metadata.Buffer, dstOffset uint64, src metadata.Buffer, srcOffset, size uint64) {
	c.TransitionResource(dst, metadata.ResourceStateCopyDest, false)
	c.FlushResourceBarriers()
	c.list.CopyBufferRegion(dst, dstOffset, src, srcOffset, size)
}

// Flush submits what was recorded so far and keeps recording into the same
// context. Bound heaps and pipeline are re-applied to the reset list.
func (c *Context) Flush(ctx context.Context, wait bool) (metadata.FenceValue, error) {
	core.Assert(!c.inPass, "%s: flush inside a render pass", c.name)
	c.FlushResourceBarriers()

	fence, err := c.queue.Submit(c.list)
	if err != nil {
		return 0, err
	}
	c.flushed = fence
	clear(c.restore)
	if wait {
		if err := c.queue.WaitForFence(ctx, fence); err != nil {
			return fence, err
		}
	}

	if err := c.list.Reset(c.allocator); err != nil {
		return fence, fmt.Errorf("failed to reset %s command list: %w", c.queueType, err)
	}
	c.bindDescriptorHeaps()
	if c.pipeline != nil {
		c.list.SetPipelineState(c.pipeline.Native())
	}
	c.resourceBinder.InvalidateRootTables()
	c.samplerBinder.InvalidateRootTables()
	return fence, nil
}

// Finish submits the recorded work, retires every per-episode resource
// against the returned fence and hands the context back to its manager.
// The context must not be used afterwards.
func (c *Context) Finish(ctx context.Context, wait bool) (metadata.FenceValue, error) {
	core.Assert(!c.inPass, "%s: finish inside a render pass", c.name)
	c.FlushResourceBarriers()

	fence, err := c.queue.Submit(c.list)
	if err != nil {
		// no fence was signalled for this work, only for earlier flushes
		c.restoreUsageStates()
		c.retire(c.RetireFence())
		c.manager.free(c)
		return 0, err
	}
	clear(c.restore)
	c.retire(fence)
	core.LogDebug("context %s (%s) finished at %s", c.name, c.DebugID(), fence)

	if wait {
		err = c.queue.WaitForFence(ctx, fence)
	}
	c.manager.free(c)
	return fence, err
}

// Discard drops everything recorded since the last Flush. Resources keep
// the usage state the GPU last saw, and the per-episode resources are
// retired against RetireFence.
func (c *Context) Discard() {
	c.barriers = c.barriers[:0]
	c.inPass = false
	if err := c.list.Close(); err != nil {
		core.LogWarn("context %s: closing discarded list: %s", c.name, err)
	}
	c.restoreUsageStates()
	c.retire(c.RetireFence())
	c.manager.free(c)
}

// RetireFence is the fence unsubmitted work of this episode can be retired
// against: the last Flush, or the last completed value when nothing was
// flushed or the flush already completed.
func (c *Context) RetireFence() metadata.FenceValue {
	completed := c.queue.LastCompletedFenceValue()
	if c.flushed > completed {
		return c.flushed
	}
	return completed
}

func (c *Context) restoreUsageStates() {
	for resource, state := range c.restore {
		resource.SetUsageState(state)
	}
	clear(c.restore)
}

func (c *Context) retire(fence metadata.FenceValue) {
	c.queue.DiscardAllocator(fence, c.allocator)
	c.allocator = nil
	c.cpuLinear.CleanupUsedPages(fence)
	c.gpuLinear.CleanupUsedPages(fence)
	c.resourceBinder.CleanupUsedHeaps(fence)
	c.samplerBinder.CleanupUsedHeaps(fence)
}

// begin readies a pooled or new context for a fresh episode.
func (c *Context) begin(name string) error {
	allocator, err := c.queue.RequestAllocator()
	if err != nil {
		return err
	}
	if c.list == nil {
		list, err := c.manager.device.CreateCommandList(c.queueType, allocator)
		if err != nil {
			c.queue.DiscardAllocator(c.queue.LastCompletedFenceValue(), allocator)
			return fmt.Errorf("failed to create %s command list: %w", c.queueType, err)
		}
		c.list = list
	} else if err := c.list.Reset(allocator); err != nil {
		c.queue.DiscardAllocator(c.queue.LastCompletedFenceValue(), allocator)
		return fmt.Errorf("failed to reset %s command list: %w", c.queueType, err)
	}

	c.allocator = allocator
	c.name = name
	c.id = uuid.New()
	c.pipeline = nil
	c.inPass = false
	c.barriers = c.barriers[:0]
	c.heaps = [metadata.DescriptorHeapTypeCount]metadata.DescriptorHeap{}
	c.flushed = 0
	if c.restore == nil {
		c.restore = map[metadata.GPUResource]metadata.ResourceState{}
	}
	clear(c.restore)
	return nil
}
