package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// CommandAllocator owns a command pool. Buffers handed out since the last
// Reset are recycled by the next one, together with the render passes and
// framebuffers recorded into them.
type CommandAllocator struct {
	device    *Device
	queueType metadata.QueueType
	pool      vk.CommandPool
	buffers   []vk.CommandBuffer
	next      int
	garbage   []func()
}

func (d *Device) CreateCommandAllocator(queueType metadata.QueueType) (metadata.CommandAllocator, error) {
	ctx := d.context
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: ctx.Device.QueueFamilyIndices[queueType],
	}
	var pool vk.CommandPool
	if err := ctx.locks.SafeCall(CommandPoolManagement, func() error {
		return vulkanError("vkCreateCommandPool", vk.CreateCommandPool(ctx.Device.LogicalDevice, &poolCreateInfo, ctx.Allocator, &pool))
	}); err != nil {
		return nil, err
	}
	return &CommandAllocator{device: d, queueType: queueType, pool: pool}, nil
}

func (a *CommandAllocator) acquire() (vk.CommandBuffer, error) {
	if a.next < len(a.buffers) {
		cb := a.buffers[a.next]
		a.next++
		return cb, nil
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        a.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(a.device.context.Device.LogicalDevice, &allocateInfo, buffers); res != vk.Success {
		return nil, vulkanError("vkAllocateCommandBuffers", res)
	}
	a.buffers = append(a.buffers, buffers[0])
	a.next++
	return buffers[0], nil
}

// releaseOnReset runs fn once the GPU no longer uses what was recorded.
func (a *CommandAllocator) releaseOnReset(fn func()) {
	a.garbage = append(a.garbage, fn)
}

func (a *CommandAllocator) collect() {
	for _, fn := range a.garbage {
		fn()
	}
	a.garbage = a.garbage[:0]
}

func (a *CommandAllocator) Reset() error {
	if res := vk.ResetCommandPool(a.device.context.Device.LogicalDevice, a.pool, 0); res != vk.Success {
		return vulkanError("vkResetCommandPool", res)
	}
	a.next = 0
	a.collect()
	return nil
}

func (a *CommandAllocator) Destroy() {
	a.collect()
	if a.pool != nil {
		ctx := a.device.context
		_ = ctx.locks.SafeCall(CommandPoolManagement, func() error {
			vk.DestroyCommandPool(ctx.Device.LogicalDevice, a.pool, ctx.Allocator)
			return nil
		})
		a.pool = nil
		a.buffers = nil
	}
}

// CommandList records into a primary command buffer taken from its
// allocator. Descriptor tables and constant buffer roots are tracked on the
// host.
type CommandList struct {
	device    *Device
	queueType metadata.QueueType
	allocator *CommandAllocator

	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	heaps          []metadata.DescriptorHeap
	pipeline       *PipelineState
	renderpass     *VulkanRenderpass
	graphicsTables map[uint32]metadata.DescriptorHandle
	computeTables  map[uint32]metadata.DescriptorHandle
	graphicsCBVs   map[uint32]uint64
	computeCBVs    map[uint32]uint64
}

func (d *Device) CreateCommandList(queueType metadata.QueueType, allocator metadata.CommandAllocator) (metadata.CommandList, error) {
	l := &CommandList{
		device:    d,
		queueType: queueType,
		State:     COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}
	if err := l.Reset(allocator); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *CommandList) Type() metadata.QueueType {
	return l.queueType
}

func (l *CommandList) Begin() error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(l.Handle, beginInfo); res != vk.Success {
		return vulkanError("vkBeginCommandBuffer", res)
	}
	l.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (l *CommandList) Close() error {
	switch l.State {
	case COMMAND_BUFFER_STATE_RECORDING:
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return fmt.Errorf("command list closed inside a render pass")
	default:
		return fmt.Errorf("command list is not recording")
	}
	if res := vk.EndCommandBuffer(l.Handle); res != vk.Success {
		return vulkanError("vkEndCommandBuffer", res)
	}
	l.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (l *CommandList) UpdateSubmitted() {
	l.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (l *CommandList) Reset(allocator metadata.CommandAllocator) error {
	switch l.State {
	case COMMAND_BUFFER_STATE_NOT_ALLOCATED, COMMAND_BUFFER_STATE_RECORDING_ENDED, COMMAND_BUFFER_STATE_SUBMITTED:
	default:
		return fmt.Errorf("command list reset while recording")
	}
	a, ok := allocator.(*CommandAllocator)
	if !ok {
		return fmt.Errorf("command allocator %T does not belong to the vulkan device", allocator)
	}
	if a.queueType != l.queueType {
		return fmt.Errorf("%s command list reset with a %s allocator", l.queueType, a.queueType)
	}
	cb, err := a.acquire()
	if err != nil {
		return err
	}
	l.allocator = a
	l.Handle = cb
	l.heaps = nil
	l.pipeline = nil
	l.renderpass = nil
	l.graphicsTables = make(map[uint32]metadata.DescriptorHandle)
	l.computeTables = make(map[uint32]metadata.DescriptorHandle)
	l.graphicsCBVs = make(map[uint32]uint64)
	l.computeCBVs = make(map[uint32]uint64)
	return l.Begin()
}

func (l *CommandList) ResourceBarrier(barriers []metadata.ResourceBarrier) {
	var images []vk.ImageMemoryBarrier
	var buffers []vk.BufferMemoryBarrier
	for _, b := range barriers {
		switch res := b.Resource.(type) {
		case *Texture:
			oldLayout := imageLayout(b.Before, res.initialized)
			if oldLayout == vk.ImageLayoutUndefined {
				res.needsClear = true
			}
			images = append(images, vk.ImageMemoryBarrier{
				SType:               vk.StructureTypeImageMemoryBarrier,
				SrcAccessMask:       accessMask(b.Before),
				DstAccessMask:       accessMask(b.After),
				OldLayout:           oldLayout,
				NewLayout:           imageLayout(b.After, true),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               res.image.Handle,
				SubresourceRange: vk.ImageSubresourceRange{
					AspectMask: res.image.Aspect,
					LevelCount: vk.RemainingMipLevels,
					LayerCount: vk.RemainingArrayLayers,
				},
			})
			res.initialized = true
		case *Buffer:
			buffers = append(buffers, vk.BufferMemoryBarrier{
				SType:               vk.StructureTypeBufferMemoryBarrier,
				SrcAccessMask:       accessMask(b.Before),
				DstAccessMask:       accessMask(b.After),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Buffer:              res.Handle,
				Size:                vk.DeviceSize(vk.WholeSize),
			})
		}
	}
	if len(images) == 0 && len(buffers) == 0 {
		return
	}
	stages := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	vk.CmdPipelineBarrier(l.Handle, stages, stages, 0,
		0, nil,
		uint32(len(buffers)), buffers,
		uint32(len(images)), images)
}

func (l *CommandList) SetDescriptorHeaps(heaps []metadata.DescriptorHeap) {
	l.heaps = append(l.heaps[:0], heaps...)
}

func (l *CommandList) SetPipelineState(pso metadata.PipelineState) {
	p := pso.(*PipelineState)
	l.pipeline = p
	p.pipeline.Bind(l)
}

func (l *CommandList) SetGraphicsRootDescriptorTable(rootIndex uint32, base metadata.DescriptorHandle) {
	l.graphicsTables[rootIndex] = base
}

func (l *CommandList) SetComputeRootDescriptorTable(rootIndex uint32, base metadata.DescriptorHandle) {
	l.computeTables[rootIndex] = base
}

func (l *CommandList) SetGraphicsRootConstantBufferView(rootIndex uint32, address uint64) {
	l.graphicsCBVs[rootIndex] = address
}

func (l *CommandList) SetComputeRootConstantBufferView(rootIndex uint32, address uint64) {
	l.computeCBVs[rootIndex] = address
}

func (l *CommandList) BeginRenderPass(colour []metadata.GPUResource, depth metadata.GPUResource) {
	var w, h uint32
	var views []vk.ImageView
	attachments := make([]attachmentConfig, 0, len(colour))
	for _, c := range colour {
		t := c.(*Texture)
		w, h = t.image.Width, t.image.Height
		attachments = append(attachments, t.attachment())
		views = append(views, t.image.View)
	}
	var depthAttachment *attachmentConfig
	if depth != nil {
		t := depth.(*Texture)
		w, h = t.image.Width, t.image.Height
		cfg := t.attachment()
		depthAttachment = &cfg
		views = append(views, t.image.View)
	}

	ctx := l.device.context
	renderpass, err := RenderpassCreate(ctx, w, h, attachments, depthAttachment)
	if err != nil {
		return
	}
	framebuffer, err := FramebufferCreate(ctx, renderpass, views)
	if err != nil {
		renderpass.RenderpassDestroy(ctx)
		return
	}
	l.allocator.releaseOnReset(func() {
		framebuffer.Destroy(ctx)
		renderpass.RenderpassDestroy(ctx)
	})

	renderpass.RenderpassBegin(l, framebuffer.Handle)
	l.renderpass = renderpass

	vk.CmdSetViewport(l.Handle, 0, 1, []vk.Viewport{{
		Width:    float32(w),
		Height:   float32(h),
		MaxDepth: 1.0,
	}})
	vk.CmdSetScissor(l.Handle, 0, 1, []vk.Rect2D{{
		Extent: vk.Extent2D{Width: w, Height: h},
	}})
}

func (l *CommandList) EndRenderPass() {
	if l.renderpass == nil {
		return
	}
	l.renderpass.RenderpassEnd(l)
	l.renderpass = nil
}

func (l *CommandList) Draw(vertexCount, instanceCount, startVertex, startInstance uint32) {
	vk.CmdDraw(l.Handle, vertexCount, instanceCount, startVertex, startInstance)
}

func (l *CommandList) DrawIndexed(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	vk.CmdDrawIndexed(l.Handle, indexCount, instanceCount, startIndex, baseVertex, startInstance)
}

func (l *CommandList) Dispatch(groupsX, groupsY, groupsZ uint32) {
	vk.CmdDispatch(l.Handle, groupsX, groupsY, groupsZ)
}

func (l *CommandList) CopyBufferRegion(dst metadata.Buffer, dstOffset uint64, src metadata.Buffer, srcOffset uint64, size uint64) {
	region := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(l.Handle, src.(*Buffer).Handle, dst.(*Buffer).Handle, 1, []vk.BufferCopy{region})
}

// Destroy is a no-op: the command buffer belongs to the allocator's pool.
func (l *CommandList) Destroy() {
	l.Handle = nil
	l.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}
