package metadata

import "context"

/**
 * @brief The native graphics backend. The submission core only talks to the
 * GPU through these entry points.
 */
type Device interface {
	Name() string

	CreateDescriptorHeap(heapType DescriptorHeapType, numDescriptors uint32, shaderVisible bool) (DescriptorHeap, error)
	/** @brief Writes a view into a CPU-visible descriptor slot. */
	WriteDescriptor(dst DescriptorHandle, view DescriptorView)
	/** @brief Copies the source ranges back to back starting at dst. */
	CopyDescriptors(dst DescriptorHandle, src []DescriptorCopyRange)

	CreateBuffer(name string, size uint64, kind MemoryKind) (Buffer, error)
	CreateTexture(name string, desc TextureDesc) (GPUResource, error)
	CreateRenderTarget(name string, desc RenderTargetDesc) (GPUResource, error)
	CreateDepthTarget(name string, desc DepthTargetDesc) (GPUResource, error)
	CreatePipelineState(desc *PipelineStateDesc) (PipelineState, error)

	CreateCommandQueue(queueType QueueType) (HardwareQueue, error)
	CreateCommandAllocator(queueType QueueType) (CommandAllocator, error)
	CreateCommandList(queueType QueueType, allocator CommandAllocator) (CommandList, error)

	Destroy()
}

/**
 * @brief A hardware queue together with its completion fence. Signal enqueues
 * a GPU-side write of the value once prior work finishes.
 */
type HardwareQueue interface {
	Type() QueueType
	ExecuteCommandList(list CommandList) error
	Signal(value FenceValue) error
	/** @brief Queries the hardware for the last value the GPU reached. */
	CompletedValue() FenceValue
	/** @brief Blocks until the fence reaches value or ctx is done. */
	WaitForValue(ctx context.Context, value FenceValue) error
	/** @brief Makes this queue wait on the GPU for another queue's fence. */
	WaitOnQueue(other HardwareQueue, value FenceValue) error
	Destroy()
}

/** @brief Backing memory for recorded commands. Reset only once the GPU is done with it. */
type CommandAllocator interface {
	Reset() error
	Destroy()
}

/** @brief An opaque recordable command list. */
type CommandList interface {
	Type() QueueType
	Close() error
	Reset(allocator CommandAllocator) error

	ResourceBarrier(barriers []ResourceBarrier)
	SetDescriptorHeaps(heaps []DescriptorHeap)
	SetPipelineState(pso PipelineState)
	SetGraphicsRootDescriptorTable(rootIndex uint32, base DescriptorHandle)
	SetComputeRootDescriptorTable(rootIndex uint32, base DescriptorHandle)
	SetGraphicsRootConstantBufferView(rootIndex uint32, address uint64)
	SetComputeRootConstantBufferView(rootIndex uint32, address uint64)
	BeginRenderPass(colour []GPUResource, depth GPUResource)
	EndRenderPass()
	Draw(vertexCount, instanceCount, startVertex, startInstance uint32)
	DrawIndexed(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)
	Dispatch(groupsX, groupsY, groupsZ uint32)
	CopyBufferRegion(dst Buffer, dstOffset uint64, src Buffer, srcOffset uint64, size uint64)

	Destroy()
}
