package metadata

/** @brief How a resource is being used by the GPU. Values can be combined. */
type ResourceState uint32

const (
	ResourceStateCommon                   ResourceState = 0x0
	ResourceStateVertexAndConstantBuffer  ResourceState = 0x1
	ResourceStateIndexBuffer              ResourceState = 0x2
	ResourceStateRenderTarget             ResourceState = 0x4
	ResourceStateUnorderedAccess          ResourceState = 0x8
	ResourceStateDepthWrite               ResourceState = 0x10
	ResourceStateDepthRead                ResourceState = 0x20
	ResourceStateNonPixelShaderResource   ResourceState = 0x40
	ResourceStatePixelShaderResource      ResourceState = 0x80
	ResourceStateCopyDest                 ResourceState = 0x400
	ResourceStateCopySource               ResourceState = 0x800
	ResourceStatePresent                  ResourceState = 0x1000
	ResourceStateShaderResource                         = ResourceStateNonPixelShaderResource | ResourceStatePixelShaderResource
	ResourceStateGenericRead                            = ResourceStateVertexAndConstantBuffer | ResourceStateIndexBuffer | ResourceStateShaderResource | ResourceStateCopySource
)

/**
 * @brief A backend object the GPU reads or writes. The usage state is tracked
 * on the CPU by whoever records barriers for it.
 */
type GPUResource interface {
	Name() string
	UsageState() ResourceState
	SetUsageState(state ResourceState)
	Destroy()
}

/** @brief Embeddable implementation of the state half of GPUResource. */
type StateTracker struct {
	state ResourceState
}

func (s *StateTracker) UsageState() ResourceState {
	return s.state
}

func (s *StateTracker) SetUsageState(state ResourceState) {
	s.state = state
}

/** @brief A transition recorded into a command list. */
type ResourceBarrier struct {
	Resource GPUResource
	Before   ResourceState
	After    ResourceState
}

/** @brief Memory visibility classes used by the linear allocators. */
type MemoryKind uint8

const (
	/** @brief Host-visible, write-combined memory for uploads. */
	MemoryKindCPUWritable MemoryKind = iota
	/** @brief Device-local memory only the GPU writes. */
	MemoryKindGPUExclusive
)

func (k MemoryKind) String() string {
	if k == MemoryKindCPUWritable {
		return "cpu-writable"
	}
	return "gpu-exclusive"
}

/**
 * @brief A linear range of GPU memory. Mapped returns the persistently mapped
 * bytes for CPU-writable buffers and nil otherwise.
 */
type Buffer interface {
	GPUResource
	Size() uint64
	GPUAddress() uint64
	Mapped() []byte
}
