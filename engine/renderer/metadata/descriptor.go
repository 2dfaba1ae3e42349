package metadata

/** @brief The descriptor stores a heap can hold. */
type DescriptorHeapType uint8

const (
	/** @brief Constant buffer, shader resource and unordered access views. */
	DescriptorHeapTypeResource DescriptorHeapType = iota
	DescriptorHeapTypeSampler
	DescriptorHeapTypeRenderTarget
	DescriptorHeapTypeDepthStencil
	DescriptorHeapTypeCount
)

func (t DescriptorHeapType) String() string {
	switch t {
	case DescriptorHeapTypeResource:
		return "resource"
	case DescriptorHeapTypeSampler:
		return "sampler"
	case DescriptorHeapTypeRenderTarget:
		return "render-target"
	case DescriptorHeapTypeDepthStencil:
		return "depth-stencil"
	default:
		return "unknown"
	}
}

/** @brief The kind of a single descriptor inside a table. */
type DescriptorType uint8

const (
	DescriptorTypeConstantBuffer DescriptorType = iota
	DescriptorTypeShaderResource
	DescriptorTypeUnorderedAccess
	DescriptorTypeSampler
)

/** @brief The heap type a descriptor of this kind lives in. */
func (t DescriptorType) HeapType() DescriptorHeapType {
	if t == DescriptorTypeSampler {
		return DescriptorHeapTypeSampler
	}
	return DescriptorHeapTypeResource
}

/**
 * @brief A fixed-capacity array of descriptors owned by the backend.
 * Shader-visible heaps can be referenced by in-flight GPU work.
 */
type DescriptorHeap interface {
	Type() DescriptorHeapType
	NumDescriptors() uint32
	ShaderVisible() bool
	Destroy()
}

/** @brief Addresses one descriptor slot inside a heap. */
type DescriptorHandle struct {
	Heap  DescriptorHeap
	Index uint32
}

func (h DescriptorHandle) IsNull() bool {
	return h.Heap == nil
}

func (h DescriptorHandle) Offset(n uint32) DescriptorHandle {
	return DescriptorHandle{Heap: h.Heap, Index: h.Index + n}
}

/** @brief Reports whether h is the slot right after prev in the same heap. */
func (h DescriptorHandle) Follows(prev DescriptorHandle) bool {
	return h.Heap != nil && h.Heap == prev.Heap && h.Index == prev.Index+1
}

/** @brief A run of Count consecutive descriptors starting at Src. */
type DescriptorCopyRange struct {
	Src   DescriptorHandle
	Count uint32
}

/** @brief What a descriptor points at; written into a CPU-visible slot. */
type DescriptorView struct {
	Type     DescriptorType
	Resource GPUResource
	/** @brief Byte offset for buffer views. */
	Offset uint64
	/** @brief Byte size for buffer views. Zero means the whole resource. */
	Size uint64
}
