package vulkan

import (
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// DescriptorHeap keeps descriptors on the host. Shader-visible heaps are
// read by the command list when root tables are bound.
type DescriptorHeap struct {
	heapType      metadata.DescriptorHeapType
	shaderVisible bool
	views         []metadata.DescriptorView
}

func (h *DescriptorHeap) Type() metadata.DescriptorHeapType {
	return h.heapType
}

func (h *DescriptorHeap) NumDescriptors() uint32 {
	return uint32(len(h.views))
}

func (h *DescriptorHeap) ShaderVisible() bool {
	return h.shaderVisible
}

func (h *DescriptorHeap) View(index uint32) metadata.DescriptorView {
	return h.views[index]
}

func (h *DescriptorHeap) Destroy() {
	h.views = nil
}

func (d *Device) CreateDescriptorHeap(heapType metadata.DescriptorHeapType, numDescriptors uint32, shaderVisible bool) (metadata.DescriptorHeap, error) {
	return &DescriptorHeap{
		heapType:      heapType,
		shaderVisible: shaderVisible,
		views:         make([]metadata.DescriptorView, numDescriptors),
	}, nil
}

func (d *Device) WriteDescriptor(dst metadata.DescriptorHandle, view metadata.DescriptorView) {
	dst.Heap.(*DescriptorHeap).views[dst.Index] = view
}

func (d *Device) CopyDescriptors(dst metadata.DescriptorHandle, src []metadata.DescriptorCopyRange) {
	heap := dst.Heap.(*DescriptorHeap)
	index := dst.Index
	for _, r := range src {
		from := r.Src.Heap.(*DescriptorHeap)
		copy(heap.views[index:index+r.Count], from.views[r.Src.Index:r.Src.Index+r.Count])
		index += r.Count
	}
}
