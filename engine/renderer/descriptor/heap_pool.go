package descriptor

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type retiredHeap struct {
	fence metadata.FenceValue
	heap  metadata.DescriptorHeap
}

// HeapPool recycles shader-visible descriptor heaps. A heap handed back with
// DiscardHeaps is only reused after its fence completes.
type HeapPool struct {
	device         metadata.Device
	heapType       metadata.DescriptorHeapType
	numDescriptors uint32
	metrics        *core.FrameMetrics

	mu        sync.Mutex
	heaps     []metadata.DescriptorHeap
	retired   *containers.RingQueue[retiredHeap]
	available *containers.RingQueue[metadata.DescriptorHeap]
}

func NewHeapPool(device metadata.Device, heapType metadata.DescriptorHeapType, numDescriptors uint32, metrics *core.FrameMetrics) *HeapPool {
	return &HeapPool{
		device:         device,
		heapType:       heapType,
		numDescriptors: numDescriptors,
		metrics:        metrics,
		retired:        containers.NewGrowableRingQueue[retiredHeap](8),
		available:      containers.NewGrowableRingQueue[metadata.DescriptorHeap](8),
	}
}

func (p *HeapPool) HeapType() metadata.DescriptorHeapType {
	return p.heapType
}

func (p *HeapPool) NumDescriptorsPerHeap() uint32 {
	return p.numDescriptors
}

// NumHeaps is the number of heaps ever created by the pool.
func (p *HeapPool) NumHeaps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.heaps)
}

// RequestHeap returns a heap no in-flight work references, creating one when
// every existing heap is still busy.
func (p *HeapPool) RequestHeap(isComplete metadata.FenceChecker) (metadata.DescriptorHeap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.retired.IsEmpty() {
		front, _ := p.retired.Peek()
		if !isComplete(front.fence) {
			break
		}
		_, _ = p.retired.Dequeue()
		_ = p.available.Enqueue(front.heap)
	}

	if !p.available.IsEmpty() {
		heap, _ := p.available.Dequeue()
		return heap, nil
	}

	heap, err := p.device.CreateDescriptorHeap(p.heapType, p.numDescriptors, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create shader-visible %s heap: %w", p.heapType, err)
	}
	p.heaps = append(p.heaps, heap)
	if p.metrics != nil {
		p.metrics.HeapsCreated.Add(1)
	}
	core.LogDebug("created shader-visible %s heap #%d (%d descriptors)", p.heapType, len(p.heaps), p.numDescriptors)
	return heap, nil
}

// DiscardHeaps retires heaps used by work that completes at fence.
func (p *HeapPool) DiscardHeaps(fence metadata.FenceValue, heaps []metadata.DescriptorHeap) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, h := range heaps {
		_ = p.retired.Enqueue(retiredHeap{fence: fence, heap: h})
	}
}

func (p *HeapPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, h := range p.heaps {
		h.Destroy()
	}
	p.heaps = nil
	p.retired = containers.NewGrowableRingQueue[retiredHeap](8)
	p.available = containers.NewGrowableRingQueue[metadata.DescriptorHeap](8)
}
