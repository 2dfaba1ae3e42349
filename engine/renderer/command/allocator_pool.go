package command

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type readyAllocator struct {
	fence     metadata.FenceValue
	allocator metadata.CommandAllocator
}

// AllocatorPool recycles the command allocators of one queue. An allocator
// returned with DiscardAllocator is reset and reused only after the fence it
// was discarded with completes.
type AllocatorPool struct {
	device    metadata.Device
	queueType metadata.QueueType

	mu         sync.Mutex
	allocators []metadata.CommandAllocator
	ready      *containers.RingQueue[readyAllocator]
}

func NewAllocatorPool(device metadata.Device, queueType metadata.QueueType) *AllocatorPool {
	return &AllocatorPool{
		device:    device,
		queueType: queueType,
		ready:     containers.NewGrowableRingQueue[readyAllocator](8),
	}
}

// RequestAllocator pops the oldest discarded allocator when its fence has
// completed and creates a new one otherwise. It never waits on the GPU.
func (p *AllocatorPool) RequestAllocator(isComplete metadata.FenceChecker) (metadata.CommandAllocator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready.IsEmpty() {
		front, _ := p.ready.Peek()
		if isComplete(front.fence) {
			_, _ = p.ready.Dequeue()
			if err := front.allocator.Reset(); err != nil {
				return nil, fmt.Errorf("failed to reset %s command allocator: %w", p.queueType, err)
			}
			return front.allocator, nil
		}
	}

	allocator, err := p.device.CreateCommandAllocator(p.queueType)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s command allocator: %w", p.queueType, err)
	}
	p.allocators = append(p.allocators, allocator)
	core.LogDebug("created %s command allocator #%d", p.queueType, len(p.allocators))
	return allocator, nil
}

// DiscardAllocator hands back an allocator whose commands finish at fence.
func (p *AllocatorPool) DiscardAllocator(fence metadata.FenceValue, allocator metadata.CommandAllocator) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.ready.Enqueue(readyAllocator{fence: fence, allocator: allocator})
}

// Size is the number of allocators ever created by the pool.
func (p *AllocatorPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocators)
}

func (p *AllocatorPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, a := range p.allocators {
		a.Destroy()
	}
	p.allocators = nil
	p.ready = containers.NewGrowableRingQueue[readyAllocator](8)
}
