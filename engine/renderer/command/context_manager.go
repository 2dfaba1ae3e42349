package command

import (
	"context"
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/descriptor"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/linear"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// ContextManager pools command contexts per queue type. Every context it
// creates shares the manager's page managers and heap pools.
type ContextManager struct {
	device        metadata.Device
	queues        *QueueManager
	cpuPages      *linear.PageManager
	gpuPages      *linear.PageManager
	resourceHeaps *descriptor.HeapPool
	samplerHeaps  *descriptor.HeapPool

	mu        sync.Mutex
	contexts  [metadata.QueueTypeCount][]*Context
	available [metadata.QueueTypeCount]*containers.RingQueue[*Context]
}

type ContextManagerConfig struct {
	Device        metadata.Device
	Queues        *QueueManager
	CPUPages      *linear.PageManager
	GPUPages      *linear.PageManager
	ResourceHeaps *descriptor.HeapPool
	SamplerHeaps  *descriptor.HeapPool
}

func NewContextManager(cfg ContextManagerConfig) *ContextManager {
	m := &ContextManager{
		device:        cfg.Device,
		queues:        cfg.Queues,
		cpuPages:      cfg.CPUPages,
		gpuPages:      cfg.GPUPages,
		resourceHeaps: cfg.ResourceHeaps,
		samplerHeaps:  cfg.SamplerHeaps,
	}
	for i := range m.available {
		m.available[i] = containers.NewGrowableRingQueue[*Context](4)
	}
	return m
}

// Begin hands out a recording context for queueType, reusing a pooled one
// when possible.
func (m *ContextManager) Begin(queueType metadata.QueueType, name string) (*Context, error) {
	queue, err := m.queues.Queue(queueType)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	c, derr := m.available[queueType].Dequeue()
	if derr != nil {
		c = m.newContext(queue)
		m.contexts[queueType] = append(m.contexts[queueType], c)
		core.LogDebug("created %s context #%d", queueType, len(m.contexts[queueType]))
	}
	m.mu.Unlock()

	if err := c.begin(name); err != nil {
		m.free(c)
		return nil, err
	}
	return c, nil
}

func (m *ContextManager) newContext(queue *Queue) *Context {
	isComplete := m.queues.IsFenceComplete
	c := &Context{
		manager:   m,
		queue:     queue,
		queueType: queue.Type(),
		cpuLinear: linear.NewAllocator(m.cpuPages, isComplete),
		gpuLinear: linear.NewAllocator(m.gpuPages, isComplete),
		barriers:  make([]metadata.ResourceBarrier, 0, MaxPendingBarriers),
	}
	c.resourceBinder = descriptor.NewBinder(m.device, m.resourceHeaps, c, isComplete)
	c.samplerBinder = descriptor.NewBinder(m.device, m.samplerHeaps, c, isComplete)
	return c
}

func (m *ContextManager) free(c *Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.available[c.queueType].Enqueue(c)
}

// NumContexts is the number of contexts ever created for queueType.
func (m *ContextManager) NumContexts(queueType metadata.QueueType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts[queueType])
}

// InitializeBuffer uploads data into dst at offset through the copy queue
// and blocks until the copy completed.
func (m *ContextManager) InitializeBuffer(ctx context.Context, dst metadata.Buffer, offset uint64, data []byte) error {
	core.Assert(offset+uint64(len(data)) <= dst.Size(), "initializing %d bytes at %d of %s (%d bytes)", len(data), offset, dst.Name(), dst.Size())
	if len(data) == 0 {
		return nil
	}

	c, err := m.Begin(metadata.QueueTypeCopy, fmt.Sprintf("initialize %s", dst.Name()))
	if err != nil {
		return err
	}
	upload, err := c.cpuLinear.Allocate(uint64(len(data)), linear.DefaultAlignment)
	if err != nil {
		c.Discard()
		return err
	}
	copy(upload.CPU, data)
	c.CopyBufferRegion(dst, offset, upload.Buffer, upload.Offset, uint64(len(data)))
	upload.Release()

	_, err = c.Finish(ctx, true)
	return err
}

// DestroyAll releases the native lists of every pooled context. Contexts
// still recording must have been finished or discarded.
func (m *ContextManager) DestroyAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for t := range m.contexts {
		for _, c := range m.contexts[t] {
			if c.list != nil {
				c.list.Destroy()
				c.list = nil
			}
		}
		m.contexts[t] = nil
		m.available[t] = containers.NewGrowableRingQueue[*Context](4)
	}
}
