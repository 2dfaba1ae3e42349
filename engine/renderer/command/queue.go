package command

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Queue wraps a hardware queue and its fence. Fence values are handed out
// in submission order; the last completed value seen from the hardware is
// cached so most completion checks never leave the CPU.
type Queue struct {
	queueType metadata.QueueType
	hardware  metadata.HardwareQueue
	pool      *AllocatorPool
	metrics   *core.FrameMetrics

	// serializes execute+signal so fence values match submission order
	mu            sync.Mutex
	nextFence     metadata.FenceValue
	lastCompleted atomic.Uint64
}

func NewQueue(device metadata.Device, queueType metadata.QueueType, metrics *core.FrameMetrics) (*Queue, error) {
	hw, err := device.CreateCommandQueue(queueType)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s queue: %w", queueType, err)
	}
	q := &Queue{
		queueType: queueType,
		hardware:  hw,
		pool:      NewAllocatorPool(device, queueType),
		metrics:   metrics,
		nextFence: metadata.InitialFenceValue(queueType) + 1,
	}
	q.lastCompleted.Store(uint64(metadata.InitialFenceValue(queueType)))
	return q, nil
}

func (q *Queue) Type() metadata.QueueType {
	return q.queueType
}

func (q *Queue) Hardware() metadata.HardwareQueue {
	return q.hardware
}

func (q *Queue) AllocatorPool() *AllocatorPool {
	return q.pool
}

// NextFenceValue is the value the next submission will signal.
func (q *Queue) NextFenceValue() metadata.FenceValue {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextFence
}

// LastCompletedFenceValue is the cached completed value; it does not query
// the hardware.
func (q *Queue) LastCompletedFenceValue() metadata.FenceValue {
	return metadata.FenceValue(q.lastCompleted.Load())
}

// Submit closes and executes list, then signals and returns the fence value
// that marks its completion.
func (q *Queue) Submit(list metadata.CommandList) (metadata.FenceValue, error) {
	core.Assert(list.Type() == q.queueType, "%s command list submitted to the %s queue", list.Type(), q.queueType)

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := list.Close(); err != nil {
		return 0, fmt.Errorf("failed to close %s command list: %w", q.queueType, err)
	}
	if err := q.hardware.ExecuteCommandList(list); err != nil {
		return 0, fmt.Errorf("failed to execute on the %s queue: %w", q.queueType, err)
	}
	fence, err := q.signal()
	if err != nil {
		return 0, err
	}
	if q.metrics != nil {
		q.metrics.Submissions.Add(1)
	}
	return fence, nil
}

// IncrementFence signals the next value without submitting any work.
func (q *Queue) IncrementFence() (metadata.FenceValue, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.signal()
}

func (q *Queue) signal() (metadata.FenceValue, error) {
	fence := q.nextFence
	if err := q.hardware.Signal(fence); err != nil {
		return 0, fmt.Errorf("failed to signal %s on the %s queue: %w", fence, q.queueType, err)
	}
	q.nextFence++
	return fence, nil
}

// IsFenceComplete reports whether the GPU reached value. The hardware is
// only queried when value lies beyond the cached completed value.
func (q *Queue) IsFenceComplete(value metadata.FenceValue) bool {
	if uint64(value) > q.lastCompleted.Load() {
		q.observe(q.hardware.CompletedValue())
	}
	return uint64(value) <= q.lastCompleted.Load()
}

// observe raises the cached completed value, never lowering it.
func (q *Queue) observe(value metadata.FenceValue) {
	for {
		last := q.lastCompleted.Load()
		if uint64(value) <= last || q.lastCompleted.CompareAndSwap(last, uint64(value)) {
			return
		}
	}
}

// WaitForFence blocks until value completes. It returns immediately when the
// value already completed.
func (q *Queue) WaitForFence(ctx context.Context, value metadata.FenceValue) error {
	core.Assert(value.QueueType() == q.queueType, "waiting for %s on the %s queue", value, q.queueType)
	if q.IsFenceComplete(value) {
		return nil
	}
	if q.metrics != nil {
		q.metrics.FenceWaits.Add(1)
	}
	if err := q.hardware.WaitForValue(ctx, value); err != nil {
		return fmt.Errorf("waiting for %s: %w", value, err)
	}
	q.observe(value)
	return nil
}

// WaitForIdle signals a fresh fence and blocks until it completes.
func (q *Queue) WaitForIdle(ctx context.Context) error {
	fence, err := q.IncrementFence()
	if err != nil {
		return err
	}
	return q.WaitForFence(ctx, fence)
}

// StallForFence makes the GPU side of this queue wait for a value of
// another queue. The CPU does not block.
func (q *Queue) StallForFence(producer *Queue, value metadata.FenceValue) error {
	core.Assert(value.QueueType() == producer.queueType, "stalling on %s of the %s queue", value, producer.queueType)
	if producer.IsFenceComplete(value) {
		return nil
	}
	return q.hardware.WaitOnQueue(producer.hardware, value)
}

// StallForProducer waits on the GPU for everything submitted to producer so far.
func (q *Queue) StallForProducer(producer *Queue) error {
	return q.StallForFence(producer, producer.NextFenceValue()-1)
}

func (q *Queue) RequestAllocator() (metadata.CommandAllocator, error) {
	return q.pool.RequestAllocator(q.IsFenceComplete)
}

func (q *Queue) DiscardAllocator(fence metadata.FenceValue, allocator metadata.CommandAllocator) {
	q.pool.DiscardAllocator(fence, allocator)
}

func (q *Queue) Destroy() {
	q.pool.Destroy()
	q.hardware.Destroy()
}
