package vulkan

import (
	"context"
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// waitSliceNs bounds a single vkWaitForFences call so a cancelled context is
// noticed.
const waitSliceNs = 1_000_000

type submission struct {
	value metadata.FenceValue
	fence *VulkanFence
}

// Queue maps the monotonic fence counter onto one VkFence per Signal. Command
// lists handed to ExecuteCommandList are batched into the submit that
// carries the next signal.
type Queue struct {
	device    *Device
	queueType metadata.QueueType
	family    uint32
	handle    vk.Queue

	mu        sync.Mutex
	pending   []vk.CommandBuffer
	inFlight  []submission
	free      []*VulkanFence
	signalled metadata.FenceValue
	completed metadata.FenceValue
}

func newQueue(d *Device, qt metadata.QueueType) *Queue {
	return &Queue{
		device:    d,
		queueType: qt,
		family:    d.context.Device.QueueFamilyIndices[qt],
		handle:    d.context.Device.Queues[qt],
		signalled: metadata.InitialFenceValue(qt),
		completed: metadata.InitialFenceValue(qt),
	}
}

func (q *Queue) Type() metadata.QueueType {
	return q.queueType
}

func (q *Queue) ExecuteCommandList(list metadata.CommandList) error {
	cl, ok := list.(*CommandList)
	if !ok {
		return fmt.Errorf("command list %T does not belong to the vulkan device", list)
	}
	if cl.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return fmt.Errorf("command list must be closed before execution")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, cl.Handle)
	cl.UpdateSubmitted()
	return nil
}

func (q *Queue) Signal(value metadata.FenceValue) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	fence, err := q.acquireFence()
	if err != nil {
		return err
	}

	var submits []vk.SubmitInfo
	if len(q.pending) > 0 {
		submits = []vk.SubmitInfo{{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: uint32(len(q.pending)),
			PCommandBuffers:    q.pending,
		}}
	}
	// a submit with no batches still signals the fence once prior work is done
	if err := q.device.context.locks.SafeQueueCall(q.family, func() error {
		return vulkanError("vkQueueSubmit", vk.QueueSubmit(q.handle, uint32(len(submits)), submits, fence.Handle))
	}); err != nil {
		q.free = append(q.free, fence)
		return err
	}

	q.pending = nil
	q.inFlight = append(q.inFlight, submission{value: value, fence: fence})
	q.signalled = value
	return nil
}

func (q *Queue) acquireFence() (*VulkanFence, error) {
	if n := len(q.free); n > 0 {
		fence := q.free[n-1]
		q.free = q.free[:n-1]
		return fence, nil
	}
	return NewFence(q.device.context, false)
}

func (q *Queue) CompletedValue() metadata.FenceValue {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.poll()
	return q.completed
}

// poll retires every in-flight submission whose fence signalled, in order.
func (q *Queue) poll() {
	for len(q.inFlight) > 0 {
		s := q.inFlight[0]
		done, err := s.fence.Poll(q.device.context)
		if err != nil || !done {
			return
		}
		q.retire(s)
	}
}

func (q *Queue) retire(s submission) {
	q.inFlight = q.inFlight[1:]
	q.completed = s.value
	if err := s.fence.FenceReset(q.device.context); err != nil {
		s.fence.FenceDestroy(q.device.context)
		return
	}
	q.free = append(q.free, s.fence)
}

func (q *Queue) WaitForValue(ctx context.Context, value metadata.FenceValue) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		q.mu.Lock()
		q.poll()
		if value <= q.completed {
			q.mu.Unlock()
			return nil
		}
		if value > q.signalled {
			q.mu.Unlock()
			return fmt.Errorf("%s queue: fence %s was never signalled", q.queueType, value)
		}
		s := q.inFlight[0]
		done, err := s.fence.FenceWait(q.device.context, waitSliceNs)
		if err == nil && done {
			q.retire(s)
		}
		q.mu.Unlock()

		if err != nil {
			return err
		}
	}
}

// WaitOnQueue waits on the CPU; submissions to this queue made afterwards
// are therefore ordered after the producer's work.
func (q *Queue) WaitOnQueue(other metadata.HardwareQueue, value metadata.FenceValue) error {
	return other.WaitForValue(context.Background(), value)
}

func (q *Queue) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()

	vk.QueueWaitIdle(q.handle)
	for _, s := range q.inFlight {
		s.fence.FenceDestroy(q.device.context)
	}
	for _, f := range q.free {
		f.FenceDestroy(q.device.context)
	}
	q.inFlight = nil
	q.free = nil
	q.pending = nil
}
