package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/null"
)

func newTestQueues(t *testing.T, opts ...null.Option) (*QueueManager, *null.Device) {
	t.Helper()
	device := null.NewDevice(opts...)
	queues, err := NewQueueManager(device, core.NewFrameMetrics())
	require.NoError(t, err)
	t.Cleanup(queues.Destroy)
	return queues, device
}

func recordEmpty(t *testing.T, device *null.Device, q *Queue) metadata.CommandList {
	t.Helper()
	allocator, err := q.RequestAllocator()
	require.NoError(t, err)
	list, err := device.CreateCommandList(q.Type(), allocator)
	require.NoError(t, err)
	return list
}

func TestQueueFenceValuesCarryQueueType(t *testing.T) {
	queues, device := newTestQueues(t)

	for qt := metadata.QueueType(0); qt < metadata.QueueTypeCount; qt++ {
		q, err := queues.Queue(qt)
		require.NoError(t, err)
		assert.Equal(t, metadata.InitialFenceValue(qt), q.LastCompletedFenceValue())
		assert.Equal(t, metadata.InitialFenceValue(qt)+1, q.NextFenceValue())

		fence, err := q.Submit(recordEmpty(t, device, q))
		require.NoError(t, err)
		assert.Equal(t, qt, fence.QueueType())
		assert.Equal(t, uint64(1), fence.Counter())
		assert.Equal(t, metadata.InitialFenceValue(qt)+2, q.NextFenceValue())
	}

	_, err := queues.Queue(metadata.QueueTypeCount)
	assert.ErrorIs(t, err, core.ErrUnknownQueue)
}

func TestQueueFenceMonotonicity(t *testing.T) {
	queues, device := newTestQueues(t, null.WithManualFences())
	q := queues.GraphicsQueue()

	var fences []metadata.FenceValue
	for i := 0; i < 5; i++ {
		f, err := q.Submit(recordEmpty(t, device, q))
		require.NoError(t, err)
		fences = append(fences, f)
	}
	for i := 1; i < len(fences); i++ {
		assert.Greater(t, fences[i], fences[i-1])
	}

	device.Queue(metadata.QueueTypeGraphics).Complete(fences[2])
	for i, f := range fences {
		assert.Equal(t, i <= 2, q.IsFenceComplete(f), "fence %s", f)
	}

	// a stale hardware reading never lowers the cache
	q.observe(fences[0])
	assert.Equal(t, fences[2], q.LastCompletedFenceValue())
}

func TestQueueCachesCompletedValue(t *testing.T) {
	queues, device := newTestQueues(t)
	q := queues.ComputeQueue()
	hw := device.Queue(metadata.QueueTypeCompute)

	fence, err := q.Submit(recordEmpty(t, device, q))
	require.NoError(t, err)

	assert.True(t, q.IsFenceComplete(fence))
	queries := hw.Queries()
	for i := 0; i < 10; i++ {
		assert.True(t, q.IsFenceComplete(fence))
	}
	assert.Equal(t, queries, hw.Queries())

	assert.False(t, q.IsFenceComplete(fence+1))
	assert.Equal(t, queries+1, hw.Queries())
}

func TestQueueWaitForFence(t *testing.T) {
	queues, device := newTestQueues(t, null.WithManualFences())
	q := queues.GraphicsQueue()
	hw := device.Queue(metadata.QueueTypeGraphics)

	fence, err := q.Submit(recordEmpty(t, device, q))
	require.NoError(t, err)

	// an already completed value never blocks
	require.NoError(t, q.WaitForFence(context.Background(), q.LastCompletedFenceValue()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = q.WaitForFence(ctx, fence)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	done := make(chan error, 1)
	go func() { done <- q.WaitForFence(context.Background(), fence) }()
	hw.Complete(fence)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after the fence completed")
	}
	assert.True(t, q.IsFenceComplete(fence))
}

func TestQueueSubmitRejectsForeignList(t *testing.T) {
	queues, device := newTestQueues(t)
	list := recordEmpty(t, device, queues.CopyQueue())

	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.True(t, errors.Is(r.(error), core.ErrContractViolation))
	}()
	_, _ = queues.GraphicsQueue().Submit(list)
}

func TestQueueManagerRoutesByHighByte(t *testing.T) {
	queues, device := newTestQueues(t, null.WithManualFences())
	gfx := queues.GraphicsQueue()
	cpy := queues.CopyQueue()

	gfxFence, err := gfx.Submit(recordEmpty(t, device, gfx))
	require.NoError(t, err)
	cpyFence, err := cpy.Submit(recordEmpty(t, device, cpy))
	require.NoError(t, err)
	assert.Equal(t, gfxFence.Counter(), cpyFence.Counter())

	device.Queue(metadata.QueueTypeCopy).CompleteAll()
	assert.True(t, queues.IsFenceComplete(cpyFence))
	assert.False(t, queues.IsFenceComplete(gfxFence))

	// an invalid queue byte is an error for waits
	bogus := metadata.FenceValue(uint64(9)<<metadata.FenceQueueShift | 1)
	assert.ErrorIs(t, queues.WaitForFence(context.Background(), bogus), core.ErrUnknownQueue)
}

func TestQueueStallForProducerIsGPUSide(t *testing.T) {
	queues, device := newTestQueues(t, null.WithManualFences())
	gfx := queues.GraphicsQueue()
	cpy := queues.CopyQueue()

	upload, err := cpy.Submit(recordEmpty(t, device, cpy))
	require.NoError(t, err)
	require.NoError(t, gfx.StallForProducer(cpy))
	assert.Equal(t, []metadata.FenceValue{upload}, device.Queue(metadata.QueueTypeGraphics).GPUWaits())

	// nothing to wait for once the producer finished
	device.Queue(metadata.QueueTypeCopy).CompleteAll()
	require.NoError(t, gfx.StallForFence(cpy, upload))
	assert.Len(t, device.Queue(metadata.QueueTypeGraphics).GPUWaits(), 1)
}

func TestQueueManagerIdleGPU(t *testing.T) {
	queues, _ := newTestQueues(t)
	require.NoError(t, queues.IdleGPU(context.Background()))
	for qt := metadata.QueueType(0); qt < metadata.QueueTypeCount; qt++ {
		q, _ := queues.Queue(qt)
		assert.Equal(t, uint64(1), q.LastCompletedFenceValue().Counter())
	}
}

func TestAllocatorPoolRecyclesAfterFence(t *testing.T) {
	device := null.NewDevice()
	pool := NewAllocatorPool(device, metadata.QueueTypeGraphics)

	var completed metadata.FenceValue
	isComplete := func(v metadata.FenceValue) bool { return v <= completed }

	first, err := pool.RequestAllocator(isComplete)
	require.NoError(t, err)
	pool.DiscardAllocator(3, first)

	second, err := pool.RequestAllocator(isComplete)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, pool.Size())

	completed = 3
	again, err := pool.RequestAllocator(isComplete)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, again.(*null.CommandAllocator).Resets())
	assert.Equal(t, 2, pool.Size())

	pool.Destroy()
	assert.Equal(t, 2, device.Destroyed("allocator"))
}
