package command

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// QueueManager owns one queue per queue type and routes fence values to the
// queue encoded in their high byte.
type QueueManager struct {
	queues [metadata.QueueTypeCount]*Queue
}

func NewQueueManager(device metadata.Device, metrics *core.FrameMetrics) (*QueueManager, error) {
	m := &QueueManager{}
	for t := metadata.QueueType(0); t < metadata.QueueTypeCount; t++ {
		q, err := NewQueue(device, t, metrics)
		if err != nil {
			m.Destroy()
			return nil, err
		}
		m.queues[t] = q
	}
	core.LogInfo("command queues created on %s", device.Name())
	return m, nil
}

func (m *QueueManager) Queue(queueType metadata.QueueType) (*Queue, error) {
	if queueType >= metadata.QueueTypeCount {
		return nil, fmt.Errorf("%w: %d", core.ErrUnknownQueue, queueType)
	}
	return m.queues[queueType], nil
}

func (m *QueueManager) GraphicsQueue() *Queue { return m.queues[metadata.QueueTypeGraphics] }
func (m *QueueManager) ComputeQueue() *Queue  { return m.queues[metadata.QueueTypeCompute] }
func (m *QueueManager) CopyQueue() *Queue     { return m.queues[metadata.QueueTypeCopy] }

func (m *QueueManager) queueFor(value metadata.FenceValue) *Queue {
	t := value.QueueType()
	core.Assert(t < metadata.QueueTypeCount, "fence value %#x names no queue", uint64(value))
	return m.queues[t]
}

// IsFenceComplete routes value to its queue. It satisfies
// metadata.FenceChecker and is what the recyclers are handed.
func (m *QueueManager) IsFenceComplete(value metadata.FenceValue) bool {
	return m.queueFor(value).IsFenceComplete(value)
}

func (m *QueueManager) WaitForFence(ctx context.Context, value metadata.FenceValue) error {
	if value.QueueType() >= metadata.QueueTypeCount {
		return fmt.Errorf("%w: fence %#x", core.ErrUnknownQueue, uint64(value))
	}
	return m.queueFor(value).WaitForFence(ctx, value)
}

// IdleGPU blocks until every queue drained its submitted work.
func (m *QueueManager) IdleGPU(ctx context.Context) error {
	for _, q := range m.queues {
		if err := q.WaitForIdle(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *QueueManager) Destroy() {
	for i, q := range m.queues {
		if q != nil {
			q.Destroy()
			m.queues[i] = nil
		}
	}
}
