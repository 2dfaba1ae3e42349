package null

import (
	"context"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Queue is a hardware queue whose GPU is imaginary. Executed lists are kept
// for inspection.
type Queue struct {
	queueType metadata.QueueType
	manual    bool

	mu        sync.Mutex
	signalled metadata.FenceValue
	completed metadata.FenceValue
	queries   int
	executed  []*CommandList
	waits     []metadata.FenceValue
	changed   chan struct{}
}

func newQueue(queueType metadata.QueueType, manual bool) *Queue {
	return &Queue{
		queueType: queueType,
		manual:    manual,
		signalled: metadata.InitialFenceValue(queueType),
		completed: metadata.InitialFenceValue(queueType),
		changed:   make(chan struct{}),
	}
}

func (q *Queue) Type() metadata.QueueType {
	return q.queueType
}

func (q *Queue) ExecuteCommandList(list metadata.CommandList) error {
	l := list.(*CommandList)
	if err := l.checkExecutable(); err != nil {
		return err
	}
	q.mu.Lock()
	q.executed = append(q.executed, l)
	q.mu.Unlock()
	return nil
}

func (q *Queue) Signal(value metadata.FenceValue) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.signalled = value
	if !q.manual {
		q.advance(value)
	}
	return nil
}

func (q *Queue) CompletedValue() metadata.FenceValue {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries++
	return q.completed
}

// Queries counts CompletedValue calls.
func (q *Queue) Queries() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queries
}

func (q *Queue) WaitForValue(ctx context.Context, value metadata.FenceValue) error {
	for {
		q.mu.Lock()
		if value <= q.completed {
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) WaitOnQueue(other metadata.HardwareQueue, value metadata.FenceValue) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waits = append(q.waits, value)
	return nil
}

// GPUWaits lists the values passed to WaitOnQueue.
func (q *Queue) GPUWaits() []metadata.FenceValue {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]metadata.FenceValue(nil), q.waits...)
}

// Complete pretends the GPU reached value. Values beyond the last signal
// are clamped to it.
func (q *Queue) Complete(value metadata.FenceValue) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if value > q.signalled {
		value = q.signalled
	}
	q.advance(value)
}

// CompleteAll finishes everything signalled so far.
func (q *Queue) CompleteAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.advance(q.signalled)
}

func (q *Queue) advance(value metadata.FenceValue) {
	if value <= q.completed {
		return
	}
	q.completed = value
	close(q.changed)
	q.changed = make(chan struct{})
}

// Executed returns the lists executed so far, oldest first.
func (q *Queue) Executed() []*CommandList {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*CommandList(nil), q.executed...)
}

func (q *Queue) Destroy() {}
