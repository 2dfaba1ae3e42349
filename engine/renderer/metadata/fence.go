package metadata

import "fmt"

/** @brief Hardware queue families a command list can be submitted to. */
type QueueType uint8

const (
	QueueTypeGraphics QueueType = iota
	QueueTypeCompute
	QueueTypeCopy
	QueueTypeCount
)

func (q QueueType) String() string {
	switch q {
	case QueueTypeGraphics:
		return "graphics"
	case QueueTypeCompute:
		return "compute"
	case QueueTypeCopy:
		return "copy"
	default:
		return fmt.Sprintf("queue(%d)", uint8(q))
	}
}

/** @brief Number of bits the queue type is shifted by inside a FenceValue. */
const FenceQueueShift = 56

const fenceCounterMask = uint64(1)<<FenceQueueShift - 1

/**
 * @brief A monotonically increasing GPU completion counter. The high byte
 * holds the QueueType of the queue that signals it, so a single value is
 * enough to route a wait to the right queue.
 */
type FenceValue uint64

/** @brief The value a queue reports as completed before anything was submitted. */
func InitialFenceValue(q QueueType) FenceValue {
	return FenceValue(uint64(q) << FenceQueueShift)
}

func (v FenceValue) QueueType() QueueType {
	return QueueType(uint64(v) >> FenceQueueShift)
}

func (v FenceValue) Counter() uint64 {
	return uint64(v) & fenceCounterMask
}

func (v FenceValue) String() string {
	return fmt.Sprintf("%s:%d", v.QueueType(), v.Counter())
}

/**
 * @brief Reports whether the GPU finished the work guarded by a fence value.
 * Recyclers take one of these instead of talking to queues directly.
 */
type FenceChecker func(FenceValue) bool
