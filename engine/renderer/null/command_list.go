package null

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type Op uint8

const (
	OpResourceBarrier Op = iota
	OpSetDescriptorHeaps
	OpSetPipelineState
	OpSetGraphicsRootDescriptorTable
	OpSetComputeRootDescriptorTable
	OpSetGraphicsRootConstantBufferView
	OpSetComputeRootConstantBufferView
	OpBeginRenderPass
	OpEndRenderPass
	OpDraw
	OpDrawIndexed
	OpDispatch
	OpCopyBufferRegion
)

// Command is one recorded call. Only the fields relevant to Op are set.
type Command struct {
	Op        Op
	Barriers  []metadata.ResourceBarrier
	Heaps     []metadata.DescriptorHeap
	Pipeline  metadata.PipelineState
	Root      uint32
	Base      metadata.DescriptorHandle
	Address   uint64
	Colour    []metadata.GPUResource
	Depth     metadata.GPUResource
	Counts    [3]uint32
	Src       metadata.Buffer
	Dst       metadata.Buffer
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type CommandAllocator struct {
	device    *Device
	queueType metadata.QueueType
	resets    int
}

func (a *CommandAllocator) Reset() error {
	a.resets++
	return nil
}

// Resets counts how many times the allocator was recycled.
func (a *CommandAllocator) Resets() int {
	return a.resets
}

func (a *CommandAllocator) Destroy() {
	a.device.release("allocator")
}

type CommandList struct {
	device    *Device
	queueType metadata.QueueType
	allocator metadata.CommandAllocator
	closed    bool
	commands  []Command
}

func (l *CommandList) Type() metadata.QueueType {
	return l.queueType
}

func (l *CommandList) Close() error {
	if l.closed {
		return fmt.Errorf("%s command list closed twice", l.queueType)
	}
	l.closed = true
	return nil
}

func (l *CommandList) Reset(allocator metadata.CommandAllocator) error {
	if !l.closed {
		return fmt.Errorf("%s command list reset while recording", l.queueType)
	}
	l.closed = false
	l.allocator = allocator
	l.commands = nil
	return nil
}

func (l *CommandList) checkExecutable() error {
	if !l.closed {
		return fmt.Errorf("%s command list executed while recording", l.queueType)
	}
	return nil
}

// Commands returns what was recorded since the last Reset.
func (l *CommandList) Commands() []Command {
	return l.commands
}

// Count returns how many commands of op were recorded.
func (l *CommandList) Count(op Op) int {
	n := 0
	for _, c := range l.commands {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (l *CommandList) record(c Command) {
	l.commands = append(l.commands, c)
}

func (l *CommandList) ResourceBarrier(barriers []metadata.ResourceBarrier) {
	l.record(Command{Op: OpResourceBarrier, Barriers: append([]metadata.ResourceBarrier(nil), barriers...)})
}

func (l *CommandList) SetDescriptorHeaps(heaps []metadata.DescriptorHeap) {
	l.record(Command{Op: OpSetDescriptorHeaps, Heaps: append([]metadata.DescriptorHeap(nil), heaps...)})
}

func (l *CommandList) SetPipelineState(pso metadata.PipelineState) {
	l.record(Command{Op: OpSetPipelineState, Pipeline: pso})
}

func (l *CommandList) SetGraphicsRootDescriptorTable(rootIndex uint32, base metadata.DescriptorHandle) {
	l.record(Command{Op: OpSetGraphicsRootDescriptorTable, Root: rootIndex, Base: base})
}

func (l *CommandList) SetComputeRootDescriptorTable(rootIndex uint32, base metadata.DescriptorHandle) {
	l.record(Command{Op: OpSetComputeRootDescriptorTable, Root: rootIndex, Base: base})
}

func (l *CommandList) SetGraphicsRootConstantBufferView(rootIndex uint32, address uint64) {
	l.record(Command{Op: OpSetGraphicsRootConstantBufferView, Root: rootIndex, Address: address})
}

func (l *CommandList) SetComputeRootConstantBufferView(rootIndex uint32, address uint64) {
	l.record(Command{Op: OpSetComputeRootConstantBufferView, Root: rootIndex, Address: address})
}

func (l *CommandList) BeginRenderPass(colour []metadata.GPUResource, depth metadata.GPUResource) {
	l.record(Command{Op: OpBeginRenderPass, Colour: append([]metadata.GPUResource(nil), colour...), Depth: depth})
}

func (l *CommandList) EndRenderPass() {
	l.record(Command{Op: OpEndRenderPass})
}

func (l *CommandList) Draw(vertexCount, instanceCount, startVertex, startInstance uint32) {
	l.record(Command{Op: OpDraw, Counts: [3]uint32{vertexCount, instanceCount, startVertex}})
}

func (l *CommandList) DrawIndexed(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	l.record(Command{Op: OpDrawIndexed, Counts: [3]uint32{indexCount, instanceCount, startIndex}})
}

func (l *CommandList) Dispatch(groupsX, groupsY, groupsZ uint32) {
	l.record(Command{Op: OpDispatch, Counts: [3]uint32{groupsX, groupsY, groupsZ}})
}

func (l *CommandList) CopyBufferRegion(dst metadata.Buffer, dstOffset uint64, src metadata.Buffer, srcOffset uint64, size uint64) {
	l.record(Command{Op: OpCopyBufferRegion, Dst: dst, DstOffset: dstOffset, Src: src, SrcOffset: srcOffset, Size: size})
	if in, out := src.Mapped(), dst.Mapped(); in != nil && out != nil {
		copy(out[dstOffset:dstOffset+size], in[srcOffset:srcOffset+size])
	}
}

func (l *CommandList) Destroy() {
	l.device.release("list")
}
