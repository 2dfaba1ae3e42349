package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// bufferAddressAlignment spaces the virtual GPU addresses handed to buffers.
const bufferAddressAlignment = 0x10000

// Buffer is a VkBuffer with dedicated memory. CPU-writable buffers stay
// mapped for their whole lifetime.
type Buffer struct {
	metadata.StateTracker

	device  *Device
	name    string
	kind    metadata.MemoryKind
	Handle  vk.Buffer
	Memory  vk.DeviceMemory
	size    uint64
	address uint64
	mapped  []byte
}

func (d *Device) CreateBuffer(name string, size uint64, kind metadata.MemoryKind) (metadata.Buffer, error) {
	ctx := d.context
	usage := vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit | vk.BufferUsageUniformBufferBit |
		vk.BufferUsageStorageBufferBit | vk.BufferUsageVertexBufferBit | vk.BufferUsageIndexBufferBit

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(ctx.Device.LogicalDevice, &bufferInfo, ctx.Allocator, &handle); res != vk.Success {
		return nil, vulkanError("vkCreateBuffer", res)
	}
	b := &Buffer{device: d, name: name, kind: kind, Handle: handle, size: size}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.Device.LogicalDevice, handle, &memReqs)
	memReqs.Deref()

	properties := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if kind == metadata.MemoryKindCPUWritable {
		properties = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	memoryType, err := ctx.FindMemoryIndex(memReqs.MemoryTypeBits, properties)
	if err != nil {
		b.Destroy()
		return nil, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryType,
	}
	var memory vk.DeviceMemory
	if err := ctx.locks.SafeCall(MemoryManagement, func() error {
		return vulkanError("vkAllocateMemory", vk.AllocateMemory(ctx.Device.LogicalDevice, &allocInfo, ctx.Allocator, &memory))
	}); err != nil {
		b.Destroy()
		return nil, err
	}
	b.Memory = memory
	if res := vk.BindBufferMemory(ctx.Device.LogicalDevice, handle, memory, 0); res != vk.Success {
		b.Destroy()
		return nil, vulkanError("vkBindBufferMemory", res)
	}

	if kind == metadata.MemoryKindCPUWritable {
		var data unsafe.Pointer
		if res := vk.MapMemory(ctx.Device.LogicalDevice, memory, 0, vk.DeviceSize(size), 0, &data); res != vk.Success {
			b.Destroy()
			return nil, vulkanError("vkMapMemory", res)
		}
		b.mapped = unsafe.Slice((*byte)(data), size)
	}

	span := (size + bufferAddressAlignment - 1) &^ (bufferAddressAlignment - 1)
	b.address = d.nextAddress.Add(span) - span
	return b, nil
}

func (b *Buffer) Name() string {
	return b.name
}

func (b *Buffer) Size() uint64 {
	return b.size
}

func (b *Buffer) GPUAddress() uint64 {
	return b.address
}

func (b *Buffer) Mapped() []byte {
	return b.mapped
}

// resolve turns a virtual GPU address back into the buffer offset it names.
func (b *Buffer) resolve(address uint64) (uint64, bool) {
	if address < b.address || address >= b.address+b.size {
		return 0, false
	}
	return address - b.address, true
}

func (b *Buffer) Destroy() {
	ctx := b.device.context
	if b.mapped != nil {
		vk.UnmapMemory(ctx.Device.LogicalDevice, b.Memory)
		b.mapped = nil
	}
	if b.Handle != nil {
		vk.DestroyBuffer(ctx.Device.LogicalDevice, b.Handle, ctx.Allocator)
		b.Handle = nil
	}
	if b.Memory != nil {
		vk.FreeMemory(ctx.Device.LogicalDevice, b.Memory, ctx.Allocator)
		b.Memory = nil
	}
}
