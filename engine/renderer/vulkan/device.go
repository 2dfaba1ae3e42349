package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	// Family and queue handle per metadata.QueueType. Types without a
	// dedicated family share the graphics one.
	QueueFamilyIndices [metadata.QueueTypeCount]uint32
	Queues             [metadata.QueueTypeCount]vk.Queue

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex uint32
	ComputeFamilyIndex  uint32
	TransferFamilyIndex uint32
}

func DeviceCreate(context *VulkanContext) error {
	context.Device = &VulkanDevice{}
	if err := SelectPhysicalDevice(context); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	indices := []uint32{}
	for _, family := range context.Device.QueueFamilyIndices {
		shared := false
		for _, idx := range indices {
			if idx == family {
				shared = true
				break
			}
		}
		if !shared {
			indices = append(indices, family)
		}
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i := range indices {
		queueCreateInfos[i].SType = vk.StructureTypeDeviceQueueCreateInfo
		queueCreateInfos[i].QueueFamilyIndex = indices[i]
		queueCreateInfos[i].QueueCount = 1
		queueCreateInfos[i].PQueuePriorities = []float32{1.0}
		context.locks.SetQueueFamily(indices[i])
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueCreateInfos)),
		PQueueCreateInfos:    queueCreateInfos,
		PEnabledFeatures:     []vk.PhysicalDeviceFeatures{{}},
	}
	if extensions := portabilityExtensions(context.Device.PhysicalDevice); len(extensions) > 0 {
		deviceCreateInfo.EnabledExtensionCount = uint32(len(extensions))
		deviceCreateInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	}

	var device vk.Device
	if res := vk.CreateDevice(context.Device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &device); res != vk.Success {
		return vulkanError("vkCreateDevice", res)
	}
	context.Device.LogicalDevice = device
	core.LogInfo("Logical device created.")

	for qt := metadata.QueueType(0); qt < metadata.QueueTypeCount; qt++ {
		var queue vk.Queue
		vk.GetDeviceQueue(device, context.Device.QueueFamilyIndices[qt], 0, &queue)
		context.Device.Queues[qt] = queue
	}
	core.LogInfo("Queues obtained.")

	if !DeviceDetectDepthFormat(context.Device) {
		return fmt.Errorf("failed to find a supported depth format")
	}
	return nil
}

// portabilityExtensions enables VK_KHR_portability_subset when the driver
// advertises it, as MoltenVK requires.
func portabilityExtensions(physicalDevice vk.PhysicalDevice) []string {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(physicalDevice, "", &count, nil); res != vk.Success || count == 0 {
		return nil
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(physicalDevice, "", &count, available); res != vk.Success {
		return nil
	}
	for i := range available {
		available[i].Deref()
		end := FindFirstZeroInByteArray(available[i].ExtensionName[:])
		if string(available[i].ExtensionName[:end]) == "VK_KHR_portability_subset" {
			core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
			return []string{"VK_KHR_portability_subset"}
		}
	}
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	if context.Device == nil {
		return
	}
	context.Device.Queues = [metadata.QueueTypeCount]vk.Queue{}

	// Destroy logical device
	core.LogInfo("Destroying logical device...")
	if context.Device.LogicalDevice != nil {
		vk.DestroyDevice(context.Device.LogicalDevice, context.Allocator)
		context.Device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	context.Device.PhysicalDevice = nil
}

func SelectPhysicalDevice(context *VulkanContext) error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return vulkanError("vkEnumeratePhysicalDevices", res)
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found")
	}

	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return vulkanError("vkEnumeratePhysicalDevices", res)
	}

	for i := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(physicalDevices[i], &properties)
		properties.Deref()

		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(physicalDevices[i], &features)
		features.Deref()

		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(physicalDevices[i], &memory)
		memory.Deref()

		queueInfo, ok := PhysicalDeviceQueueFamilies(physicalDevices[i])
		if !ok {
			continue
		}

		end := FindFirstZeroInByteArray(properties.DeviceName[:])
		core.LogInfo("Selected device: '%s'.", string(properties.DeviceName[:end]))
		core.LogInfo(
			"Vulkan API version: %d.%d.%d",
			vk.Version(properties.ApiVersion).Major(),
			vk.Version(properties.ApiVersion).Minor(),
			vk.Version(properties.ApiVersion).Patch(),
		)

		// Memory information
		for j := uint32(0); j < memory.MemoryHeapCount; j++ {
			memory.MemoryHeaps[j].Deref()
			memorySizeGib := memory.MemoryHeaps[j].Size / 1024 / 1024 / 1024
			if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
				core.LogInfo("Local GPU memory: %d GiB", memorySizeGib)
			} else {
				core.LogInfo("Shared System memory: %d GiB", memorySizeGib)
			}
		}

		context.Device.PhysicalDevice = physicalDevices[i]
		context.Device.QueueFamilyIndices[metadata.QueueTypeGraphics] = queueInfo.GraphicsFamilyIndex
		context.Device.QueueFamilyIndices[metadata.QueueTypeCompute] = queueInfo.ComputeFamilyIndex
		context.Device.QueueFamilyIndices[metadata.QueueTypeCopy] = queueInfo.TransferFamilyIndex

		// Keep a copy of properties, features and memory info for later use.
		context.Device.Properties = properties
		context.Device.Features = features
		context.Device.Memory = memory
		core.LogInfo("Physical device selected.")
		return nil
	}

	return fmt.Errorf("no physical devices were found which meet the requirements")
}

// PhysicalDeviceQueueFamilies picks a graphics family plus the most dedicated
// compute and transfer families. Compute and transfer fall back to the
// graphics family.
func PhysicalDeviceQueueFamilies(device vk.PhysicalDevice) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	const none = ^uint32(0)
	info := VulkanPhysicalDeviceQueueFamilyInfo{
		GraphicsFamilyIndex: none,
		ComputeFamilyIndex:  none,
		TransferFamilyIndex: none,
	}
	minComputeScore, minTransferScore := 255, 255

	core.LogDebug("Graphics | Compute | Transfer | Family")
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := vk.QueueFlagBits(queueFamilies[i].QueueFlags)
		graphics := flags&vk.QueueGraphicsBit != 0
		compute := flags&vk.QueueComputeBit != 0
		transfer := flags&vk.QueueTransferBit != 0
		core.LogDebug("%8t | %7t | %8t | %d", graphics, compute, transfer, i)

		score := 0
		if graphics {
			score++
			if info.GraphicsFamilyIndex == none {
				info.GraphicsFamilyIndex = uint32(i)
			}
		}
		// Take the index if it is the current lowest. This increases the
		// liklihood that it is a dedicated queue.
		if compute && score < minComputeScore {
			minComputeScore = score
			info.ComputeFamilyIndex = uint32(i)
		}
		if compute {
			score++
		}
		if transfer && score < minTransferScore {
			minTransferScore = score
			info.TransferFamilyIndex = uint32(i)
		}
	}

	if info.GraphicsFamilyIndex == none {
		core.LogInfo("Device has no graphics queue. Skipping.")
		return info, false
	}
	if info.ComputeFamilyIndex == none {
		info.ComputeFamilyIndex = info.GraphicsFamilyIndex
	}
	if info.TransferFamilyIndex == none {
		info.TransferFamilyIndex = info.GraphicsFamilyIndex
	}
	return info, true
}

func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	// Format candidates
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}

	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()

		if (properties.LinearTilingFeatures&flags) == flags || (properties.OptimalTilingFeatures&flags) == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	return false
}
