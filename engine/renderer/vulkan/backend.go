package vulkan

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Device is a headless metadata.Device on top of a Vulkan 1.0 logical
// device.
type Device struct {
	context     *VulkanContext
	queues      [metadata.QueueTypeCount]*Queue
	nextAddress atomic.Uint64
	debug       bool
}

func NewDevice(appName string, debug bool) (*Device, error) {
	vk.SetDefaultGetInstanceProcAddr()
	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return nil, err
	}

	d := &Device{
		context: &VulkanContext{
			// TODO: custom allocator.
			Allocator: nil,
			locks:     NewVulkanLockPool(),
		},
		debug: debug,
	}
	// address 0 means "no buffer"
	d.nextAddress.Store(bufferAddressAlignment)

	if err := d.createInstance(appName); err != nil {
		return nil, err
	}
	if err := DeviceCreate(d.context); err != nil {
		d.Destroy()
		return nil, err
	}
	return d, nil
}

func (d *Device) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Anima RHI"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := []string{}
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}
	layers := []string{}
	if d.debug {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = append(layers, "VK_LAYER_KHRONOS_validation")
		if err := checkValidationLayers(layers); err != nil {
			return err
		}
	}
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&createInfo, d.context.Allocator, &d.context.Instance); res != vk.Success {
		return vulkanError("vkCreateInstance", res)
	}
	if err := vk.InitInstance(d.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	if d.debug {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(d.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		d.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func checkValidationLayers(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return vulkanError("vkEnumerateInstanceLayerProperties", res)
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return vulkanError("vkEnumerateInstanceLayerProperties", res)
	}

	for _, name := range required {
		found := false
		for j := range available {
			available[j].Deref()
			end := FindFirstZeroInByteArray(available[j].LayerName[:])
			if name == string(available[j].LayerName[:end]) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("required validation layer is missing: %s", name)
		}
	}
	core.LogInfo("All required validation layers are present.")
	return nil
}

func (d *Device) Name() string {
	return "vulkan"
}

func (d *Device) CreateCommandQueue(queueType metadata.QueueType) (metadata.HardwareQueue, error) {
	if queueType >= metadata.QueueTypeCount {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownQueue, queueType)
	}
	q := newQueue(d, queueType)
	d.queues[queueType] = q
	return q, nil
}

func (d *Device) Destroy() {
	ctx := d.context
	if ctx.Device != nil && ctx.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(ctx.Device.LogicalDevice)
	}
	for i, q := range d.queues {
		if q != nil {
			q.Destroy()
			d.queues[i] = nil
		}
	}
	DeviceDestroy(ctx)

	if ctx.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}
	if ctx.Instance != nil {
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

var _ metadata.Device = (*Device)(nil)
