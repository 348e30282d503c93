package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/automata/engine/core"
)

const validationLayerName = "VK_LAYER_KHRONOS_validation"

// SurfaceProvider is the window side of the renderer: it knows the instance
// extensions it needs, how to build a surface and the current framebuffer size.
type SurfaceProvider interface {
	RequiredInstanceExtensions() []string
	CreateSurface(instance vk.Instance) (vk.Surface, error)
	FramebufferSize() (uint32, uint32)
}

// VulkanContext owns the instance, the surface and the logical device. It is
// created first and must be shut down last.
type VulkanContext struct {
	Driver Driver

	Instance vk.Instance
	Surface  vk.Surface

	debugMessenger vk.DebugReportCallback
	validation     bool

	Device *VulkanDevice

	// Components holding a reference to this context. Shutdown refuses to
	// destroy the device while this is not zero.
	dependents int
}

// ContextCreate builds the instance (with validation when requested), the
// surface and the logical device. Every handle created before a failure is
// released before returning.
func ContextCreate(driver Driver, appName string, validation bool, surfaces SurfaceProvider) (*VulkanContext, error) {
	ctx := &VulkanContext{
		Driver:     driver,
		validation: validation,
		Device:     &VulkanDevice{Families: noQueueFamilies()},
	}
	created := false
	defer func() {
		if !created {
			ctx.destroyInstanceObjects()
		}
	}()

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Automata Engine"),
	}

	extensions := []string{"VK_KHR_surface"}
	for _, e := range surfaces.RequiredInstanceExtensions() {
		if !containsString(extensions, e) {
			extensions = append(extensions, e)
		}
	}
	var flags vk.InstanceCreateFlags
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		flags |= 1
	}

	layers := []string{}
	if validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		core.LogInfo("Validation layers enabled. Enumerating...")
		available, res := driver.EnumerateInstanceLayers()
		if res != vk.Success {
			return nil, errors.Mark(vkError(res, "enumerating instance layers"), core.ErrDeviceInit)
		}
		if !containsString(available, validationLayerName) {
			return nil, errors.Mark(errors.Newf("required validation layer is missing: %s", validationLayerName), core.ErrDeviceInit)
		}
		core.LogInfo("All required validation layers are present.")
		layers = append(layers, validationLayerName)
	}

	for _, e := range extensions {
		core.LogDebug("Required instance extension: %s", e)
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		Flags:                   flags,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     VulkanSafeStrings(layers),
	}
	instance, res := driver.CreateInstance(&createInfo)
	if res != vk.Success {
		return nil, errors.Mark(vkError(res, "creating the Vulkan instance"), core.ErrDeviceInit)
	}
	ctx.Instance = instance
	core.LogInfo("Vulkan Instance created.")

	if validation {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		dbg, res := driver.CreateDebugReportCallback(ctx.Instance, &debugCreateInfo)
		if res != vk.Success {
			return nil, vkError(res, "creating the debug report callback")
		}
		ctx.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, serr := surfaces.CreateSurface(ctx.Instance)
	if serr != nil {
		return nil, errors.Mark(errors.Wrap(serr, "creating the window surface"), core.ErrDeviceInit)
	}
	ctx.Surface = surface
	core.LogDebug("Vulkan surface created.")

	if err := DeviceCreate(ctx); err != nil {
		return nil, err
	}
	created = true
	return ctx, nil
}

// Shutdown destroys the logical device, the surface, the debug callback and
// the instance. Every component built on top of the context must have been
// destroyed before.
func (vc *VulkanContext) Shutdown() error {
	if vc.dependents != 0 {
		return errors.AssertionFailedf("vulkan context shut down with %d live dependents", vc.dependents)
	}
	core.LogDebug("Destroying Vulkan device...")
	DeviceDestroy(vc)
	vc.destroyInstanceObjects()
	return nil
}

func (vc *VulkanContext) destroyInstanceObjects() {
	if vc.Instance == nil {
		return
	}
	if vc.Surface != nil {
		core.LogDebug("Destroying Vulkan surface...")
		vc.Driver.DestroySurface(vc.Instance, vc.Surface)
		vc.Surface = nil
	}
	if vc.debugMessenger != nil {
		core.LogDebug("Destroying Vulkan debugger...")
		vc.Driver.DestroyDebugReportCallback(vc.Instance, vc.debugMessenger)
		vc.debugMessenger = nil
	}
	core.LogDebug("Destroying Vulkan instance...")
	vc.Driver.DestroyInstance(vc.Instance)
	vc.Instance = nil
}

func (vc *VulkanContext) retain() {
	vc.dependents++
}

func (vc *VulkanContext) release() {
	if vc.dependents > 0 {
		vc.dependents--
	}
}

func (vc *VulkanContext) LogicalDevice() vk.Device {
	return vc.Device.LogicalDevice
}

func (vc *VulkanContext) GraphicsQueue() vk.Queue {
	return vc.Device.GraphicsQueue
}

func (vc *VulkanContext) PresentQueue() vk.Queue {
	return vc.Device.PresentQueue
}

func (vc *VulkanContext) QueueFamilies() QueueFamilyIndices {
	return vc.Device.Families
}

func (vc *VulkanContext) ValidationEnabled() bool {
	return vc.validation
}

// WaitIdle blocks until the device has finished every submitted operation.
func (vc *VulkanContext) WaitIdle() error {
	if vc.Device == nil || vc.Device.LogicalDevice == nil {
		return nil
	}
	if res := vc.Driver.DeviceWaitIdle(vc.Device.LogicalDevice); res != vk.Success {
		return vkError(res, "vkDeviceWaitIdle")
	}
	return nil
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that has
// all of propertyFlags.
func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, bool) {
	memory := vc.Device.Memory
	for i := uint32(0); i < memory.MemoryTypeCount; i++ {
		if typeFilter&(1<<i) != 0 && memory.MemoryTypes[i].PropertyFlags&propertyFlags == propertyFlags {
			return i, true
		}
	}
	return 0, false
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
		core.LogDebug("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
