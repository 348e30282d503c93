package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/automata/engine/core"
)

const portabilitySubsetExtension = "VK_KHR_portability_subset"

type VulkanDevice struct {
	PhysicalDevice   vk.PhysicalDevice
	LogicalDevice    vk.Device
	SwapchainSupport SwapchainSupportInfo
	Families         QueueFamilyIndices

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	TransferQueue vk.Queue
	ComputeQueue  vk.Queue

	Properties  vk.PhysicalDeviceProperties
	Memory      vk.PhysicalDeviceMemoryProperties
	DepthFormat vk.Format
}

type SwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// QueueFamilyIndices holds the resolved family of every queue kind, -1 when
// the device has none.
type QueueFamilyIndices struct {
	Graphics int32
	Present  int32
	Transfer int32
	Compute  int32
}

func (q QueueFamilyIndices) IsComplete() bool {
	return q.Graphics >= 0 && q.Present >= 0 && q.Transfer >= 0
}

func (q QueueFamilyIndices) HasCompute() bool {
	return q.Compute >= 0
}

// UniqueFamilies lists each family once, graphics first.
func (q QueueFamilyIndices) UniqueFamilies() []uint32 {
	unique := []uint32{}
	for _, f := range []int32{q.Graphics, q.Present, q.Transfer, q.Compute} {
		if f < 0 {
			continue
		}
		seen := false
		for _, u := range unique {
			if u == uint32(f) {
				seen = true
				break
			}
		}
		if !seen {
			unique = append(unique, uint32(f))
		}
	}
	return unique
}

func noQueueFamilies() QueueFamilyIndices {
	return QueueFamilyIndices{Graphics: -1, Present: -1, Transfer: -1, Compute: -1}
}

// DeviceCreate selects a physical device and creates the logical device with
// one queue per unique family.
func DeviceCreate(context *VulkanContext) error {
	if err := selectPhysicalDevice(context); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")
	driver := context.Driver
	families := context.Device.Families.UniqueFamilies()

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, family := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	available, res := driver.EnumerateDeviceExtensions(context.Device.PhysicalDevice)
	if res != vk.Success {
		return errors.Mark(vkError(res, "enumerating device extensions"), core.ErrDeviceInit)
	}
	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if containsString(available, portabilitySubsetExtension) {
		core.LogInfo("Adding required extension '%s'.", portabilitySubsetExtension)
		extensionNames = append(extensionNames, portabilitySubsetExtension)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}
	device, res := driver.CreateDevice(context.Device.PhysicalDevice, &deviceCreateInfo)
	if res != vk.Success {
		return errors.Mark(vkError(res, "creating the logical device"), core.ErrDeviceInit)
	}
	context.Device.LogicalDevice = device
	core.LogInfo("Logical device created.")

	fam := context.Device.Families
	context.Device.GraphicsQueue = driver.GetDeviceQueue(device, uint32(fam.Graphics), 0)
	context.Device.PresentQueue = driver.GetDeviceQueue(device, uint32(fam.Present), 0)
	context.Device.TransferQueue = driver.GetDeviceQueue(device, uint32(fam.Transfer), 0)
	if fam.HasCompute() {
		context.Device.ComputeQueue = driver.GetDeviceQueue(device, uint32(fam.Compute), 0)
	}
	core.LogInfo("Queues obtained.")
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	context.Device.GraphicsQueue = nil
	context.Device.PresentQueue = nil
	context.Device.TransferQueue = nil
	context.Device.ComputeQueue = nil

	if context.Device.LogicalDevice != nil {
		core.LogInfo("Destroying logical device...")
		context.Driver.DestroyDevice(context.Device.LogicalDevice)
		context.Device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	context.Device.PhysicalDevice = nil
	context.Device.SwapchainSupport = SwapchainSupportInfo{}
	context.Device.Families = noQueueFamilies()
	context.Device.DepthFormat = vk.FormatUndefined
}

// DeviceDetectDepthFormat returns the first candidate usable as a depth
// attachment with either tiling.
func DeviceDetectDepthFormat(driver Driver, pd vk.PhysicalDevice) (vk.Format, bool) {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range candidates {
		properties := driver.GetPhysicalDeviceFormatProperties(pd, candidate)
		if properties.LinearTilingFeatures&flags == flags || properties.OptimalTilingFeatures&flags == flags {
			return candidate, true
		}
	}
	return vk.FormatUndefined, false
}

// DeviceQuerySwapchainSupport reads the surface capabilities, formats and
// present modes of a physical device.
func DeviceQuerySwapchainSupport(driver Driver, physicalDevice vk.PhysicalDevice, surface vk.Surface) (SwapchainSupportInfo, error) {
	info := SwapchainSupportInfo{}
	caps, res := driver.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface)
	if res != vk.Success {
		return info, vkError(res, "querying surface capabilities")
	}
	info.Capabilities = caps
	formats, res := driver.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface)
	if res != vk.Success {
		return info, vkError(res, "querying surface formats")
	}
	info.Formats = formats
	modes, res := driver.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface)
	if res != vk.Success {
		return info, vkError(res, "querying surface present modes")
	}
	info.PresentModes = modes
	return info, nil
}

func selectPhysicalDevice(context *VulkanContext) error {
	driver := context.Driver
	devices, res := driver.EnumeratePhysicalDevices(context.Instance)
	if res != vk.Success {
		return errors.Mark(vkError(res, "enumerating physical devices"), core.ErrDeviceInit)
	}
	if len(devices) == 0 {
		return errors.Mark(errors.New("no devices which support Vulkan were found"), core.ErrDeviceInit)
	}

	bestScore := -1
	for _, pd := range devices {
		properties := driver.GetPhysicalDeviceProperties(pd)
		name := vk.ToString(properties.DeviceName[:])

		families, support, ok := physicalDeviceMeetsRequirements(driver, pd, context.Surface, name)
		if !ok {
			continue
		}
		depthFormat, ok := DeviceDetectDepthFormat(driver, pd)
		if !ok {
			core.LogInfo("Device '%s' has no usable depth format, skipping device.", name)
			continue
		}
		score := scoreDeviceType(properties.DeviceType)
		if score <= bestScore {
			continue
		}
		bestScore = score
		context.Device.PhysicalDevice = pd
		context.Device.Properties = properties
		context.Device.Memory = driver.GetPhysicalDeviceMemoryProperties(pd)
		context.Device.Families = families
		context.Device.SwapchainSupport = support
		context.Device.DepthFormat = depthFormat
	}

	if context.Device.PhysicalDevice == nil {
		return errors.Mark(errors.New("no physical devices were found which meet the requirements"), core.ErrDeviceInit)
	}
	logSelectedDevice(context.Device)
	return nil
}

func scoreDeviceType(t vk.PhysicalDeviceType) int {
	switch t {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return 1000
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return 100
	case vk.PhysicalDeviceTypeVirtualGpu:
		return 10
	default:
		return 1
	}
}

func logSelectedDevice(device *VulkanDevice) {
	properties := device.Properties
	core.LogInfo("Selected device: '%s'.", vk.ToString(properties.DeviceName[:]))
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	driverVersion := vk.Version(properties.DriverVersion)
	apiVersion := vk.Version(properties.ApiVersion)
	core.LogInfo("GPU Driver version: %d.%d.%d", driverVersion.Major(), driverVersion.Minor(), driverVersion.Patch())
	core.LogInfo("Vulkan API version: %d.%d.%d", apiVersion.Major(), apiVersion.Minor(), apiVersion.Patch())

	for j := uint32(0); j < device.Memory.MemoryHeapCount; j++ {
		heap := device.Memory.MemoryHeaps[j]
		sizeGiB := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if heap.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", sizeGiB)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", sizeGiB)
		}
	}
	f := device.Families
	core.LogDebug("Graphics Family Index: %d", f.Graphics)
	core.LogDebug("Present Family Index:  %d", f.Present)
	core.LogDebug("Transfer Family Index: %d", f.Transfer)
	core.LogDebug("Compute Family Index:  %d", f.Compute)
}

// resolveQueueFamilies picks the families for every queue kind. Graphics is
// the first graphics family, present prefers the graphics family, transfer
// and compute prefer the family that does the least else.
func resolveQueueFamilies(families []vk.QueueFamilyProperties, supportsPresent func(uint32) (bool, error)) (QueueFamilyIndices, error) {
	out := noQueueFamilies()
	minTransferScore := 255
	dedicatedCompute := false
	for i, family := range families {
		flags := family.QueueFlags
		graphics := flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		compute := flags&vk.QueueFlags(vk.QueueComputeBit) != 0
		transfer := flags&vk.QueueFlags(vk.QueueTransferBit) != 0

		transferScore := 0
		if graphics {
			transferScore++
			if out.Graphics < 0 {
				out.Graphics = int32(i)
			}
		}
		if compute {
			transferScore++
			if !dedicatedCompute && (out.Compute < 0 || !graphics) {
				out.Compute = int32(i)
				dedicatedCompute = !graphics
			}
		}
		// Graphics and compute families can always transfer.
		if transfer || graphics || compute {
			if transferScore < minTransferScore {
				minTransferScore = transferScore
				out.Transfer = int32(i)
			}
		}

		present, err := supportsPresent(uint32(i))
		if err != nil {
			return out, err
		}
		if present && (out.Present < 0 || out.Present != out.Graphics && int32(i) == out.Graphics) {
			out.Present = int32(i)
		}
	}
	return out, nil
}

func physicalDeviceMeetsRequirements(driver Driver, pd vk.PhysicalDevice, surface vk.Surface, name string) (QueueFamilyIndices, SwapchainSupportInfo, bool) {
	families, err := resolveQueueFamilies(driver.GetPhysicalDeviceQueueFamilyProperties(pd), func(i uint32) (bool, error) {
		ok, res := driver.GetPhysicalDeviceSurfaceSupport(pd, i, surface)
		if res != vk.Success {
			return false, vkError(res, "querying surface support")
		}
		return ok, nil
	})
	if err != nil {
		core.LogWarn("Device '%s': %v. Skipping.", name, err)
		return families, SwapchainSupportInfo{}, false
	}

	core.LogInfo("Graphics | Present | Compute | Transfer | Name")
	core.LogInfo("%8d | %7d | %7d | %8d | %s", families.Graphics, families.Present, families.Compute, families.Transfer, name)

	if !families.IsComplete() {
		core.LogInfo("Device '%s' does not meet queue requirements. Skipping.", name)
		return families, SwapchainSupportInfo{}, false
	}

	extensions, res := driver.EnumerateDeviceExtensions(pd)
	if res != vk.Success || !containsString(extensions, vk.KhrSwapchainExtensionName) {
		core.LogInfo("Required extension not found: '%s', skipping device.", trimNull(vk.KhrSwapchainExtensionName))
		return families, SwapchainSupportInfo{}, false
	}

	support, err := DeviceQuerySwapchainSupport(driver, pd, surface)
	if err != nil || len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return families, SwapchainSupportInfo{}, false
	}
	return families, support, true
}
