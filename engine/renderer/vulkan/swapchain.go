package vulkan

import (
	"math"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/automata/engine/core"
	emath "github.com/spaghettifunk/automata/engine/math"
)

type SwapchainStage int

const (
	SwapchainUninitialized SwapchainStage = iota
	SwapchainCreated
	SwapchainRecreationPending
	// The window has a zero sized framebuffer (minimized). Nothing exists
	// until the size becomes non-zero again.
	SwapchainSuspended
	SwapchainDestroyed
)

func (s SwapchainStage) String() string {
	switch s {
	case SwapchainUninitialized:
		return "uninitialized"
	case SwapchainCreated:
		return "created"
	case SwapchainRecreationPending:
		return "recreation pending"
	case SwapchainSuspended:
		return "suspended"
	case SwapchainDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// SwapchainManager owns the chain together with everything sized after it:
// the image views, the depth buffer and one framebuffer per image. The
// render pass survives recreation unless the surface format changes.
type SwapchainManager struct {
	Handle vk.Swapchain

	context   *VulkanContext
	surfaces  SurfaceProvider
	resources *ResourceManager
	preferred vk.PresentMode

	stage       SwapchainStage
	format      vk.SurfaceFormat
	presentMode vk.PresentMode
	extent      vk.Extent2D
	images      []vk.Image
	views       []vk.ImageView

	renderPass   *VulkanRenderPass
	depth        ResourceHandle
	hasDepth     bool
	framebuffers []*VulkanFramebuffer
	// Bumped every time a new chain is built.
	generation uint64
}

func NewSwapchainManager(context *VulkanContext, surfaces SurfaceProvider, resources *ResourceManager, preferred vk.PresentMode) *SwapchainManager {
	context.retain()
	return &SwapchainManager{
		context:   context,
		surfaces:  surfaces,
		resources: resources,
		preferred: preferred,
		stage:     SwapchainUninitialized,
	}
}

func (sm *SwapchainManager) Stage() SwapchainStage {
	return sm.stage
}

func (sm *SwapchainManager) Extent() vk.Extent2D {
	return sm.extent
}

func (sm *SwapchainManager) ImageFormat() vk.SurfaceFormat {
	return sm.format
}

func (sm *SwapchainManager) PresentMode() vk.PresentMode {
	return sm.presentMode
}

func (sm *SwapchainManager) ImageCount() int {
	return len(sm.images)
}

func (sm *SwapchainManager) Image(i uint32) vk.Image {
	return sm.images[i]
}

func (sm *SwapchainManager) View(i uint32) vk.ImageView {
	return sm.views[i]
}

func (sm *SwapchainManager) Generation() uint64 {
	return sm.generation
}

// RenderPass is nil until the first chain was built.
func (sm *SwapchainManager) RenderPass() *VulkanRenderPass {
	return sm.renderPass
}

func (sm *SwapchainManager) Framebuffer(i uint32) *VulkanFramebuffer {
	return sm.framebuffers[i]
}

// Create builds the swapchain for a window of the given size. A zero size, or
// a surface reporting a zero current extent, suspends the manager instead.
func (sm *SwapchainManager) Create(width, height uint32) error {
	switch sm.stage {
	case SwapchainCreated, SwapchainRecreationPending:
		return errors.AssertionFailedf("swapchain created twice")
	case SwapchainDestroyed:
		return errors.AssertionFailedf("swapchain created after destroy")
	}
	return sm.build(width, height)
}

// Recreate drains the device, releases the current chain and builds a new
// one for the given size.
func (sm *SwapchainManager) Recreate(width, height uint32) error {
	if sm.stage == SwapchainDestroyed {
		return errors.AssertionFailedf("swapchain recreated after destroy")
	}
	if err := sm.context.WaitIdle(); err != nil {
		return errors.Wrap(err, "waiting for the device before swapchain recreation")
	}
	if err := sm.release(); err != nil {
		return err
	}
	return sm.build(width, height)
}

// EnsureCurrent recreates the chain from the window size when it is pending
// or suspended. It returns ErrSwapchainBooting while there is nothing to
// render to.
func (sm *SwapchainManager) EnsureCurrent() error {
	switch sm.stage {
	case SwapchainCreated:
		return nil
	case SwapchainDestroyed:
		return errors.AssertionFailedf("swapchain used after destroy")
	case SwapchainUninitialized, SwapchainRecreationPending, SwapchainSuspended:
		width, height := sm.surfaces.FramebufferSize()
		if err := sm.Recreate(width, height); err != nil {
			return err
		}
	}
	if sm.stage == SwapchainSuspended {
		return core.ErrSwapchainBooting
	}
	return nil
}

// MarkRecreationPending schedules a rebuild at the next frame boundary.
func (sm *SwapchainManager) MarkRecreationPending() {
	if sm.stage == SwapchainCreated {
		sm.stage = SwapchainRecreationPending
	}
}

// AcquireNextImage acquires the next presentable image and signals sem when it
// can be written. A suboptimal chain still returns a valid image.
func (sm *SwapchainManager) AcquireNextImage(sem vk.Semaphore, timeoutNs uint64) (uint32, error) {
	index, res := sm.context.Driver.AcquireNextImage(sm.context.LogicalDevice(), sm.Handle, timeoutNs, sem, nil)
	switch res {
	case vk.Success:
		return index, nil
	case vk.Suboptimal:
		sm.MarkRecreationPending()
		return index, nil
	case vk.ErrorOutOfDate:
		sm.MarkRecreationPending()
		return 0, vkError(res, "acquiring swapchain image")
	default:
		return 0, vkError(res, "acquiring swapchain image")
	}
}

// Present queues image index for presentation once wait is signaled. The
// result is classified but not acted on.
func (sm *SwapchainManager) Present(queue vk.Queue, wait vk.Semaphore, index uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sm.Handle},
		PImageIndices:      []uint32{index},
	}
	res := sm.context.Driver.QueuePresent(queue, &presentInfo)
	if res == vk.Success {
		return nil
	}
	return vkError(res, "presenting swapchain image %d", index)
}

// Destroy releases the framebuffers, the depth buffer, the views, the chain
// and the render pass. Images belong to the chain.
func (sm *SwapchainManager) Destroy() {
	if sm.stage == SwapchainDestroyed {
		return
	}
	if err := sm.release(); err != nil {
		core.LogError("releasing the swapchain: %v", err)
	}
	if sm.renderPass != nil {
		sm.renderPass.Destroy()
		sm.renderPass = nil
	}
	sm.stage = SwapchainDestroyed
	sm.context.release()
}

func (sm *SwapchainManager) release() error {
	device := sm.context.LogicalDevice()
	for _, fb := range sm.framebuffers {
		fb.Destroy(sm.context)
	}
	sm.framebuffers = nil
	var err error
	if sm.hasDepth {
		err = sm.resources.Destroy(sm.depth)
		sm.hasDepth = false
	}
	for _, view := range sm.views {
		sm.context.Driver.DestroyImageView(device, view)
	}
	sm.views = nil
	sm.images = nil
	if sm.Handle != nil {
		sm.context.Driver.DestroySwapchain(device, sm.Handle)
		sm.Handle = nil
	}
	return err
}

func (sm *SwapchainManager) build(width, height uint32) (err error) {
	driver := sm.context.Driver
	device := sm.context.LogicalDevice()
	sm.stage = SwapchainUninitialized

	support, err := DeviceQuerySwapchainSupport(driver, sm.context.Device.PhysicalDevice, sm.context.Surface)
	if err != nil {
		return err
	}
	sm.context.Device.SwapchainSupport = support
	caps := support.Capabilities

	extent, ok := chooseSwapExtent(caps, width, height)
	if !ok {
		core.LogDebug("Framebuffer is %dx%d, suspending swapchain.", width, height)
		sm.stage = SwapchainSuspended
		sm.extent = vk.Extent2D{}
		return nil
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return errors.Mark(errors.New("surface reports no formats or present modes"), core.ErrDeviceInit)
	}

	format := chooseSurfaceFormat(support.Formats)
	presentMode := choosePresentMode(support.PresentModes, sm.preferred)
	imageCount := chooseImageCount(caps)

	// Frames are cleared and drawn by the render pass only.
	usage := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          sm.context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       usage,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
	}
	families := sm.context.QueueFamilies()
	if families.Graphics != families.Present {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{uint32(families.Graphics), uint32(families.Present)}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	handle, res := driver.CreateSwapchain(device, &createInfo)
	if res != vk.Success {
		return vkError(res, "creating swapchain %dx%d", extent.Width, extent.Height)
	}
	sm.Handle = handle
	defer func() {
		if err != nil {
			err = errors.CombineErrors(err, sm.release())
		}
	}()

	images, res := driver.GetSwapchainImages(device, handle)
	if res != vk.Success {
		return vkError(res, "getting swapchain images")
	}
	sm.images = images

	sm.views = make([]vk.ImageView, 0, len(images))
	for _, image := range images {
		viewInfo := vk.ImageViewCreateInfo{
			SType:            vk.StructureTypeImageViewCreateInfo,
			Image:            image,
			ViewType:         vk.ImageViewType2d,
			Format:           format.Format,
			SubresourceRange: colorSubresourceRange(),
		}
		view, res := driver.CreateImageView(device, &viewInfo)
		if res != vk.Success {
			return vkError(res, "creating swapchain image view")
		}
		sm.views = append(sm.views, view)
	}

	if sm.renderPass != nil && sm.renderPass.ColorFormat != format.Format {
		sm.renderPass.Destroy()
		sm.renderPass = nil
	}
	if sm.renderPass == nil {
		if sm.renderPass, err = RenderPassCreate(sm.context, format.Format, sm.context.Device.DepthFormat); err != nil {
			return err
		}
	}
	if sm.depth, err = sm.resources.CreateDepthImage(extent.Width, extent.Height, sm.context.Device.DepthFormat); err != nil {
		return errors.Wrap(err, "creating the depth buffer")
	}
	sm.hasDepth = true
	depth, err := sm.resources.Image(sm.depth)
	if err != nil {
		return err
	}
	sm.framebuffers = make([]*VulkanFramebuffer, 0, len(sm.views))
	for _, view := range sm.views {
		fb, err := FramebufferCreate(sm.context, sm.renderPass, extent.Width, extent.Height, []vk.ImageView{view, depth.View})
		if err != nil {
			return err
		}
		sm.framebuffers = append(sm.framebuffers, fb)
	}

	sm.format = format
	sm.presentMode = presentMode
	sm.extent = extent
	sm.stage = SwapchainCreated
	sm.generation++
	core.LogInfo("Swapchain created: %dx%d, %d images.", extent.Width, extent.Height, len(images))
	return nil
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Srgb && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return formats[0]
}

// choosePresentMode honours the preference when available, then mailbox,
// then FIFO which every implementation supports.
func choosePresentMode(modes []vk.PresentMode, preferred vk.PresentMode) vk.PresentMode {
	for _, m := range modes {
		if m == preferred {
			return m
		}
	}
	for _, m := range modes {
		if m == vk.PresentModeMailbox {
			return m
		}
	}
	return vk.PresentModeFifo
}

// chooseSwapExtent returns false when there is nothing to present to.
func chooseSwapExtent(caps vk.SurfaceCapabilities, width, height uint32) (vk.Extent2D, bool) {
	var extent vk.Extent2D
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	} else {
		extent = vk.Extent2D{
			Width:  emath.Clamp(width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
			Height: emath.Clamp(height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
		}
	}
	if width == 0 || height == 0 || extent.Width == 0 || extent.Height == 0 {
		return vk.Extent2D{}, false
	}
	return extent, true
}

func chooseImageCount(caps vk.SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}
