package vulkan

import (
	"math"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/automata/engine/core"
)

const maxAcquireRetries = 3

// DefaultClearColor is recorded into frames nobody drew into.
var DefaultClearColor = [4]float32{0.02, 0.02, 0.04, 1.0}

// FrameSlot holds everything one frame in flight needs. Slot i is reused by
// frames i, i+N, i+2N and so on.
type FrameSlot struct {
	Index          int
	ImageAvailable vk.Semaphore
	RenderFinished vk.Semaphore
	InFlight       *VulkanFence
	Pool           *CommandPool
	CommandBuffer  *VulkanCommandBuffer
}

// Frame is the frame currently being recorded.
type Frame struct {
	Number        uint64
	Slot          int
	ImageIndex    uint32
	Image         vk.Image
	View          vk.ImageView
	Extent        vk.Extent2D
	Format        vk.Format
	CommandBuffer *VulkanCommandBuffer
	RenderPass    *VulkanRenderPass
	Framebuffer   *VulkanFramebuffer

	presentable bool
}

// BeginRenderPass clears the image to color and the depth buffer to the far
// plane. Draws are recorded until EndRenderPass.
func (f *Frame) BeginRenderPass(color [4]float32) error {
	return f.RenderPass.Begin(f.CommandBuffer, f.Framebuffer, color)
}

// EndRenderPass leaves the image in PRESENT_SRC layout.
func (f *Frame) EndRenderPass() error {
	if err := f.RenderPass.End(f.CommandBuffer); err != nil {
		return err
	}
	f.presentable = true
	return nil
}

// Clear records an empty render pass that only clears the image to color.
func (f *Frame) Clear(color [4]float32) error {
	if err := f.BeginRenderPass(color); err != nil {
		return err
	}
	return f.EndRenderPass()
}

// FrameSync drives acquire, record, submit and present over a fixed number
// of frames in flight.
type FrameSync struct {
	context   *VulkanContext
	swapchain *SwapchainManager
	resources *ResourceManager

	slots []*FrameSlot
	// Fence of the slot that last rendered into each swapchain image.
	imagesInFlight      []*VulkanFence
	swapchainGeneration uint64

	frameNumber  uint64
	fenceTimeout uint64
	current      *Frame
}

// NewFrameSync creates framesInFlight slots. resources may be nil when no
// deferred destruction is needed.
func NewFrameSync(context *VulkanContext, swapchain *SwapchainManager, resources *ResourceManager, framesInFlight int, fenceTimeoutNs uint64) (*FrameSync, error) {
	if framesInFlight < 2 || framesInFlight > 3 {
		return nil, errors.AssertionFailedf("frames in flight must be 2 or 3, got %d", framesInFlight)
	}
	if fenceTimeoutNs == 0 {
		fenceTimeoutNs = math.MaxUint64
	}
	context.retain()
	fs := &FrameSync{
		context:      context,
		swapchain:    swapchain,
		resources:    resources,
		fenceTimeout: fenceTimeoutNs,
	}
	created := false
	defer func() {
		if !created {
			fs.Destroy()
		}
	}()

	driver := context.Driver
	device := context.LogicalDevice()
	family := uint32(context.QueueFamilies().Graphics)
	for i := 0; i < framesInFlight; i++ {
		slot := &FrameSlot{Index: i}
		fs.slots = append(fs.slots, slot)

		var res vk.Result
		var err error
		if slot.ImageAvailable, res = driver.CreateSemaphore(device); res != vk.Success {
			return nil, vkError(res, "creating image available semaphore %d", i)
		}
		if slot.RenderFinished, res = driver.CreateSemaphore(device); res != vk.Success {
			return nil, vkError(res, "creating render finished semaphore %d", i)
		}
		// Signaled so the very first wait on every slot returns at once.
		if slot.InFlight, err = NewFence(context, true); err != nil {
			return nil, err
		}
		if slot.Pool, err = NewCommandPool(context, family, true); err != nil {
			return nil, err
		}
		if slot.CommandBuffer, err = slot.Pool.Allocate(true); err != nil {
			return nil, err
		}
	}
	created = true
	core.LogInfo("Frame synchronization created with %d frames in flight.", framesInFlight)
	return fs, nil
}

func (fs *FrameSync) FramesInFlight() int {
	return len(fs.slots)
}

// FrameNumber is the number of frames presented so far.
func (fs *FrameSync) FrameNumber() uint64 {
	return fs.frameNumber
}

func (fs *FrameSync) Slot(i int) *FrameSlot {
	return fs.slots[i]
}

// BeginFrame waits until the current slot is free, acquires a swapchain image
// and begins recording. It returns ErrSwapchainBooting when there is nothing
// to render to and the frame must be skipped.
func (fs *FrameSync) BeginFrame() (*Frame, error) {
	if fs.current != nil {
		return nil, errors.AssertionFailedf("frame %d begun twice", fs.frameNumber)
	}
	if err := fs.swapchain.EnsureCurrent(); err != nil {
		return nil, err
	}
	fs.syncImagesInFlight()

	slotIndex := int(fs.frameNumber % uint64(len(fs.slots)))
	slot := fs.slots[slotIndex]

	if err := slot.InFlight.Wait(fs.fenceTimeout); err != nil {
		return nil, errors.Wrapf(err, "waiting for frame slot %d", slotIndex)
	}
	if fs.resources != nil {
		if err := fs.resources.FlushDeferred(slotIndex); err != nil {
			return nil, err
		}
	}

	imageIndex, err := fs.acquire(slot)
	if err != nil {
		return nil, err
	}

	if prev := fs.imagesInFlight[imageIndex]; prev != nil && prev != slot.InFlight {
		if err := prev.Wait(fs.fenceTimeout); err != nil {
			return nil, errors.Wrapf(err, "waiting for swapchain image %d", imageIndex)
		}
	}
	fs.imagesInFlight[imageIndex] = slot.InFlight

	if err := slot.Pool.Reset(); err != nil {
		return nil, err
	}
	if err := slot.CommandBuffer.Begin(true, false); err != nil {
		return nil, err
	}

	fs.current = &Frame{
		Number:        fs.frameNumber,
		Slot:          slotIndex,
		ImageIndex:    imageIndex,
		Image:         fs.swapchain.Image(imageIndex),
		View:          fs.swapchain.View(imageIndex),
		Extent:        fs.swapchain.Extent(),
		Format:        fs.swapchain.ImageFormat().Format,
		CommandBuffer: slot.CommandBuffer,
		RenderPass:    fs.swapchain.RenderPass(),
		Framebuffer:   fs.swapchain.Framebuffer(imageIndex),
	}
	return fs.current, nil
}

// acquire retries on a stale swapchain without moving to another slot.
func (fs *FrameSync) acquire(slot *FrameSlot) (uint32, error) {
	for attempt := 0; ; attempt++ {
		index, err := fs.swapchain.AcquireNextImage(slot.ImageAvailable, fs.fenceTimeout)
		if err == nil {
			return index, nil
		}
		if !errors.Is(err, core.ErrSwapchainOutOfDate) || attempt >= maxAcquireRetries {
			return 0, err
		}
		core.LogDebug("Swapchain out of date on acquire, recreating (attempt %d).", attempt+1)
		if err := fs.swapchain.EnsureCurrent(); err != nil {
			return 0, err
		}
		fs.syncImagesInFlight()
	}
}

// SubmitFrame ends recording and submits the frame. The submission waits for
// the acquired image and signals the slot's fence on completion. When it
// fails the frame is dropped and the slot is usable again, except after a
// lost device.
func (fs *FrameSync) SubmitFrame(f *Frame) error {
	if f == nil || f != fs.current {
		return errors.AssertionFailedf("submitting a frame that is not current")
	}
	slot := fs.slots[f.Slot]
	if slot.CommandBuffer.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		if err := f.EndRenderPass(); err != nil {
			return fs.abandon(slot, err)
		}
	}
	if !f.presentable {
		if err := f.Clear(DefaultClearColor); err != nil {
			return fs.abandon(slot, err)
		}
	}
	if err := slot.CommandBuffer.End(); err != nil {
		return fs.abandon(slot, err)
	}
	if err := slot.InFlight.Reset(); err != nil {
		return fs.abandon(slot, err)
	}
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{slot.ImageAvailable},
		PWaitDstStageMask:    []vk.PipelineStageFlags{frameWaitStage},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{slot.CommandBuffer.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{slot.RenderFinished},
	}
	if res := fs.context.Driver.QueueSubmit(fs.context.GraphicsQueue(), []vk.SubmitInfo{submitInfo}, slot.InFlight.Handle); res != vk.Success {
		return fs.abandon(slot, vkError(res, "submitting frame %d", f.Number))
	}
	slot.CommandBuffer.UpdateSubmitted()
	return nil
}

// abandon drops the current frame after it could not be submitted. The
// acquired image is handed back by a swapchain rebuild, the acquire
// semaphore is consumed and the fence signals again so the slot can be
// waited on.
func (fs *FrameSync) abandon(slot *FrameSlot, cause error) error {
	fs.current = nil
	if errors.Is(cause, core.ErrDeviceLost) {
		return cause
	}
	core.LogWarn("Dropping frame on slot %d: %v", slot.Index, cause)
	fs.swapchain.MarkRecreationPending()
	if err := fs.drainAcquire(slot); err != nil {
		core.LogWarn("Could not drain slot %d, rebuilding its sync objects: %v", slot.Index, err)
		if err := fs.resetSlot(slot); err != nil {
			return errors.CombineErrors(cause, err)
		}
	}
	return cause
}

// drainAcquire submits an empty batch that waits on the acquire semaphore
// and signals the slot's fence.
func (fs *FrameSync) drainAcquire(slot *FrameSlot) error {
	if err := slot.InFlight.Reset(); err != nil {
		return err
	}
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{slot.ImageAvailable},
		PWaitDstStageMask:  []vk.PipelineStageFlags{frameWaitStage},
	}
	if res := fs.context.Driver.QueueSubmit(fs.context.GraphicsQueue(), []vk.SubmitInfo{submitInfo}, slot.InFlight.Handle); res != vk.Success {
		return vkError(res, "draining the acquire semaphore of slot %d", slot.Index)
	}
	return nil
}

// resetSlot replaces the acquire semaphore and the fence of slot with fresh
// ones once the device is idle.
func (fs *FrameSync) resetSlot(slot *FrameSlot) error {
	if err := fs.context.WaitIdle(); err != nil {
		return err
	}
	driver := fs.context.Driver
	device := fs.context.LogicalDevice()
	sem, res := driver.CreateSemaphore(device)
	if res != vk.Success {
		return vkError(res, "recreating image available semaphore %d", slot.Index)
	}
	driver.DestroySemaphore(device, slot.ImageAvailable)
	slot.ImageAvailable = sem
	return slot.InFlight.Recreate(true)
}

// PresentFrame presents a submitted frame and moves to the next slot. A stale
// or resized swapchain is rebuilt here.
func (fs *FrameSync) PresentFrame(f *Frame) error {
	if f == nil || f != fs.current {
		return errors.AssertionFailedf("presenting a frame that is not current")
	}
	slot := fs.slots[f.Slot]
	err := fs.swapchain.Present(fs.context.PresentQueue(), slot.RenderFinished, f.ImageIndex)

	fs.frameNumber++
	fs.current = nil

	if err != nil && !errors.IsAny(err, core.ErrSwapchainOutOfDate, core.ErrSwapchainSuboptimal) {
		return err
	}
	if err != nil {
		fs.swapchain.MarkRecreationPending()
	}
	if fs.swapchain.Stage() == SwapchainRecreationPending {
		if err := fs.swapchain.EnsureCurrent(); err != nil && !errors.Is(err, core.ErrSwapchainBooting) {
			return err
		}
		fs.syncImagesInFlight()
	}
	return nil
}

// DrawFrame runs one whole frame. A swapchain that cannot be rendered to
// skips the frame without error.
func (fs *FrameSync) DrawFrame(record func(f *Frame) error) error {
	f, err := fs.BeginFrame()
	if errors.Is(err, core.ErrSwapchainBooting) {
		return nil
	}
	if err != nil {
		return err
	}
	// The acquired image must be submitted and presented even when recording
	// fails, otherwise the slot's semaphore stays signaled.
	var recordErr error
	if record != nil {
		recordErr = record(f)
	}
	if err := fs.SubmitFrame(f); err != nil {
		return errors.CombineErrors(recordErr, err)
	}
	return errors.CombineErrors(recordErr, fs.PresentFrame(f))
}

func (fs *FrameSync) syncImagesInFlight() {
	if fs.swapchainGeneration == fs.swapchain.Generation() && len(fs.imagesInFlight) == fs.swapchain.ImageCount() {
		return
	}
	fs.imagesInFlight = make([]*VulkanFence, fs.swapchain.ImageCount())
	fs.swapchainGeneration = fs.swapchain.Generation()
}

// Destroy waits for the device and releases every slot.
func (fs *FrameSync) Destroy() {
	if err := fs.context.WaitIdle(); err != nil {
		core.LogError("waiting for the device before frame sync teardown: %v", err)
	}
	driver := fs.context.Driver
	device := fs.context.LogicalDevice()
	for _, slot := range fs.slots {
		if slot.Pool != nil {
			slot.Pool.Destroy()
		}
		if slot.ImageAvailable != nil {
			driver.DestroySemaphore(device, slot.ImageAvailable)
		}
		if slot.RenderFinished != nil {
			driver.DestroySemaphore(device, slot.RenderFinished)
		}
		if slot.InFlight != nil {
			slot.InFlight.Destroy()
		}
	}
	fs.slots = nil
	fs.imagesInFlight = nil
	fs.current = nil
	fs.context.release()
}
