package vulkan

import (
	"fmt"
	"sort"
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/automata/engine/renderer/metadata"
)

// fakeDriver is an in-memory GPU. Submissions stay pending until a fence
// wait or an idle wait retires them in queue order, at which point their
// recorded copies run against host memory. Misuse that a validation layer
// would report is collected in violations.
type fakeDriver struct {
	live       map[unsafe.Pointer]string
	violations []string

	layers          []string
	instanceExts    []string
	physicalDevices []*fakePhysicalDevice
	deviceInfo      *vk.DeviceCreateInfo
	queues          map[uint32]vk.Queue

	width, height uint32
	minImageCount uint32
	maxImageCount uint32

	// Formats usable as a depth attachment with optimal tiling.
	depthFormats []vk.Format

	memories        map[unsafe.Pointer]*fakeMemory
	buffers         map[unsafe.Pointer]*fakeBuffer
	images          map[unsafe.Pointer]*fakeImage
	views           map[unsafe.Pointer]vk.Image
	fences          map[unsafe.Pointer]*fakeFence
	semaphores      map[unsafe.Pointer]*fakeSemaphore
	pools           map[unsafe.Pointer]*fakePool
	cmdBuffers      map[unsafe.Pointer]*fakeCommandBuffer
	swapchains      map[unsafe.Pointer]*fakeSwapchain
	renderPasses    map[unsafe.Pointer]*fakeRenderPass
	framebuffers    map[unsafe.Pointer]*fakeFramebuffer
	pipelineLayouts map[unsafe.Pointer]*fakePipelineLayout
	pipelines       map[unsafe.Pointer]*fakePipeline
	descriptorPools map[unsafe.Pointer]*fakeDescriptorPool
	descriptorSets  map[unsafe.Pointer]*fakeDescriptorSet

	pending []*fakeSubmission

	// Device memory budget in bytes, zero for unlimited.
	budget     uint64
	memoryUsed uint64

	failAllocate func(info *vk.MemoryAllocateInfo) vk.Result
	failBind     func() vk.Result
	// Consulted before a submission has any effect.
	failSubmit func(submits []vk.SubmitInfo) vk.Result

	acquireResults []vk.Result
	presentResults []vk.Result
	nextImage      uint32

	swapchainsCreated int
	swapchainUsage    vk.ImageUsageFlags
	submits           int
	presents          int
	presented         []uint32
	barriers          []layoutTransition
	bufferBarriers    []fakeBufferBarrier
	renderPassesBegun int
	pipelinesCreated  int
	draws             []fakeDraw
}

type fakeBufferBarrier struct {
	buffer             vk.Buffer
	srcStage, dstStage vk.PipelineStageFlags
	srcAccess          vk.AccessFlags
	dstAccess          vk.AccessFlags
}

type fakeDraw struct {
	indexCount     uint32
	instanceCount  uint32
	instanceBuffer vk.Buffer
	viewProjection []byte
	paletteView    vk.ImageView
}

type fakePhysicalDevice struct {
	handle     vk.PhysicalDevice
	props      vk.PhysicalDeviceProperties
	families   []vk.QueueFamilyProperties
	present    []bool
	extensions []string
	formats    []vk.SurfaceFormat
	modes      []vk.PresentMode
}

type fakeMemory struct {
	data   []byte
	mapped bool
}

type fakeBuffer struct {
	size   vk.DeviceSize
	memory *fakeMemory
}

type fakeImage struct {
	width, height uint32
	texel         uint32
	layout        vk.ImageLayout
	// Layout after every recorded barrier has executed.
	recorded  vk.ImageLayout
	memory    *fakeMemory
	swapchain bool
}

type fakeFence struct {
	signaled bool
	pending  bool
}

type fakeSemaphore struct {
	signaled bool
}

type fakePool struct {
	buffers map[unsafe.Pointer]bool
}

type fakeCommandBuffer struct {
	pool      unsafe.Pointer
	recording bool
	pending   bool
	ops       []func()

	// Draw state, reset when recording begins.
	renderPass    unsafe.Pointer
	pipeline      *fakePipeline
	vertexBuffers map[uint32]vk.Buffer
	indexBuffer   vk.Buffer
	set           *fakeDescriptorSet
	pushed        []byte
	viewport      bool
	scissor       bool
	// Source stages of the first access to a swapchain image.
	swapchainStage vk.PipelineStageFlags
}

func (cb *fakeCommandBuffer) resetDrawState() {
	cb.renderPass = nil
	cb.pipeline = nil
	cb.vertexBuffers = make(map[uint32]vk.Buffer)
	cb.indexBuffer = nil
	cb.set = nil
	cb.pushed = nil
	cb.viewport = false
	cb.scissor = false
	cb.swapchainStage = 0
}

type fakeRenderPass struct {
	finalLayouts []vk.ImageLayout
	// Source stages of the dependency from before the pass.
	srcStage vk.PipelineStageFlags
}

type fakeFramebuffer struct {
	renderPass    unsafe.Pointer
	views         []vk.ImageView
	width, height uint32
}

type fakePipelineLayout struct {
	pushConstantSize uint32
}

type fakePipeline struct {
	layout     unsafe.Pointer
	renderPass unsafe.Pointer
}

type fakeDescriptorPool struct {
	maxSets uint32
	sets    []unsafe.Pointer
}

type fakeDescriptorSet struct {
	view vk.ImageView
}

type fakeSwapchain struct {
	images []vk.Image
}

type fakeSubmission struct {
	buffers []*fakeCommandBuffer
	fence   *fakeFence
}

const (
	fakeMemoryTypeDeviceLocal = 0
	fakeMemoryTypeHostVisible = 1
)

func newFakeDriver() *fakeDriver {
	d := &fakeDriver{
		live:          make(map[unsafe.Pointer]string),
		layers:        []string{validationLayerName},
		queues:        make(map[uint32]vk.Queue),
		width:         800,
		height:        600,
		minImageCount: 2,
		maxImageCount: 4,
		depthFormats:  []vk.Format{vk.FormatD32Sfloat},
		memories:      make(map[unsafe.Pointer]*fakeMemory),
		buffers:       make(map[unsafe.Pointer]*fakeBuffer),
		images:        make(map[unsafe.Pointer]*fakeImage),
		views:         make(map[unsafe.Pointer]vk.Image),
		fences:        make(map[unsafe.Pointer]*fakeFence),
		semaphores:    make(map[unsafe.Pointer]*fakeSemaphore),
		pools:         make(map[unsafe.Pointer]*fakePool),
		cmdBuffers:    make(map[unsafe.Pointer]*fakeCommandBuffer),
		swapchains:    make(map[unsafe.Pointer]*fakeSwapchain),

		renderPasses:    make(map[unsafe.Pointer]*fakeRenderPass),
		framebuffers:    make(map[unsafe.Pointer]*fakeFramebuffer),
		pipelineLayouts: make(map[unsafe.Pointer]*fakePipelineLayout),
		pipelines:       make(map[unsafe.Pointer]*fakePipeline),
		descriptorPools: make(map[unsafe.Pointer]*fakeDescriptorPool),
		descriptorSets:  make(map[unsafe.Pointer]*fakeDescriptorSet),
	}
	d.addPhysicalDevice("Fake Discrete GPU", vk.PhysicalDeviceTypeDiscreteGpu, []fakeFamily{
		{flags: vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit, present: true},
		{flags: vk.QueueTransferBit},
	})
	return d
}

type fakeFamily struct {
	flags   vk.QueueFlagBits
	present bool
}

func (d *fakeDriver) addPhysicalDevice(name string, deviceType vk.PhysicalDeviceType, families []fakeFamily) *fakePhysicalDevice {
	pd := &fakePhysicalDevice{
		handle:     vk.PhysicalDevice(d.newHandle("physical device")),
		extensions: []string{"VK_KHR_swapchain"},
		formats: []vk.SurfaceFormat{
			{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
			{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		},
		modes: []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox},
	}
	// Physical devices are never destroyed by the application.
	delete(d.live, unsafe.Pointer(pd.handle))
	pd.props.DeviceType = deviceType
	pd.props.ApiVersion = uint32(vk.MakeVersion(1, 3, 0))
	copy(pd.props.DeviceName[:], name)
	for _, f := range families {
		pd.families = append(pd.families, vk.QueueFamilyProperties{
			QueueFlags: vk.QueueFlags(f.flags),
			QueueCount: 1,
		})
		pd.present = append(pd.present, f.present)
	}
	d.physicalDevices = append(d.physicalDevices, pd)
	return pd
}

func (d *fakeDriver) physical(pd vk.PhysicalDevice) *fakePhysicalDevice {
	for _, p := range d.physicalDevices {
		if p.handle == pd {
			return p
		}
	}
	d.violate("unknown physical device")
	return &fakePhysicalDevice{}
}

func (d *fakeDriver) setExtent(width, height uint32) {
	d.width, d.height = width, height
}

func (d *fakeDriver) violate(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *fakeDriver) newHandle(kind string) unsafe.Pointer {
	p := unsafe.Pointer(new(uint64))
	d.live[p] = kind
	return p
}

func (d *fakeDriver) release(p unsafe.Pointer, kind string) bool {
	if p == nil {
		return false
	}
	got, ok := d.live[p]
	if !ok {
		d.violate("destroying a %s that is not alive", kind)
		return false
	}
	if got != kind {
		d.violate("destroying a %s through the %s entry point", got, kind)
	}
	delete(d.live, p)
	return true
}

func (d *fakeDriver) liveCount(kind string) int {
	n := 0
	for _, k := range d.live {
		if k == kind {
			n++
		}
	}
	return n
}

func (d *fakeDriver) liveSummary() string {
	counts := map[string]int{}
	for _, k := range d.live {
		counts[k]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for _, k := range keys {
		s += fmt.Sprintf("%s=%d ", k, counts[k])
	}
	return s
}

func (d *fakeDriver) expectClean(t *testing.T) {
	t.Helper()
	for _, v := range d.violations {
		t.Errorf("driver violation: %s", v)
	}
}

func (d *fakeDriver) expectNoLiveObjects(t *testing.T) {
	t.Helper()
	if len(d.live) != 0 {
		t.Errorf("objects still alive: %s", d.liveSummary())
	}
}

// retire completes pending submissions in queue order up to and including
// the last one for which stop returns true.
func (d *fakeDriver) retire(stop func(*fakeSubmission) bool) {
	last := -1
	for i, s := range d.pending {
		if stop(s) {
			last = i
		}
	}
	for _, s := range d.pending[:last+1] {
		for _, cb := range s.buffers {
			for _, op := range cb.ops {
				op()
			}
			cb.pending = false
		}
		if s.fence != nil {
			s.fence.pending = false
			s.fence.signaled = true
		}
	}
	d.pending = d.pending[last+1:]
}

func (d *fakeDriver) retireAll() {
	d.retire(func(*fakeSubmission) bool { return true })
}

// Instance level

func (d *fakeDriver) CreateInstance(info *vk.InstanceCreateInfo) (vk.Instance, vk.Result) {
	d.instanceExts = nil
	for _, e := range info.PpEnabledExtensionNames {
		d.instanceExts = append(d.instanceExts, trimNull(e))
	}
	for _, l := range info.PpEnabledLayerNames {
		if !containsString(d.layers, l) {
			return nil, vk.ErrorLayerNotPresent
		}
	}
	return vk.Instance(d.newHandle("instance")), vk.Success
}

func (d *fakeDriver) DestroyInstance(instance vk.Instance) {
	d.release(unsafe.Pointer(instance), "instance")
}

func (d *fakeDriver) EnumerateInstanceLayers() ([]string, vk.Result) {
	return d.layers, vk.Success
}

func (d *fakeDriver) CreateDebugReportCallback(instance vk.Instance, info *vk.DebugReportCallbackCreateInfo) (vk.DebugReportCallback, vk.Result) {
	return vk.DebugReportCallback(d.newHandle("debug callback")), vk.Success
}

func (d *fakeDriver) DestroyDebugReportCallback(instance vk.Instance, callback vk.DebugReportCallback) {
	d.release(unsafe.Pointer(callback), "debug callback")
}

func (d *fakeDriver) DestroySurface(instance vk.Instance, surface vk.Surface) {
	d.release(unsafe.Pointer(surface), "surface")
}

// Physical device

func (d *fakeDriver) EnumeratePhysicalDevices(instance vk.Instance) ([]vk.PhysicalDevice, vk.Result) {
	out := make([]vk.PhysicalDevice, 0, len(d.physicalDevices))
	for _, p := range d.physicalDevices {
		out = append(out, p.handle)
	}
	return out, vk.Success
}

func (d *fakeDriver) GetPhysicalDeviceProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceProperties {
	return d.physical(pd).props
}

func (d *fakeDriver) GetPhysicalDeviceMemoryProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceMemoryProperties {
	var props vk.PhysicalDeviceMemoryProperties
	props.MemoryTypeCount = 2
	props.MemoryTypes[fakeMemoryTypeDeviceLocal] = vk.MemoryType{
		PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		HeapIndex:     0,
	}
	props.MemoryTypes[fakeMemoryTypeHostVisible] = vk.MemoryType{
		PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit),
		HeapIndex:     1,
	}
	props.MemoryHeapCount = 2
	props.MemoryHeaps[0] = vk.MemoryHeap{Size: 1 << 30, Flags: vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit)}
	props.MemoryHeaps[1] = vk.MemoryHeap{Size: 1 << 30}
	return props
}

func (d *fakeDriver) GetPhysicalDeviceQueueFamilyProperties(pd vk.PhysicalDevice) []vk.QueueFamilyProperties {
	return d.physical(pd).families
}

func (d *fakeDriver) GetPhysicalDeviceSurfaceSupport(pd vk.PhysicalDevice, family uint32, surface vk.Surface) (bool, vk.Result) {
	return d.physical(pd).present[family], vk.Success
}

func (d *fakeDriver) EnumerateDeviceExtensions(pd vk.PhysicalDevice) ([]string, vk.Result) {
	return d.physical(pd).extensions, vk.Success
}

func (d *fakeDriver) GetPhysicalDeviceSurfaceCapabilities(pd vk.PhysicalDevice, surface vk.Surface) (vk.SurfaceCapabilities, vk.Result) {
	return vk.SurfaceCapabilities{
		MinImageCount:       d.minImageCount,
		MaxImageCount:       d.maxImageCount,
		CurrentExtent:       vk.Extent2D{Width: d.width, Height: d.height},
		MinImageExtent:      vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent:      vk.Extent2D{Width: 4096, Height: 4096},
		MaxImageArrayLayers: 1,
		CurrentTransform:    vk.SurfaceTransformIdentityBit,
		SupportedUsageFlags: vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
	}, vk.Success
}

func (d *fakeDriver) GetPhysicalDeviceSurfaceFormats(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.SurfaceFormat, vk.Result) {
	return d.physical(pd).formats, vk.Success
}

func (d *fakeDriver) GetPhysicalDeviceSurfacePresentModes(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.PresentMode, vk.Result) {
	return d.physical(pd).modes, vk.Success
}

func (d *fakeDriver) GetPhysicalDeviceFormatProperties(pd vk.PhysicalDevice, format vk.Format) vk.FormatProperties {
	var props vk.FormatProperties
	for _, f := range d.depthFormats {
		if f == format {
			props.OptimalTilingFeatures = vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
		}
	}
	return props
}

// Logical device and queues

func (d *fakeDriver) CreateDevice(pd vk.PhysicalDevice, info *vk.DeviceCreateInfo) (vk.Device, vk.Result) {
	d.deviceInfo = info
	return vk.Device(d.newHandle("device")), vk.Success
}

func (d *fakeDriver) DestroyDevice(device vk.Device) {
	for _, kind := range d.live {
		switch kind {
		case "instance", "surface", "debug callback", "device", "queue":
		default:
			d.violate("device destroyed while a %s is alive", kind)
		}
	}
	d.release(unsafe.Pointer(device), "device")
	for family, q := range d.queues {
		delete(d.live, unsafe.Pointer(q))
		delete(d.queues, family)
	}
}

func (d *fakeDriver) GetDeviceQueue(device vk.Device, family, index uint32) vk.Queue {
	if q, ok := d.queues[family]; ok {
		return q
	}
	q := vk.Queue(d.newHandle("queue"))
	d.queues[family] = q
	return q
}

func (d *fakeDriver) DeviceWaitIdle(device vk.Device) vk.Result {
	d.retireAll()
	return vk.Success
}

func (d *fakeDriver) QueueWaitIdle(queue vk.Queue) vk.Result {
	d.retireAll()
	return vk.Success
}

func (d *fakeDriver) QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) vk.Result {
	if d.live[unsafe.Pointer(queue)] != "queue" {
		d.violate("submit to an unknown queue")
	}
	if d.failSubmit != nil {
		if res := d.failSubmit(submits); res != vk.Success {
			return res
		}
	}
	d.submits++
	sub := &fakeSubmission{}
	if fence != nil {
		f, ok := d.fences[unsafe.Pointer(fence)]
		switch {
		case !ok:
			d.violate("submit with unknown fence")
		case f.pending:
			d.violate("submit with a fence whose previous submission is still pending")
		case f.signaled:
			d.violate("submit with a fence that was not reset")
		default:
			f.pending = true
			sub.fence = f
		}
	}
	for _, info := range submits {
		var waitStages vk.PipelineStageFlags
		for _, stage := range info.PWaitDstStageMask {
			waitStages |= stage
		}
		for _, s := range info.PWaitSemaphores {
			sem := d.semaphores[unsafe.Pointer(s)]
			if sem == nil || !sem.signaled {
				d.violate("submit waits on a semaphore nobody signals")
				continue
			}
			sem.signaled = false
		}
		for _, h := range info.PCommandBuffers {
			cb := d.cmdBuffers[unsafe.Pointer(h)]
			switch {
			case cb == nil:
				d.violate("submit of unknown command buffer")
				continue
			case cb.pending:
				d.violate("resubmitting a command buffer whose submission is pending")
			case cb.recording:
				d.violate("submitting a command buffer that is still recording")
			}
			// The first access to an acquired image has to be ordered after
			// the semaphore wait, so its source stages must include one of
			// the waited stages.
			if len(info.PWaitSemaphores) > 0 && cb.swapchainStage != 0 && cb.swapchainStage&waitStages == 0 {
				d.violate("swapchain image first accessed at stages %#x, not after the acquire wait at %#x", cb.swapchainStage, waitStages)
			}
			cb.pending = true
			sub.buffers = append(sub.buffers, cb)
		}
		for _, s := range info.PSignalSemaphores {
			sem := d.semaphores[unsafe.Pointer(s)]
			if sem == nil {
				d.violate("submit signals an unknown semaphore")
				continue
			}
			if sem.signaled {
				d.violate("submit signals a semaphore that is already signaled")
			}
			sem.signaled = true
		}
	}
	d.pending = append(d.pending, sub)
	return vk.Success
}

func (d *fakeDriver) QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result {
	d.presents++
	for _, s := range info.PWaitSemaphores {
		sem := d.semaphores[unsafe.Pointer(s)]
		if sem == nil || !sem.signaled {
			d.violate("present waits on a semaphore nobody signals")
			continue
		}
		sem.signaled = false
	}
	for i, sc := range info.PSwapchains {
		chain := d.swapchains[unsafe.Pointer(sc)]
		if chain == nil {
			d.violate("present to unknown swapchain")
			continue
		}
		index := info.PImageIndices[i]
		img := d.images[unsafe.Pointer(chain.images[index])]
		if img.recorded != vk.ImageLayoutPresentSrc {
			d.violate("presenting image %d in layout %d", index, img.layout)
		}
		d.presented = append(d.presented, index)
	}
	if len(d.presentResults) > 0 {
		res := d.presentResults[0]
		d.presentResults = d.presentResults[1:]
		return res
	}
	return vk.Success
}

// Memory, buffers and images

func (d *fakeDriver) AllocateMemory(device vk.Device, info *vk.MemoryAllocateInfo) (vk.DeviceMemory, vk.Result) {
	if d.failAllocate != nil {
		if res := d.failAllocate(info); res != vk.Success {
			return nil, res
		}
	}
	size := uint64(info.AllocationSize)
	if d.budget > 0 && d.memoryUsed+size > d.budget {
		return nil, vk.ErrorOutOfDeviceMemory
	}
	d.memoryUsed += size
	p := d.newHandle("memory")
	d.memories[p] = &fakeMemory{data: make([]byte, size)}
	return vk.DeviceMemory(p), vk.Success
}

func (d *fakeDriver) FreeMemory(device vk.Device, memory vk.DeviceMemory) {
	p := unsafe.Pointer(memory)
	if !d.release(p, "memory") {
		return
	}
	d.memoryUsed -= uint64(len(d.memories[p].data))
	delete(d.memories, p)
}

func (d *fakeDriver) MapMemory(device vk.Device, memory vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, vk.Result) {
	m := d.memories[unsafe.Pointer(memory)]
	if m == nil {
		d.violate("mapping unknown memory")
		return nil, vk.ErrorMemoryMapFailed
	}
	if m.mapped {
		d.violate("mapping memory twice")
	}
	m.mapped = true
	return unsafe.Pointer(&m.data[offset]), vk.Success
}

func (d *fakeDriver) UnmapMemory(device vk.Device, memory vk.DeviceMemory) {
	m := d.memories[unsafe.Pointer(memory)]
	if m == nil || !m.mapped {
		d.violate("unmapping memory that is not mapped")
		return
	}
	m.mapped = false
}

func (d *fakeDriver) CreateBuffer(device vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, vk.Result) {
	p := d.newHandle("buffer")
	d.buffers[p] = &fakeBuffer{size: info.Size}
	return vk.Buffer(p), vk.Success
}

func (d *fakeDriver) DestroyBuffer(device vk.Device, buffer vk.Buffer) {
	p := unsafe.Pointer(buffer)
	if d.release(p, "buffer") {
		delete(d.buffers, p)
	}
}

func (d *fakeDriver) GetBufferMemoryRequirements(device vk.Device, buffer vk.Buffer) vk.MemoryRequirements {
	b := d.buffers[unsafe.Pointer(buffer)]
	return vk.MemoryRequirements{
		Size:           b.size,
		Alignment:      256,
		MemoryTypeBits: 1<<fakeMemoryTypeDeviceLocal | 1<<fakeMemoryTypeHostVisible,
	}
}

func (d *fakeDriver) BindBufferMemory(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) vk.Result {
	if d.failBind != nil {
		if res := d.failBind(); res != vk.Success {
			return res
		}
	}
	b := d.buffers[unsafe.Pointer(buffer)]
	if b.memory != nil {
		d.violate("binding a buffer twice")
	}
	b.memory = d.memories[unsafe.Pointer(memory)]
	return vk.Success
}

func (d *fakeDriver) CreateImage(device vk.Device, info *vk.ImageCreateInfo) (vk.Image, vk.Result) {
	texel, ok := formatTexelSize[info.Format]
	if !ok {
		texel = 4
	}
	p := d.newHandle("image")
	d.images[p] = &fakeImage{
		width:  info.Extent.Width,
		height: info.Extent.Height,
		texel:  texel,
		layout: info.InitialLayout,
	}
	return vk.Image(p), vk.Success
}

func (d *fakeDriver) DestroyImage(device vk.Device, image vk.Image) {
	p := unsafe.Pointer(image)
	if img := d.images[p]; img != nil && img.swapchain {
		d.violate("destroying a swapchain image")
		return
	}
	if d.release(p, "image") {
		delete(d.images, p)
	}
}

func (d *fakeDriver) GetImageMemoryRequirements(device vk.Device, image vk.Image) vk.MemoryRequirements {
	img := d.images[unsafe.Pointer(image)]
	return vk.MemoryRequirements{
		Size:           vk.DeviceSize(img.width * img.height * img.texel),
		Alignment:      1024,
		MemoryTypeBits: 1 << fakeMemoryTypeDeviceLocal,
	}
}

func (d *fakeDriver) BindImageMemory(device vk.Device, image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) vk.Result {
	if d.failBind != nil {
		if res := d.failBind(); res != vk.Success {
			return res
		}
	}
	d.images[unsafe.Pointer(image)].memory = d.memories[unsafe.Pointer(memory)]
	return vk.Success
}

func (d *fakeDriver) CreateImageView(device vk.Device, info *vk.ImageViewCreateInfo) (vk.ImageView, vk.Result) {
	if d.images[unsafe.Pointer(info.Image)] == nil {
		d.violate("creating a view of an unknown image")
	}
	p := d.newHandle("image view")
	d.views[p] = info.Image
	return vk.ImageView(p), vk.Success
}

func (d *fakeDriver) DestroyImageView(device vk.Device, view vk.ImageView) {
	for _, fb := range d.framebuffers {
		for _, v := range fb.views {
			if v == view {
				d.violate("destroying an image view a framebuffer still uses")
			}
		}
	}
	p := unsafe.Pointer(view)
	if d.release(p, "image view") {
		delete(d.views, p)
	}
}

func (d *fakeDriver) CreateShaderModule(device vk.Device, code []uint32) (vk.ShaderModule, vk.Result) {
	if len(code) == 0 || code[0] != 0x07230203 {
		return nil, vk.ErrorInitializationFailed
	}
	return vk.ShaderModule(d.newHandle("shader module")), vk.Success
}

func (d *fakeDriver) DestroyShaderModule(device vk.Device, module vk.ShaderModule) {
	d.release(unsafe.Pointer(module), "shader module")
}

func (d *fakeDriver) CreateSampler(device vk.Device, info *vk.SamplerCreateInfo) (vk.Sampler, vk.Result) {
	return vk.Sampler(d.newHandle("sampler")), vk.Success
}

func (d *fakeDriver) DestroySampler(device vk.Device, sampler vk.Sampler) {
	d.release(unsafe.Pointer(sampler), "sampler")
}

// Render passes, pipelines and descriptors

func (d *fakeDriver) CreateRenderPass(device vk.Device, info *vk.RenderPassCreateInfo) (vk.RenderPass, vk.Result) {
	rp := &fakeRenderPass{srcStage: vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)}
	for _, a := range info.PAttachments {
		rp.finalLayouts = append(rp.finalLayouts, a.FinalLayout)
	}
	for _, dep := range info.PDependencies {
		if dep.SrcSubpass == vk.SubpassExternal && dep.DstSubpass == 0 {
			rp.srcStage = dep.SrcStageMask
		}
	}
	p := d.newHandle("render pass")
	d.renderPasses[p] = rp
	return vk.RenderPass(p), vk.Success
}

func (d *fakeDriver) DestroyRenderPass(device vk.Device, renderPass vk.RenderPass) {
	p := unsafe.Pointer(renderPass)
	if d.release(p, "render pass") {
		delete(d.renderPasses, p)
	}
}

func (d *fakeDriver) CreateFramebuffer(device vk.Device, info *vk.FramebufferCreateInfo) (vk.Framebuffer, vk.Result) {
	rp := d.renderPasses[unsafe.Pointer(info.RenderPass)]
	if rp == nil {
		d.violate("framebuffer for an unknown render pass")
		return nil, vk.ErrorInitializationFailed
	}
	if len(info.PAttachments) != len(rp.finalLayouts) {
		d.violate("framebuffer has %d attachments, render pass %d", len(info.PAttachments), len(rp.finalLayouts))
	}
	for _, v := range info.PAttachments {
		if _, ok := d.views[unsafe.Pointer(v)]; !ok {
			d.violate("framebuffer attachment is not a live image view")
		}
	}
	p := d.newHandle("framebuffer")
	d.framebuffers[p] = &fakeFramebuffer{
		renderPass: unsafe.Pointer(info.RenderPass),
		views:      append([]vk.ImageView(nil), info.PAttachments...),
		width:      info.Width,
		height:     info.Height,
	}
	return vk.Framebuffer(p), vk.Success
}

func (d *fakeDriver) DestroyFramebuffer(device vk.Device, framebuffer vk.Framebuffer) {
	p := unsafe.Pointer(framebuffer)
	if d.release(p, "framebuffer") {
		delete(d.framebuffers, p)
	}
}

func (d *fakeDriver) CreatePipelineLayout(device vk.Device, info *vk.PipelineLayoutCreateInfo) (vk.PipelineLayout, vk.Result) {
	for _, l := range info.PSetLayouts {
		if d.live[unsafe.Pointer(l)] != "descriptor set layout" {
			d.violate("pipeline layout references an unknown set layout")
		}
	}
	layout := &fakePipelineLayout{}
	for _, r := range info.PPushConstantRanges {
		if end := r.Offset + r.Size; end > layout.pushConstantSize {
			layout.pushConstantSize = end
		}
	}
	p := d.newHandle("pipeline layout")
	d.pipelineLayouts[p] = layout
	return vk.PipelineLayout(p), vk.Success
}

func (d *fakeDriver) DestroyPipelineLayout(device vk.Device, layout vk.PipelineLayout) {
	p := unsafe.Pointer(layout)
	if d.release(p, "pipeline layout") {
		delete(d.pipelineLayouts, p)
	}
}

func (d *fakeDriver) CreateGraphicsPipeline(device vk.Device, info *vk.GraphicsPipelineCreateInfo) (vk.Pipeline, vk.Result) {
	if d.renderPasses[unsafe.Pointer(info.RenderPass)] == nil {
		d.violate("pipeline for an unknown render pass")
	}
	if d.pipelineLayouts[unsafe.Pointer(info.Layout)] == nil {
		d.violate("pipeline with an unknown layout")
	}
	for _, stage := range info.PStages {
		if d.live[unsafe.Pointer(stage.Module)] != "shader module" {
			d.violate("pipeline stage uses a shader module that is not alive")
		}
	}
	d.pipelinesCreated++
	p := d.newHandle("pipeline")
	d.pipelines[p] = &fakePipeline{
		layout:     unsafe.Pointer(info.Layout),
		renderPass: unsafe.Pointer(info.RenderPass),
	}
	return vk.Pipeline(p), vk.Success
}

func (d *fakeDriver) DestroyPipeline(device vk.Device, pipeline vk.Pipeline) {
	p := unsafe.Pointer(pipeline)
	if d.release(p, "pipeline") {
		delete(d.pipelines, p)
	}
}

func (d *fakeDriver) CreateDescriptorSetLayout(device vk.Device, info *vk.DescriptorSetLayoutCreateInfo) (vk.DescriptorSetLayout, vk.Result) {
	return vk.DescriptorSetLayout(d.newHandle("descriptor set layout")), vk.Success
}

func (d *fakeDriver) DestroyDescriptorSetLayout(device vk.Device, layout vk.DescriptorSetLayout) {
	d.release(unsafe.Pointer(layout), "descriptor set layout")
}

func (d *fakeDriver) CreateDescriptorPool(device vk.Device, info *vk.DescriptorPoolCreateInfo) (vk.DescriptorPool, vk.Result) {
	p := d.newHandle("descriptor pool")
	d.descriptorPools[p] = &fakeDescriptorPool{maxSets: info.MaxSets}
	return vk.DescriptorPool(p), vk.Success
}

func (d *fakeDriver) DestroyDescriptorPool(device vk.Device, pool vk.DescriptorPool) {
	p := unsafe.Pointer(pool)
	fp := d.descriptorPools[p]
	if !d.release(p, "descriptor pool") {
		return
	}
	for _, set := range fp.sets {
		delete(d.descriptorSets, set)
		delete(d.live, set)
	}
	delete(d.descriptorPools, p)
}

func (d *fakeDriver) AllocateDescriptorSet(device vk.Device, info *vk.DescriptorSetAllocateInfo) (vk.DescriptorSet, vk.Result) {
	fp := d.descriptorPools[unsafe.Pointer(info.DescriptorPool)]
	if fp == nil {
		d.violate("allocating from an unknown descriptor pool")
		return nil, vk.ErrorInitializationFailed
	}
	if uint32(len(fp.sets)) >= fp.maxSets {
		return nil, vk.ErrorOutOfHostMemory
	}
	p := d.newHandle("descriptor set")
	fp.sets = append(fp.sets, p)
	d.descriptorSets[p] = &fakeDescriptorSet{}
	return vk.DescriptorSet(p), vk.Success
}

func (d *fakeDriver) UpdateDescriptorSets(device vk.Device, writes []vk.WriteDescriptorSet) {
	for _, w := range writes {
		set := d.descriptorSets[unsafe.Pointer(w.DstSet)]
		if set == nil {
			d.violate("writing an unknown descriptor set")
			continue
		}
		for _, info := range w.PImageInfo {
			if _, ok := d.views[unsafe.Pointer(info.ImageView)]; !ok {
				d.violate("descriptor written with an image view that is not alive")
			}
			if d.live[unsafe.Pointer(info.Sampler)] != "sampler" {
				d.violate("descriptor written with a sampler that is not alive")
			}
			set.view = info.ImageView
		}
	}
}

// Swapchain

func (d *fakeDriver) CreateSwapchain(device vk.Device, info *vk.SwapchainCreateInfo) (vk.Swapchain, vk.Result) {
	if info.ImageExtent.Width == 0 || info.ImageExtent.Height == 0 {
		d.violate("swapchain created with a zero extent")
	}
	if info.ImageUsage&vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) == 0 {
		d.violate("swapchain images cannot be rendered to")
	}
	if info.ImageUsage&vk.ImageUsageFlags(vk.ImageUsageTransferDstBit) != 0 {
		d.violate("swapchain requests TRANSFER_DST usage")
	}
	d.swapchainsCreated++
	d.swapchainUsage = info.ImageUsage
	chain := &fakeSwapchain{}
	for i := uint32(0); i < info.MinImageCount; i++ {
		p := unsafe.Pointer(new(uint64))
		d.images[p] = &fakeImage{
			width:     info.ImageExtent.Width,
			height:    info.ImageExtent.Height,
			texel:     4,
			layout:    vk.ImageLayoutUndefined,
			swapchain: true,
		}
		chain.images = append(chain.images, vk.Image(p))
	}
	p := d.newHandle("swapchain")
	d.swapchains[p] = chain
	return vk.Swapchain(p), vk.Success
}

func (d *fakeDriver) DestroySwapchain(device vk.Device, swapchain vk.Swapchain) {
	p := unsafe.Pointer(swapchain)
	if !d.release(p, "swapchain") {
		return
	}
	for _, img := range d.swapchains[p].images {
		delete(d.images, unsafe.Pointer(img))
	}
	delete(d.swapchains, p)
}

func (d *fakeDriver) GetSwapchainImages(device vk.Device, swapchain vk.Swapchain) ([]vk.Image, vk.Result) {
	chain := d.swapchains[unsafe.Pointer(swapchain)]
	return append([]vk.Image(nil), chain.images...), vk.Success
}

func (d *fakeDriver) AcquireNextImage(device vk.Device, swapchain vk.Swapchain, timeout uint64, semaphore vk.Semaphore, fence vk.Fence) (uint32, vk.Result) {
	res := vk.Success
	if len(d.acquireResults) > 0 {
		res = d.acquireResults[0]
		d.acquireResults = d.acquireResults[1:]
	}
	if res != vk.Success && res != vk.Suboptimal {
		return 0, res
	}
	chain := d.swapchains[unsafe.Pointer(swapchain)]
	if chain == nil {
		d.violate("acquire from unknown swapchain")
		return 0, vk.ErrorSurfaceLost
	}
	sem := d.semaphores[unsafe.Pointer(semaphore)]
	if sem.signaled {
		d.violate("acquire signals a semaphore that is already signaled")
	}
	sem.signaled = true
	index := d.nextImage % uint32(len(chain.images))
	d.nextImage++
	return index, res
}

// Synchronization

func (d *fakeDriver) CreateSemaphore(device vk.Device) (vk.Semaphore, vk.Result) {
	p := d.newHandle("semaphore")
	d.semaphores[p] = &fakeSemaphore{}
	return vk.Semaphore(p), vk.Success
}

func (d *fakeDriver) DestroySemaphore(device vk.Device, semaphore vk.Semaphore) {
	p := unsafe.Pointer(semaphore)
	if d.release(p, "semaphore") {
		delete(d.semaphores, p)
	}
}

func (d *fakeDriver) CreateFence(device vk.Device, signaled bool) (vk.Fence, vk.Result) {
	p := d.newHandle("fence")
	d.fences[p] = &fakeFence{signaled: signaled}
	return vk.Fence(p), vk.Success
}

func (d *fakeDriver) DestroyFence(device vk.Device, fence vk.Fence) {
	p := unsafe.Pointer(fence)
	if f := d.fences[p]; f != nil && f.pending {
		d.violate("destroying a fence that is still pending")
	}
	if d.release(p, "fence") {
		delete(d.fences, p)
	}
}

func (d *fakeDriver) WaitForFences(device vk.Device, fences []vk.Fence, waitAll bool, timeout uint64) vk.Result {
	for _, h := range fences {
		f := d.fences[unsafe.Pointer(h)]
		if f == nil {
			d.violate("waiting on an unknown fence")
			return vk.ErrorDeviceLost
		}
		if !f.signaled && !f.pending {
			d.violate("waiting on a fence that was never submitted")
			return vk.Timeout
		}
		d.retire(func(s *fakeSubmission) bool { return s.fence == f })
	}
	return vk.Success
}

func (d *fakeDriver) ResetFences(device vk.Device, fences []vk.Fence) vk.Result {
	for _, h := range fences {
		f := d.fences[unsafe.Pointer(h)]
		if f.pending {
			d.violate("resetting a fence that is still pending")
		}
		f.signaled = false
	}
	return vk.Success
}

// Command pools and buffers

func (d *fakeDriver) CreateCommandPool(device vk.Device, info *vk.CommandPoolCreateInfo) (vk.CommandPool, vk.Result) {
	p := d.newHandle("command pool")
	d.pools[p] = &fakePool{buffers: make(map[unsafe.Pointer]bool)}
	return vk.CommandPool(p), vk.Success
}

func (d *fakeDriver) DestroyCommandPool(device vk.Device, pool vk.CommandPool) {
	p := unsafe.Pointer(pool)
	fp := d.pools[p]
	if !d.release(p, "command pool") {
		return
	}
	for cb := range fp.buffers {
		if d.cmdBuffers[cb].pending {
			d.violate("destroying a pool whose buffer is still pending")
		}
		delete(d.cmdBuffers, cb)
		delete(d.live, cb)
	}
	delete(d.pools, p)
}

func (d *fakeDriver) ResetCommandPool(device vk.Device, pool vk.CommandPool) vk.Result {
	fp := d.pools[unsafe.Pointer(pool)]
	for p := range fp.buffers {
		cb := d.cmdBuffers[p]
		if cb.pending {
			d.violate("resetting a pool whose buffer is still pending")
		}
		cb.recording = false
		cb.ops = nil
		cb.resetDrawState()
	}
	return vk.Success
}

func (d *fakeDriver) AllocateCommandBuffers(device vk.Device, info *vk.CommandBufferAllocateInfo) ([]vk.CommandBuffer, vk.Result) {
	fp := d.pools[unsafe.Pointer(info.CommandPool)]
	out := make([]vk.CommandBuffer, 0, info.CommandBufferCount)
	for i := uint32(0); i < info.CommandBufferCount; i++ {
		p := d.newHandle("command buffer")
		d.cmdBuffers[p] = &fakeCommandBuffer{pool: unsafe.Pointer(info.CommandPool)}
		fp.buffers[p] = true
		out = append(out, vk.CommandBuffer(p))
	}
	return out, vk.Success
}

func (d *fakeDriver) FreeCommandBuffers(device vk.Device, pool vk.CommandPool, buffers []vk.CommandBuffer) {
	fp := d.pools[unsafe.Pointer(pool)]
	for _, h := range buffers {
		p := unsafe.Pointer(h)
		if cb := d.cmdBuffers[p]; cb != nil && cb.pending {
			d.violate("freeing a command buffer that is still pending")
		}
		if d.release(p, "command buffer") {
			delete(d.cmdBuffers, p)
			delete(fp.buffers, p)
		}
	}
}

func (d *fakeDriver) BeginCommandBuffer(h vk.CommandBuffer, info *vk.CommandBufferBeginInfo) vk.Result {
	cb := d.cmdBuffers[unsafe.Pointer(h)]
	if cb.pending {
		d.violate("re-recording a command buffer whose submission is pending")
	}
	if cb.recording {
		d.violate("beginning a command buffer that is already recording")
	}
	cb.recording = true
	cb.ops = nil
	cb.resetDrawState()
	return vk.Success
}

func (d *fakeDriver) EndCommandBuffer(h vk.CommandBuffer) vk.Result {
	cb := d.cmdBuffers[unsafe.Pointer(h)]
	if !cb.recording {
		d.violate("ending a command buffer that is not recording")
	}
	if cb.renderPass != nil {
		d.violate("ending a command buffer inside a render pass")
	}
	cb.recording = false
	return vk.Success
}

func (d *fakeDriver) recording(h vk.CommandBuffer) *fakeCommandBuffer {
	cb := d.cmdBuffers[unsafe.Pointer(h)]
	if cb == nil || !cb.recording {
		d.violate("recording into a command buffer that is not recording")
		return &fakeCommandBuffer{}
	}
	return cb
}

// transferring returns the recording buffer and flags transfers recorded
// inside a render pass.
func (d *fakeDriver) transferring(h vk.CommandBuffer, what string) *fakeCommandBuffer {
	cb := d.recording(h)
	if cb.renderPass != nil {
		d.violate("%s recorded inside a render pass", what)
	}
	return cb
}

// drawing returns the recording buffer and flags draw state recorded outside
// a render pass.
func (d *fakeDriver) drawing(h vk.CommandBuffer, what string) *fakeCommandBuffer {
	cb := d.recording(h)
	if cb.renderPass == nil {
		d.violate("%s recorded outside a render pass", what)
	}
	return cb
}

func (d *fakeDriver) CmdCopyBuffer(h vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy) {
	cb := d.transferring(h, "buffer copy")
	s, t := d.buffers[unsafe.Pointer(src)], d.buffers[unsafe.Pointer(dst)]
	if s == nil || t == nil || s.memory == nil || t.memory == nil {
		d.violate("copy between unbound buffers")
		return
	}
	for _, r := range regions {
		r := r
		cb.ops = append(cb.ops, func() {
			copy(t.memory.data[r.DstOffset:r.DstOffset+r.Size], s.memory.data[r.SrcOffset:r.SrcOffset+r.Size])
		})
	}
}

func (d *fakeDriver) CmdCopyBufferToImage(h vk.CommandBuffer, src vk.Buffer, dst vk.Image, layout vk.ImageLayout, regions []vk.BufferImageCopy) {
	cb := d.transferring(h, "image copy")
	s, img := d.buffers[unsafe.Pointer(src)], d.images[unsafe.Pointer(dst)]
	if s == nil || img == nil || s.memory == nil || img.memory == nil {
		d.violate("copy into unbound image")
		return
	}
	if layout != vk.ImageLayoutTransferDstOptimal {
		d.violate("copy into image in layout %d", layout)
	}
	cb.ops = append(cb.ops, func() {
		if img.layout != vk.ImageLayoutTransferDstOptimal {
			d.violate("copy executed while image is in layout %d", img.layout)
		}
		n := img.width * img.height * img.texel
		copy(img.memory.data[:n], s.memory.data[:n])
	})
}

func (d *fakeDriver) CmdPipelineBarrier(h vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, bufferBarriers []vk.BufferMemoryBarrier, imageBarriers []vk.ImageMemoryBarrier) {
	cb := d.transferring(h, "pipeline barrier")
	for _, b := range bufferBarriers {
		if _, ok := d.buffers[unsafe.Pointer(b.Buffer)]; !ok {
			d.violate("barrier on an unknown buffer")
			continue
		}
		d.bufferBarriers = append(d.bufferBarriers, fakeBufferBarrier{
			buffer:    b.Buffer,
			srcStage:  srcStage,
			dstStage:  dstStage,
			srcAccess: b.SrcAccessMask,
			dstAccess: b.DstAccessMask,
		})
	}
	for _, b := range imageBarriers {
		b := b
		d.barriers = append(d.barriers, layoutTransition{b.OldLayout, b.NewLayout})
		img := d.images[unsafe.Pointer(b.Image)]
		if img == nil {
			d.violate("barrier on an unknown image")
			continue
		}
		if img.swapchain && b.OldLayout == vk.ImageLayoutUndefined {
			cb.swapchainStage |= srcStage
		}
		img.recorded = b.NewLayout
		cb.ops = append(cb.ops, func() {
			if b.OldLayout != vk.ImageLayoutUndefined && b.OldLayout != img.layout {
				d.violate("barrier expects layout %d, image is in %d", b.OldLayout, img.layout)
			}
			img.layout = b.NewLayout
		})
	}
}

func (d *fakeDriver) CmdBeginRenderPass(h vk.CommandBuffer, info *vk.RenderPassBeginInfo) {
	cb := d.transferring(h, "render pass begin")
	rp := d.renderPasses[unsafe.Pointer(info.RenderPass)]
	fb := d.framebuffers[unsafe.Pointer(info.Framebuffer)]
	switch {
	case rp == nil:
		d.violate("beginning an unknown render pass")
		return
	case fb == nil:
		d.violate("beginning a render pass with an unknown framebuffer")
		return
	case fb.renderPass != unsafe.Pointer(info.RenderPass):
		d.violate("framebuffer was created for another render pass")
	}
	if info.RenderArea.Extent.Width > fb.width || info.RenderArea.Extent.Height > fb.height {
		d.violate("render area exceeds the framebuffer")
	}
	if int(info.ClearValueCount) < len(rp.finalLayouts) {
		d.violate("%d clear values for %d cleared attachments", info.ClearValueCount, len(rp.finalLayouts))
	}
	d.renderPassesBegun++
	cb.renderPass = unsafe.Pointer(info.RenderPass)
	for i, v := range fb.views {
		img := d.images[unsafe.Pointer(d.views[unsafe.Pointer(v)])]
		if img == nil || i >= len(rp.finalLayouts) {
			d.violate("render pass attachment %d has no image", i)
			continue
		}
		if img.swapchain {
			cb.swapchainStage |= rp.srcStage
		}
		final := rp.finalLayouts[i]
		img.recorded = final
		cb.ops = append(cb.ops, func() { img.layout = final })
	}
}

func (d *fakeDriver) CmdEndRenderPass(h vk.CommandBuffer) {
	cb := d.drawing(h, "render pass end")
	cb.renderPass = nil
}

func (d *fakeDriver) CmdBindPipeline(h vk.CommandBuffer, pipeline vk.Pipeline) {
	cb := d.drawing(h, "pipeline bind")
	p := d.pipelines[unsafe.Pointer(pipeline)]
	if p == nil {
		d.violate("binding an unknown pipeline")
		return
	}
	cb.pipeline = p
}

func (d *fakeDriver) CmdSetViewport(h vk.CommandBuffer, viewport vk.Viewport) {
	cb := d.drawing(h, "viewport")
	if viewport.Width <= 0 || viewport.Height <= 0 {
		d.violate("empty viewport")
	}
	cb.viewport = true
}

func (d *fakeDriver) CmdSetScissor(h vk.CommandBuffer, scissor vk.Rect2D) {
	cb := d.drawing(h, "scissor")
	cb.scissor = true
}

func (d *fakeDriver) CmdBindDescriptorSets(h vk.CommandBuffer, layout vk.PipelineLayout, sets []vk.DescriptorSet) {
	cb := d.drawing(h, "descriptor set bind")
	if d.pipelineLayouts[unsafe.Pointer(layout)] == nil {
		d.violate("binding sets with an unknown pipeline layout")
	}
	for _, s := range sets {
		set := d.descriptorSets[unsafe.Pointer(s)]
		if set == nil {
			d.violate("binding an unknown descriptor set")
			continue
		}
		cb.set = set
	}
}

func (d *fakeDriver) CmdPushConstants(h vk.CommandBuffer, layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	cb := d.drawing(h, "push constants")
	l := d.pipelineLayouts[unsafe.Pointer(layout)]
	if l == nil {
		d.violate("pushing constants with an unknown pipeline layout")
		return
	}
	if offset+uint32(len(data)) > l.pushConstantSize {
		d.violate("pushing %d bytes at %d past the %d byte range", len(data), offset, l.pushConstantSize)
	}
	cb.pushed = append([]byte(nil), data...)
}

func (d *fakeDriver) CmdBindVertexBuffers(h vk.CommandBuffer, firstBinding uint32, buffers []vk.Buffer, offsets []vk.DeviceSize) {
	cb := d.drawing(h, "vertex buffer bind")
	if len(offsets) != len(buffers) {
		d.violate("%d vertex buffers with %d offsets", len(buffers), len(offsets))
	}
	if cb.vertexBuffers == nil {
		cb.vertexBuffers = make(map[uint32]vk.Buffer)
	}
	for i, b := range buffers {
		cb.vertexBuffers[firstBinding+uint32(i)] = b
	}
}

func (d *fakeDriver) CmdBindIndexBuffer(h vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize, indexType vk.IndexType) {
	cb := d.drawing(h, "index buffer bind")
	cb.indexBuffer = buffer
}

func (d *fakeDriver) boundBuffer(b vk.Buffer, what string) *fakeBuffer {
	fb := d.buffers[unsafe.Pointer(b)]
	if fb == nil || fb.memory == nil {
		d.violate("%s is not a live bound buffer", what)
		return nil
	}
	return fb
}

func (d *fakeDriver) CmdDrawIndexed(h vk.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	cb := d.drawing(h, "draw")
	switch {
	case cb.pipeline == nil:
		d.violate("draw without a pipeline")
		return
	case cb.pipeline.renderPass != cb.renderPass:
		d.violate("draw with a pipeline built for another render pass")
	}
	if !cb.viewport || !cb.scissor {
		d.violate("draw without a dynamic viewport and scissor")
	}
	if cb.set == nil || cb.set.view == nil {
		d.violate("draw without a written descriptor set")
	} else if _, ok := d.views[unsafe.Pointer(cb.set.view)]; !ok {
		d.violate("draw samples an image view that is not alive")
	}
	if len(cb.pushed) != pushConstantSize {
		d.violate("draw with %d bytes of push constants", len(cb.pushed))
	}
	d.boundBuffer(cb.vertexBuffers[cubeBinding], "cube vertex buffer")
	if ib := d.boundBuffer(cb.indexBuffer, "index buffer"); ib != nil && uint64(ib.size) < uint64(firstIndex+indexCount)*2 {
		d.violate("index buffer of %d bytes holds fewer than %d indices", ib.size, indexCount)
	}
	instances := cb.vertexBuffers[instanceBinding]
	if ib := d.boundBuffer(instances, "instance buffer"); ib != nil {
		if need := uint64(firstInstance+instanceCount) * metadata.InstanceStride; uint64(ib.size) < need {
			d.violate("instance buffer of %d bytes holds fewer than %d instances", ib.size, instanceCount)
		}
	}
	draw := fakeDraw{
		indexCount:     indexCount,
		instanceCount:  instanceCount,
		instanceBuffer: instances,
		viewProjection: cb.pushed,
	}
	if cb.set != nil {
		draw.paletteView = cb.set.view
	}
	d.draws = append(d.draws, draw)
}

var _ Driver = (*fakeDriver)(nil)

// fakeSurface is the window side of the tests.
type fakeSurface struct {
	driver *fakeDriver
	fail   error
}

func (s *fakeSurface) RequiredInstanceExtensions() []string {
	return []string{"VK_KHR_xcb_surface"}
}

func (s *fakeSurface) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	return vk.Surface(s.driver.newHandle("surface")), nil
}

func (s *fakeSurface) FramebufferSize() (uint32, uint32) {
	return s.driver.width, s.driver.height
}

func newTestContext(t *testing.T, d *fakeDriver) *VulkanContext {
	t.Helper()
	ctx, err := ContextCreate(d, "automata-test", true, &fakeSurface{driver: d})
	if err != nil {
		t.Fatalf("ContextCreate: %v", err)
	}
	return ctx
}
