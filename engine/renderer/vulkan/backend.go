package vulkan

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"math/bits"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/automata/engine/core"
	emath "github.com/spaghettifunk/automata/engine/math"
	"github.com/spaghettifunk/automata/engine/renderer/metadata"
)

const (
	minInstanceBufferSize = 4096
	// Texels in the cell state palette.
	paletteWidth = 256
)

// ShaderProvider hands out SPIR-V bytecode by name. Generation changes every
// time any shader was reloaded.
type ShaderProvider interface {
	ShaderCode(name string) ([]uint32, error)
	Generation() uint64
}

type Options struct {
	FramesInFlight int
	Validation     bool
	PresentMode    vk.PresentMode
	// Zero waits forever.
	FenceTimeout time.Duration
	// Shader modules built during Initialize.
	Shaders []string
	// Stages of the voxel pipeline, voxel.vert and voxel.frag when empty.
	VertexShader   string
	FragmentShader string
	// Driver overrides the goki bindings, mostly for tests. When nil the
	// loader is initialised through glfw.
	Driver Driver
}

type shaderModule struct {
	module     vk.ShaderModule
	generation uint64
}

type trackedResource struct {
	handle ResourceHandle
	size   uint64
	valid  bool
}

type VulkanRenderer struct {
	surfaces SurfaceProvider
	shaders  ShaderProvider
	opts     Options

	context   *VulkanContext
	allocator *Allocator
	resources *ResourceManager
	swapchain *SwapchainManager
	frames    *FrameSync

	// Run in reverse by Shutdown, or right away when Initialize fails.
	teardown []func() error

	instances []trackedResource
	palette   trackedResource
	modules   map[string]*shaderModule

	descriptor *PaletteDescriptor
	cube       *CubeMesh
	pipeline   *VulkanPipeline
	// Shader generation the pipeline was built from.
	pipelineGeneration uint64

	initialized bool
}

func New(surfaces SurfaceProvider, shaders ShaderProvider, opts Options) *VulkanRenderer {
	if opts.FramesInFlight == 0 {
		opts.FramesInFlight = 2
	}
	if opts.VertexShader == "" {
		opts.VertexShader = "voxel.vert"
	}
	if opts.FragmentShader == "" {
		opts.FragmentShader = "voxel.frag"
	}
	return &VulkanRenderer{
		surfaces: surfaces,
		shaders:  shaders,
		opts:     opts,
		modules:  make(map[string]*shaderModule),
	}
}

func (vr *VulkanRenderer) Initialize(appName string, appWidth, appHeight uint32) error {
	if vr.initialized {
		return errors.AssertionFailedf("renderer already initialized")
	}
	driver := vr.opts.Driver
	if driver == nil {
		procAddr := glfw.GetVulkanGetInstanceProcAddress()
		if procAddr == nil {
			return errors.Mark(errors.New("GetInstanceProcAddress is nil"), core.ErrDeviceInit)
		}
		vk.SetGetInstanceProcAddr(procAddr)
		if err := vk.Init(); err != nil {
			return errors.Mark(errors.Wrap(err, "initializing the vulkan loader"), core.ErrDeviceInit)
		}
		driver = NewDriver()
	}

	if err := vr.build(driver, appName, appWidth, appHeight); err != nil {
		if terr := vr.runTeardown(); terr != nil {
			core.LogError("tearing down after a failed init: %v", terr)
		}
		return err
	}
	vr.initialized = true
	core.LogInfo("Vulkan renderer initialized: %d frames in flight, %dx%d.", vr.opts.FramesInFlight, appWidth, appHeight)
	return nil
}

func (vr *VulkanRenderer) build(driver Driver, appName string, width, height uint32) error {
	ctx, err := ContextCreate(driver, appName, vr.opts.Validation, vr.surfaces)
	if err != nil {
		return err
	}
	vr.context = ctx
	vr.push(ctx.Shutdown)

	vr.allocator = NewAllocator(ctx)
	vr.push(vr.allocator.Destroy)

	rm, err := NewResourceManager(ctx, vr.allocator, vr.opts.FramesInFlight)
	if err != nil {
		return err
	}
	vr.resources = rm
	vr.push(rm.Shutdown)

	vr.swapchain = NewSwapchainManager(ctx, vr.surfaces, rm, vr.opts.PresentMode)
	vr.push(func() error {
		vr.swapchain.Destroy()
		return nil
	})
	if err := vr.swapchain.Create(width, height); err != nil {
		return err
	}

	fs, err := NewFrameSync(ctx, vr.swapchain, rm, vr.opts.FramesInFlight, uint64(vr.opts.FenceTimeout.Nanoseconds()))
	if err != nil {
		return err
	}
	vr.frames = fs
	vr.push(func() error {
		vr.frames.Destroy()
		return nil
	})

	vr.instances = make([]trackedResource, vr.opts.FramesInFlight)
	vr.push(vr.destroyFrameResources)
	vr.push(func() error {
		vr.destroyShaderModules()
		return nil
	})
	for _, name := range vr.opts.Shaders {
		if _, err := vr.ShaderModule(name); err != nil {
			return err
		}
	}

	if vr.descriptor, err = NewPaletteDescriptor(ctx); err != nil {
		return err
	}
	vr.push(func() error {
		vr.descriptor.Destroy()
		return nil
	})
	if err := vr.uploadPalette(defaultPalette()); err != nil {
		return err
	}
	if vr.cube, err = NewCubeMesh(rm); err != nil {
		return err
	}
	vr.push(vr.cube.Destroy)
	vr.push(func() error {
		vr.destroyPipeline()
		return nil
	})
	return nil
}

// defaultPalette is a grey ramp, used until SetPalette is called.
func defaultPalette() image.Image {
	img := image.NewGray(image.Rect(0, 0, paletteWidth, 1))
	for x := 0; x < paletteWidth; x++ {
		img.SetGray(x, 0, color.Gray{Y: uint8(x)})
	}
	return img
}

func (vr *VulkanRenderer) push(fn func() error) {
	vr.teardown = append(vr.teardown, fn)
}

func (vr *VulkanRenderer) runTeardown() error {
	var errs error
	if vr.context != nil {
		errs = vr.context.WaitIdle()
	}
	for i := len(vr.teardown) - 1; i >= 0; i-- {
		errs = errors.CombineErrors(errs, vr.teardown[i]())
	}
	vr.teardown = nil
	return errs
}

// Shutdown waits for the GPU and releases everything in reverse creation
// order. Every step runs even if an earlier one failed.
func (vr *VulkanRenderer) Shutdown() error {
	if !vr.initialized {
		return nil
	}
	vr.initialized = false
	err := vr.runTeardown()
	if err != nil {
		core.LogError("Vulkan renderer shutdown: %v", err)
		return err
	}
	core.LogInfo("Vulkan renderer shut down.")
	return nil
}

// Resized only flags the swapchain; the rebuild happens on the next frame.
func (vr *VulkanRenderer) Resized(width, height uint32) {
	if !vr.initialized {
		return
	}
	core.LogDebug("Vulkan renderer resized to %dx%d.", width, height)
	vr.swapchain.MarkRecreationPending()
}

// DrawFrame uploads the packet's instance data into the current slot's
// buffer and draws one cube per instance over the clear colour.
func (vr *VulkanRenderer) DrawFrame(packet *metadata.RenderPacket) error {
	if !vr.initialized {
		return errors.AssertionFailedf("drawing with an uninitialized renderer")
	}
	if err := vr.refreshShaderModules(); err != nil {
		core.LogWarn("Keeping the previous shader modules: %v", err)
	}
	return vr.frames.DrawFrame(func(f *Frame) error {
		if err := vr.writeInstances(f.Slot, packet.InstanceData); err != nil {
			return err
		}
		if err := f.BeginRenderPass(packet.ClearColor); err != nil {
			return err
		}
		if err := vr.drawInstances(f, packet); err != nil {
			return err
		}
		return f.EndRenderPass()
	})
}

// drawInstances records the voxel draw. Only whole instances present in the
// slot's buffer are drawn.
func (vr *VulkanRenderer) drawInstances(f *Frame, packet *metadata.RenderPacket) error {
	count := packet.InstanceCount
	if available := uint32(len(packet.InstanceData) / metadata.InstanceStride); count > available {
		count = available
	}
	if count == 0 {
		return nil
	}
	instances, ok := vr.InstanceBuffer(f.Slot)
	if !ok {
		return errors.AssertionFailedf("slot %d has instances but no buffer", f.Slot)
	}
	pipeline, err := vr.ensurePipeline(f.RenderPass)
	if err != nil {
		return err
	}
	cb := f.CommandBuffer
	pipeline.Bind(cb)
	cb.SetViewport(f.Extent)
	pipeline.BindDescriptorSet(cb, vr.descriptor.Set)
	if err := pipeline.PushViewProjection(cb, matrixBytes(packet.ViewProjection)); err != nil {
		return err
	}
	if err := vr.cube.Bind(cb, instances); err != nil {
		return err
	}
	return cb.DrawIndexed(vr.cube.IndexCount, count)
}

// matrixBytes lays m out the way GLSL reads a mat4 push constant.
func matrixBytes(m emath.Mat4) []byte {
	out := make([]byte, 0, pushConstantSize)
	for _, v := range m.Data {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

// ensurePipeline builds the voxel pipeline on first use and again whenever
// the shaders were reloaded or the render pass was replaced.
func (vr *VulkanRenderer) ensurePipeline(renderPass *VulkanRenderPass) (*VulkanPipeline, error) {
	if vr.shaders == nil {
		return nil, errors.AssertionFailedf("no shader provider configured")
	}
	generation := vr.shaders.Generation()
	if vr.pipeline != nil && vr.pipeline.RenderPass == renderPass && vr.pipelineGeneration == generation {
		return vr.pipeline, nil
	}
	vertex, err := vr.ShaderModule(vr.opts.VertexShader)
	if err != nil {
		return nil, err
	}
	fragment, err := vr.ShaderModule(vr.opts.FragmentShader)
	if err != nil {
		return nil, err
	}
	pipeline, err := NewGraphicsPipeline(vr.context, &VulkanPipelineConfig{
		RenderPass: renderPass,
		Stages: []vk.PipelineShaderStageCreateInfo{
			shaderStage(vertex, vk.ShaderStageVertexBit),
			shaderStage(fragment, vk.ShaderStageFragmentBit),
		},
		DescriptorSetLayouts: []vk.DescriptorSetLayout{vr.descriptor.Layout},
		CullMode:             vk.CullModeBackBit,
	})
	if err != nil {
		return nil, err
	}
	if vr.pipeline != nil {
		// Earlier frames in flight may still use the old pipeline.
		if err := vr.context.WaitIdle(); err != nil {
			pipeline.Destroy()
			return nil, err
		}
		vr.destroyPipeline()
	}
	vr.pipeline = pipeline
	vr.pipelineGeneration = generation
	core.LogDebug("Voxel pipeline built (shader generation %d).", generation)
	return pipeline, nil
}

func (vr *VulkanRenderer) destroyPipeline() {
	if vr.pipeline != nil {
		vr.pipeline.Destroy()
		vr.pipeline = nil
	}
}

// writeInstances runs after the slot's fence was waited on, so the slot's
// buffer is no longer read by the GPU.
func (vr *VulkanRenderer) writeInstances(slot int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	ib := &vr.instances[slot]
	need := uint64(len(data))
	if !ib.valid || ib.size < need {
		if ib.valid {
			if err := vr.resources.DestroyDeferred(ib.handle, slot); err != nil {
				return err
			}
			ib.valid = false
		}
		size := instanceBufferSize(need)
		h, err := vr.resources.CreateHostVisibleBuffer(size, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
		if err != nil {
			return err
		}
		*ib = trackedResource{handle: h, size: size, valid: true}
		core.LogDebug("Instance buffer for slot %d grown to %d bytes.", slot, size)
	}
	return vr.resources.WriteBuffer(ib.handle, 0, data)
}

// instanceBufferSize rounds up to the next power of two.
func instanceBufferSize(need uint64) uint64 {
	if need <= minInstanceBufferSize {
		return minInstanceBufferSize
	}
	return 1 << bits.Len64(need-1)
}

// InstanceBuffer returns the buffer the given slot last wrote instances to.
func (vr *VulkanRenderer) InstanceBuffer(slot int) (vk.Buffer, bool) {
	if slot < 0 || slot >= len(vr.instances) || !vr.instances[slot].valid {
		return nil, false
	}
	buf, err := vr.resources.Buffer(vr.instances[slot].handle)
	if err != nil {
		return nil, false
	}
	return buf, true
}

// SetPalette uploads the colours cell states are looked up in. The picture
// is scaled to paletteWidth x 1.
func (vr *VulkanRenderer) SetPalette(img image.Image) error {
	if !vr.initialized {
		return errors.AssertionFailedf("uploading a palette to an uninitialized renderer")
	}
	return vr.uploadPalette(img)
}

func (vr *VulkanRenderer) uploadPalette(img image.Image) error {
	pixels := ImagePixelsFromPicture(img, paletteWidth, 1)
	if vr.palette.valid {
		// Frames in flight may still sample the old texels.
		if err := vr.context.WaitIdle(); err != nil {
			return err
		}
		return vr.resources.UpdateImage(vr.palette.handle, pixels)
	}
	h, err := vr.resources.CreateDeviceLocalImage(paletteWidth, 1, vk.FormatR8g8b8a8Unorm, vk.ImageUsageFlags(vk.ImageUsageSampledBit), pixels)
	if err != nil {
		return err
	}
	vr.palette = trackedResource{handle: h, size: uint64(len(pixels)), valid: true}
	palette, err := vr.resources.Image(h)
	if err != nil {
		return err
	}
	vr.descriptor.Write(palette.View)
	return nil
}

func (vr *VulkanRenderer) destroyFrameResources() error {
	var errs error
	for i := range vr.instances {
		if vr.instances[i].valid {
			errs = errors.CombineErrors(errs, vr.resources.Destroy(vr.instances[i].handle))
			vr.instances[i].valid = false
		}
	}
	if vr.palette.valid {
		errs = errors.CombineErrors(errs, vr.resources.Destroy(vr.palette.handle))
		vr.palette.valid = false
	}
	return errs
}

// ShaderModule returns a cached module for name, building it from the
// provider when missing or stale.
func (vr *VulkanRenderer) ShaderModule(name string) (vk.ShaderModule, error) {
	if vr.shaders == nil {
		return nil, errors.AssertionFailedf("no shader provider configured")
	}
	generation := vr.shaders.Generation()
	if m, ok := vr.modules[name]; ok && m.generation == generation {
		return m.module, nil
	}
	code, err := vr.shaders.ShaderCode(name)
	if err != nil {
		return nil, errors.Wrapf(err, "loading shader %s", name)
	}
	module, res := vr.context.Driver.CreateShaderModule(vr.context.LogicalDevice(), code)
	if res != vk.Success {
		return nil, vkError(res, "creating shader module %s", name)
	}
	if old, ok := vr.modules[name]; ok {
		vr.context.Driver.DestroyShaderModule(vr.context.LogicalDevice(), old.module)
	}
	vr.modules[name] = &shaderModule{module: module, generation: generation}
	core.LogDebug("Shader module %s built (generation %d).", name, generation)
	return module, nil
}

// A pipeline does not need its modules once built, so stale ones can be
// rebuilt between frames.
func (vr *VulkanRenderer) refreshShaderModules() error {
	if vr.shaders == nil || len(vr.modules) == 0 {
		return nil
	}
	generation := vr.shaders.Generation()
	var errs error
	for name, m := range vr.modules {
		if m.generation == generation {
			continue
		}
		if _, err := vr.ShaderModule(name); err != nil {
			// Keep the old module and stop retrying until the next reload.
			m.generation = generation
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

func (vr *VulkanRenderer) destroyShaderModules() {
	for name, m := range vr.modules {
		vr.context.Driver.DestroyShaderModule(vr.context.LogicalDevice(), m.module)
		delete(vr.modules, name)
	}
}

// FrameNumber is the number of frames presented so far.
func (vr *VulkanRenderer) FrameNumber() uint64 {
	if vr.frames == nil {
		return 0
	}
	return vr.frames.FrameNumber()
}

// Stats reports the live GPU allocations as JSON.
func (vr *VulkanRenderer) Stats() []byte {
	if vr.allocator == nil {
		return []byte("{}")
	}
	return vr.allocator.StatsJSON()
}
