package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/automata/engine/containers"
	"github.com/spaghettifunk/automata/engine/core"
)

type ResourceKind int

const (
	ResourceBuffer ResourceKind = iota
	ResourceImage
)

func (k ResourceKind) String() string {
	if k == ResourceImage {
		return "image"
	}
	return "buffer"
}

// ResourceHandle names a buffer or image owned by the ResourceManager.
type ResourceHandle struct {
	ID   core.Identifier
	Kind ResourceKind
}

func (h ResourceHandle) String() string {
	return h.Kind.String() + ":" + h.ID.String()
}

// Destroyed IDs remembered for double free and use after free reports.
// Older ones fall back to "unknown resource".
const maxTombstones = 1024

type resource struct {
	handle ResourceHandle
	alloc  *Allocation
	usage  vk.BufferUsageFlags
	image  VulkanImage
	// Queued for destruction at the end of a frame slot.
	deferred bool
}

// ResourceManager owns every buffer and image of the renderer together with
// its memory. Device local data is uploaded through short lived staging
// buffers on the graphics queue.
type ResourceManager struct {
	context    *VulkanContext
	allocator  *Allocator
	uploadPool *CommandPool

	resources map[core.Identifier]*resource
	deferred  []*containers.RingQueue[ResourceHandle]

	destroyed  map[core.Identifier]struct{}
	tombstones *containers.RingQueue[core.Identifier]
}

// NewResourceManager creates a manager with one deferred destruction queue
// per frame slot.
func NewResourceManager(context *VulkanContext, allocator *Allocator, slots int) (*ResourceManager, error) {
	if slots < 1 {
		return nil, errors.AssertionFailedf("resource manager needs at least one slot, got %d", slots)
	}
	pool, err := NewCommandPool(context, uint32(context.QueueFamilies().Graphics), true)
	if err != nil {
		return nil, errors.Wrap(err, "creating the upload command pool")
	}
	rm := &ResourceManager{
		context:    context,
		allocator:  allocator,
		uploadPool: pool,
		resources:  make(map[core.Identifier]*resource),
		deferred:   make([]*containers.RingQueue[ResourceHandle], slots),
		destroyed:  make(map[core.Identifier]struct{}),
		tombstones: containers.NewRingQueue[core.Identifier](64),
	}
	for i := range rm.deferred {
		rm.deferred[i] = containers.NewRingQueue[ResourceHandle](16)
	}
	return rm, nil
}

func (rm *ResourceManager) Allocator() *Allocator {
	return rm.allocator
}

// CreateDeviceLocalBuffer creates a buffer in device local memory and, when
// data is given, uploads it before returning.
func (rm *ResourceManager) CreateDeviceLocalBuffer(size uint64, usage vk.BufferUsageFlags, data []byte) (ResourceHandle, error) {
	if uint64(len(data)) > size {
		return ResourceHandle{}, errors.AssertionFailedf("initial data of %d bytes does not fit a %d byte buffer", len(data), size)
	}
	usage |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit | vk.BufferUsageTransferSrcBit)
	alloc, err := rm.allocateWithRetry(func() (*Allocation, error) {
		return rm.allocator.AllocateBuffer(vk.DeviceSize(size), usage, MemoryClassDeviceLocal)
	})
	if err != nil {
		return ResourceHandle{}, err
	}
	if len(data) > 0 {
		if err := rm.uploadBuffer(alloc.Buffer, data); err != nil {
			return ResourceHandle{}, errors.CombineErrors(err, rm.allocator.Free(alloc))
		}
	}
	return rm.register(ResourceBuffer, alloc, usage, VulkanImage{}), nil
}

// CreateHostVisibleBuffer creates a persistently mapped buffer the CPU writes
// through WriteBuffer.
func (rm *ResourceManager) CreateHostVisibleBuffer(size uint64, usage vk.BufferUsageFlags) (ResourceHandle, error) {
	alloc, err := rm.allocateWithRetry(func() (*Allocation, error) {
		return rm.allocator.AllocateBuffer(vk.DeviceSize(size), usage, MemoryClassHostVisibleCoherent)
	})
	if err != nil {
		return ResourceHandle{}, err
	}
	return rm.register(ResourceBuffer, alloc, usage, VulkanImage{}), nil
}

// WriteBuffer copies data into a host visible buffer at offset.
func (rm *ResourceManager) WriteBuffer(h ResourceHandle, offset uint64, data []byte) error {
	r, err := rm.lookup(h, ResourceBuffer)
	if err != nil {
		return err
	}
	if r.alloc.Class == MemoryClassDeviceLocal {
		return errors.AssertionFailedf("%s is device local, use an upload", h)
	}
	return r.alloc.Write(offset, data)
}

// ReadBuffer returns the current contents of a buffer. Device local buffers
// are copied through a staging buffer.
func (rm *ResourceManager) ReadBuffer(h ResourceHandle) (_ []byte, err error) {
	r, err := rm.lookup(h, ResourceBuffer)
	if err != nil {
		return nil, err
	}
	if r.alloc.Class != MemoryClassDeviceLocal {
		mapped, err := r.alloc.Mapped()
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), mapped...), nil
	}

	staging, err := rm.allocateWithRetry(func() (*Allocation, error) {
		return rm.allocator.AllocateBuffer(r.alloc.Size, vk.BufferUsageFlags(vk.BufferUsageTransferDstBit), MemoryClassStaging)
	})
	if err != nil {
		return nil, errors.Wrap(err, "allocating readback staging buffer")
	}
	defer func() {
		err = errors.CombineErrors(err, rm.allocator.Free(staging))
	}()

	err = rm.submitTransfer(func(cb *VulkanCommandBuffer) error {
		cb.CopyBuffer(r.alloc.Buffer, staging.Buffer, r.alloc.Size)
		return cb.BufferBarrier(staging.Buffer, BufferUseHostRead)
	})
	if err != nil {
		return nil, err
	}
	mapped, err := staging.Mapped()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), mapped...), nil
}

func (rm *ResourceManager) Buffer(h ResourceHandle) (vk.Buffer, error) {
	r, err := rm.lookup(h, ResourceBuffer)
	if err != nil {
		return nil, err
	}
	return r.alloc.Buffer, nil
}

// CreateDeviceLocalImage creates a 2D image with a view. When pixels are
// given they are uploaded and the image is left ready for shader reads.
func (rm *ResourceManager) CreateDeviceLocalImage(width, height uint32, format vk.Format, usage vk.ImageUsageFlags, pixels []byte) (ResourceHandle, error) {
	if width == 0 || height == 0 {
		return ResourceHandle{}, errors.AssertionFailedf("image extent %dx%d is empty", width, height)
	}
	usage |= vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)
	info := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        format,
		Extent:        vk.Extent3D{Width: width, Height: height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	alloc, err := rm.allocateWithRetry(func() (*Allocation, error) {
		return rm.allocator.AllocateImage(&info, MemoryClassDeviceLocal)
	})
	if err != nil {
		return ResourceHandle{}, err
	}
	view, err := createImageView(rm.context, alloc.Image, format, vk.ImageAspectColorBit)
	if err != nil {
		return ResourceHandle{}, errors.CombineErrors(err, rm.allocator.Free(alloc))
	}
	img := VulkanImage{
		Handle: alloc.Image,
		View:   view,
		Width:  width,
		Height: height,
		Format: format,
		Layout: vk.ImageLayoutUndefined,
	}
	h := rm.register(ResourceImage, alloc, 0, img)
	if pixels != nil {
		if err := rm.UpdateImage(h, pixels); err != nil {
			return ResourceHandle{}, errors.CombineErrors(err, rm.Destroy(h))
		}
	}
	return h, nil
}

// UpdateImage replaces every texel of an image and leaves it in
// SHADER_READ_ONLY layout.
func (rm *ResourceManager) UpdateImage(h ResourceHandle, pixels []byte) (err error) {
	r, err := rm.lookup(h, ResourceImage)
	if err != nil {
		return err
	}
	img := &r.image
	texel, ok := formatTexelSize[img.Format]
	if !ok {
		return errors.AssertionFailedf("uploads are not supported for format %d", img.Format)
	}
	if want := uint64(img.Width) * uint64(img.Height) * uint64(texel); uint64(len(pixels)) != want {
		return errors.AssertionFailedf("image %s needs %d bytes of pixels, got %d", h, want, len(pixels))
	}

	staging, err := rm.stage(pixels)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, rm.allocator.Free(staging))
	}()

	err = rm.submitTransfer(func(cb *VulkanCommandBuffer) error {
		if err := cb.TransitionImageLayout(img.Handle, img.Layout, vk.ImageLayoutTransferDstOptimal); err != nil {
			return err
		}
		cb.CopyBufferToImage(staging.Buffer, img.Handle, img.Width, img.Height)
		return cb.TransitionImageLayout(img.Handle, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
	})
	if err != nil {
		return err
	}
	img.Layout = vk.ImageLayoutShaderReadOnlyOptimal
	return nil
}

// CreateDepthImage creates a depth attachment with a depth aspect view. It
// is never uploaded to, the render pass clears it.
func (rm *ResourceManager) CreateDepthImage(width, height uint32, format vk.Format) (ResourceHandle, error) {
	if width == 0 || height == 0 {
		return ResourceHandle{}, errors.AssertionFailedf("depth extent %dx%d is empty", width, height)
	}
	info := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        format,
		Extent:        vk.Extent3D{Width: width, Height: height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	alloc, err := rm.allocateWithRetry(func() (*Allocation, error) {
		return rm.allocator.AllocateImage(&info, MemoryClassDeviceLocal)
	})
	if err != nil {
		return ResourceHandle{}, err
	}
	view, err := createImageView(rm.context, alloc.Image, format, vk.ImageAspectDepthBit)
	if err != nil {
		return ResourceHandle{}, errors.CombineErrors(err, rm.allocator.Free(alloc))
	}
	return rm.register(ResourceImage, alloc, 0, VulkanImage{
		Handle: alloc.Image,
		View:   view,
		Width:  width,
		Height: height,
		Format: format,
		Layout: vk.ImageLayoutUndefined,
	}), nil
}

func (rm *ResourceManager) Image(h ResourceHandle) (VulkanImage, error) {
	r, err := rm.lookup(h, ResourceImage)
	if err != nil {
		return VulkanImage{}, err
	}
	return r.image, nil
}

// Destroy releases the object and its memory immediately. The caller must
// know the GPU no longer uses it.
func (rm *ResourceManager) Destroy(h ResourceHandle) error {
	if _, ok := rm.destroyed[h.ID]; ok {
		return errors.Mark(errors.Newf("%s destroyed twice", h), core.ErrDoubleFree)
	}
	r, ok := rm.resources[h.ID]
	if !ok {
		return errors.AssertionFailedf("unknown resource %s", h)
	}
	return rm.release(r)
}

// DestroyDeferred schedules h for destruction once the given frame slot has
// been waited on.
func (rm *ResourceManager) DestroyDeferred(h ResourceHandle, slot int) error {
	if slot < 0 || slot >= len(rm.deferred) {
		return errors.AssertionFailedf("frame slot %d out of range [0, %d)", slot, len(rm.deferred))
	}
	r, err := rm.lookup(h, h.Kind)
	if err != nil {
		return err
	}
	if r.deferred {
		return errors.Mark(errors.Newf("%s already scheduled for destruction", h), core.ErrDoubleFree)
	}
	r.deferred = true
	rm.deferred[slot].Enqueue(h)
	return nil
}

// FlushDeferred destroys everything queued on slot. Call it right after the
// slot's fence was waited on.
func (rm *ResourceManager) FlushDeferred(slot int) error {
	if slot < 0 || slot >= len(rm.deferred) {
		return errors.AssertionFailedf("frame slot %d out of range [0, %d)", slot, len(rm.deferred))
	}
	var errs error
	queue := rm.deferred[slot]
	for !queue.IsEmpty() {
		h, err := queue.Dequeue()
		if err != nil {
			break
		}
		if r, ok := rm.resources[h.ID]; ok {
			errs = errors.CombineErrors(errs, rm.release(r))
		}
	}
	return errs
}

// FlushAllDeferred destroys every queued resource. The device must be idle.
func (rm *ResourceManager) FlushAllDeferred() error {
	var errs error
	for slot := range rm.deferred {
		errs = errors.CombineErrors(errs, rm.FlushDeferred(slot))
	}
	return errs
}

func (rm *ResourceManager) Live() int {
	return len(rm.resources)
}

// Shutdown flushes deferred work and verifies nothing leaked. Leaked
// resources are logged, released and reported.
func (rm *ResourceManager) Shutdown() error {
	errs := rm.FlushAllDeferred()
	if len(rm.resources) > 0 {
		leaked := len(rm.resources)
		for _, r := range rm.resources {
			core.LogError("Leaked %s (%s, %d bytes).", r.handle, r.alloc.Class, r.alloc.Size)
			errs = errors.CombineErrors(errs, rm.release(r))
		}
		errs = errors.CombineErrors(errs, errors.Mark(errors.Newf("%d resources were still alive at shutdown", leaked), core.ErrLeakedAllocations))
	}
	if rm.uploadPool != nil {
		rm.uploadPool.Destroy()
		rm.uploadPool = nil
	}
	return errs
}

func (rm *ResourceManager) register(kind ResourceKind, alloc *Allocation, usage vk.BufferUsageFlags, img VulkanImage) ResourceHandle {
	h := ResourceHandle{ID: alloc.ID, Kind: kind}
	rm.resources[h.ID] = &resource{
		handle: h,
		alloc:  alloc,
		usage:  usage,
		image:  img,
	}
	return h
}

func (rm *ResourceManager) lookup(h ResourceHandle, kind ResourceKind) (*resource, error) {
	if _, ok := rm.destroyed[h.ID]; ok {
		return nil, errors.Mark(errors.Newf("%s used after destroy", h), core.ErrUseAfterFree)
	}
	r, ok := rm.resources[h.ID]
	if !ok {
		return nil, errors.AssertionFailedf("unknown resource %s", h)
	}
	if r.handle.Kind != kind {
		return nil, errors.AssertionFailedf("%s is not a %s", h, kind)
	}
	return r, nil
}

func (rm *ResourceManager) release(r *resource) error {
	if r.image.View != nil {
		rm.context.Driver.DestroyImageView(rm.context.LogicalDevice(), r.image.View)
		r.image.View = nil
	}
	delete(rm.resources, r.handle.ID)
	rm.remember(r.handle.ID)
	return rm.allocator.Free(r.alloc)
}

// remember keeps the newest maxTombstones destroyed IDs.
func (rm *ResourceManager) remember(id core.Identifier) {
	rm.destroyed[id] = struct{}{}
	rm.tombstones.Enqueue(id)
	for rm.tombstones.Len() > maxTombstones {
		oldest, err := rm.tombstones.Dequeue()
		if err != nil {
			break
		}
		delete(rm.destroyed, oldest)
	}
}

// Tombstones is the number of destroyed IDs still recognised.
func (rm *ResourceManager) Tombstones() int {
	return len(rm.destroyed)
}

// allocateWithRetry drains the device and flushes every deferred destruction
// before a single retry when the first attempt ran out of memory.
func (rm *ResourceManager) allocateWithRetry(allocate func() (*Allocation, error)) (*Allocation, error) {
	alloc, err := allocate()
	if err == nil || !errors.Is(err, core.ErrAllocationFailure) {
		return alloc, err
	}
	core.LogWarn("Allocation failed, reclaiming deferred resources and retrying: %v", err)
	if werr := rm.context.WaitIdle(); werr != nil {
		return nil, errors.CombineErrors(err, werr)
	}
	if ferr := rm.FlushAllDeferred(); ferr != nil {
		return nil, errors.CombineErrors(err, ferr)
	}
	return allocate()
}

func (rm *ResourceManager) stage(data []byte) (*Allocation, error) {
	staging, err := rm.allocateWithRetry(func() (*Allocation, error) {
		return rm.allocator.AllocateBuffer(vk.DeviceSize(len(data)), vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), MemoryClassStaging)
	})
	if err != nil {
		return nil, errors.Wrap(err, "allocating staging buffer")
	}
	if err := staging.Write(0, data); err != nil {
		return nil, errors.CombineErrors(err, rm.allocator.Free(staging))
	}
	return staging, nil
}

// uploadBuffer copies data into dst and makes it visible to draws.
func (rm *ResourceManager) uploadBuffer(dst vk.Buffer, data []byte) (err error) {
	staging, err := rm.stage(data)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, rm.allocator.Free(staging))
	}()
	return rm.submitTransfer(func(cb *VulkanCommandBuffer) error {
		cb.CopyBuffer(staging.Buffer, dst, vk.DeviceSize(len(data)))
		return cb.BufferBarrier(dst, BufferUseDraw)
	})
}

// submitTransfer records a one-shot command buffer and blocks until the
// graphics queue has executed it.
func (rm *ResourceManager) submitTransfer(record func(cb *VulkanCommandBuffer) error) error {
	cb, err := rm.uploadPool.BeginSingleTimeCommands()
	if err != nil {
		return err
	}
	if err := record(cb); err != nil {
		// The buffer is still recording, end it before giving it back.
		_ = cb.End()
		rm.uploadPool.Free(cb)
		return err
	}
	return rm.uploadPool.EndSingleTimeCommands(cb, rm.context.GraphicsQueue())
}
