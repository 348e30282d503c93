package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spaghettifunk/automata/engine/core"
	"github.com/spaghettifunk/automata/engine/math"
)

type MemoryClass int

const (
	MemoryClassDeviceLocal MemoryClass = iota
	MemoryClassHostVisibleCoherent
	MemoryClassStaging
	memoryClassCount
)

func (c MemoryClass) String() string {
	switch c {
	case MemoryClassDeviceLocal:
		return "DeviceLocal"
	case MemoryClassHostVisibleCoherent:
		return "HostVisibleCoherent"
	case MemoryClassStaging:
		return "Staging"
	}
	return "Unknown"
}

func (c MemoryClass) propertyFlags() vk.MemoryPropertyFlags {
	if c == MemoryClassDeviceLocal {
		return vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	}
	return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
}

func (c MemoryClass) mapped() bool {
	return c != MemoryClassDeviceLocal
}

// Allocation is a block of device memory bound to exactly one buffer or image.
type Allocation struct {
	ID     core.Identifier
	Class  MemoryClass
	Size   vk.DeviceSize
	Buffer vk.Buffer
	Image  vk.Image

	memory     vk.DeviceMemory
	memoryType uint32
	mapped     []byte
	freed      bool
}

// Mapped returns the persistent host mapping of the allocation.
func (a *Allocation) Mapped() ([]byte, error) {
	if a.freed {
		return nil, errors.Mark(errors.Newf("allocation %s used after free", a.ID), core.ErrUseAfterFree)
	}
	if a.mapped == nil {
		return nil, errors.AssertionFailedf("allocation %s of class %s is not host visible", a.ID, a.Class)
	}
	return a.mapped, nil
}

// Write copies data into the mapping at offset.
func (a *Allocation) Write(offset uint64, data []byte) error {
	mapped, err := a.Mapped()
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > uint64(len(mapped)) {
		return errors.AssertionFailedf("write of %d bytes at %d overflows allocation of %d bytes", len(data), offset, len(mapped))
	}
	copy(mapped[offset:], data)
	return nil
}

func (a *Allocation) Freed() bool {
	return a.freed
}

type ClassStats struct {
	Count int
	Bytes uint64
}

type AllocatorStats struct {
	Classes [memoryClassCount]ClassStats
}

func (s AllocatorStats) TotalCount() int {
	total := 0
	for _, c := range s.Classes {
		total += c.Count
	}
	return total
}

func (s AllocatorStats) TotalBytes() uint64 {
	var total uint64
	for _, c := range s.Classes {
		total += c.Bytes
	}
	return total
}

// Allocator gives every buffer and image its own device memory block. It is
// not safe for concurrent use.
type Allocator struct {
	context *VulkanContext
	live    map[core.Identifier]*Allocation
	stats   AllocatorStats
}

func NewAllocator(context *VulkanContext) *Allocator {
	context.retain()
	return &Allocator{
		context: context,
		live:    make(map[core.Identifier]*Allocation),
	}
}

// AllocateBuffer creates a buffer, backs it with memory of the given class and
// maps it when the class is host visible. Nothing is left behind on failure.
func (va *Allocator) AllocateBuffer(size vk.DeviceSize, usage vk.BufferUsageFlags, class MemoryClass) (alloc *Allocation, err error) {
	if size == 0 {
		return nil, errors.AssertionFailedf("buffer size must be greater than zero")
	}
	driver := va.context.Driver
	device := va.context.LogicalDevice()

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	buffer, res := driver.CreateBuffer(device, &bufferInfo)
	if res != vk.Success {
		return nil, vkError(res, "creating buffer of %d bytes", size)
	}
	defer func() {
		if err != nil {
			driver.DestroyBuffer(device, buffer)
		}
	}()

	req := driver.GetBufferMemoryRequirements(device, buffer)
	alloc = &Allocation{
		ID:     core.IdentifierAquireNewID(),
		Class:  class,
		Size:   size,
		Buffer: buffer,
	}
	if err := va.backAllocation(alloc, req, func(memory vk.DeviceMemory) vk.Result {
		return driver.BindBufferMemory(device, buffer, memory, 0)
	}); err != nil {
		return nil, errors.Wrapf(err, "allocating %s buffer", class)
	}
	va.track(alloc)
	return alloc, nil
}

// AllocateImage creates an image from info and backs it with memory of the
// given class.
func (va *Allocator) AllocateImage(info *vk.ImageCreateInfo, class MemoryClass) (alloc *Allocation, err error) {
	driver := va.context.Driver
	device := va.context.LogicalDevice()

	image, res := driver.CreateImage(device, info)
	if res != vk.Success {
		return nil, vkError(res, "creating image %dx%d", info.Extent.Width, info.Extent.Height)
	}
	defer func() {
		if err != nil {
			driver.DestroyImage(device, image)
		}
	}()

	req := driver.GetImageMemoryRequirements(device, image)
	alloc = &Allocation{
		ID:    core.IdentifierAquireNewID(),
		Class: class,
		Size:  req.Size,
		Image: image,
	}
	if err := va.backAllocation(alloc, req, func(memory vk.DeviceMemory) vk.Result {
		return driver.BindImageMemory(device, image, memory, 0)
	}); err != nil {
		return nil, errors.Wrapf(err, "allocating %s image", class)
	}
	va.track(alloc)
	return alloc, nil
}

func (va *Allocator) backAllocation(alloc *Allocation, req vk.MemoryRequirements, bind func(vk.DeviceMemory) vk.Result) (err error) {
	driver := va.context.Driver
	device := va.context.LogicalDevice()

	memoryType, ok := va.context.FindMemoryIndex(req.MemoryTypeBits, alloc.Class.propertyFlags())
	if !ok {
		return errors.Mark(errors.Newf("no memory type for class %s in type bits %#x", alloc.Class, req.MemoryTypeBits), core.ErrAllocationFailure)
	}

	size := req.Size
	if req.Alignment > 0 {
		size = math.AlignUp(size, req.Alignment)
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  size,
		MemoryTypeIndex: memoryType,
	}
	memory, res := driver.AllocateMemory(device, &allocInfo)
	if res != vk.Success {
		return vkError(res, "allocating %d bytes of device memory", size)
	}
	defer func() {
		if err != nil {
			driver.FreeMemory(device, memory)
		}
	}()

	if res := bind(memory); res != vk.Success {
		return vkError(res, "binding device memory")
	}

	if alloc.Class.mapped() {
		ptr, res := driver.MapMemory(device, memory, 0, alloc.Size)
		if res != vk.Success {
			return vkError(res, "mapping device memory")
		}
		alloc.mapped = unsafe.Slice((*byte)(ptr), int(alloc.Size))
	}
	alloc.memory = memory
	alloc.memoryType = memoryType
	return nil
}

func (va *Allocator) track(alloc *Allocation) {
	va.live[alloc.ID] = alloc
	s := &va.stats.Classes[alloc.Class]
	s.Count++
	s.Bytes += uint64(alloc.Size)
}

// Free unmaps and releases the memory of alloc and destroys its object.
func (va *Allocator) Free(alloc *Allocation) error {
	if alloc == nil {
		return errors.AssertionFailedf("free of nil allocation")
	}
	if alloc.freed {
		return errors.Mark(errors.Newf("allocation %s freed twice", alloc.ID), core.ErrDoubleFree)
	}
	if _, ok := va.live[alloc.ID]; !ok {
		return errors.AssertionFailedf("allocation %s does not belong to this allocator", alloc.ID)
	}
	driver := va.context.Driver
	device := va.context.LogicalDevice()

	if alloc.mapped != nil {
		driver.UnmapMemory(device, alloc.memory)
		alloc.mapped = nil
	}
	driver.FreeMemory(device, alloc.memory)
	if alloc.Buffer != nil {
		driver.DestroyBuffer(device, alloc.Buffer)
	}
	if alloc.Image != nil {
		driver.DestroyImage(device, alloc.Image)
	}
	alloc.memory = nil
	alloc.freed = true

	delete(va.live, alloc.ID)
	s := &va.stats.Classes[alloc.Class]
	s.Count--
	s.Bytes -= uint64(alloc.Size)
	return nil
}

func (va *Allocator) Stats() AllocatorStats {
	return va.stats
}

// Outstanding returns every allocation that has not been freed yet.
func (va *Allocator) Outstanding() []*Allocation {
	out := make([]*Allocation, 0, len(va.live))
	for _, a := range va.live {
		out = append(out, a)
	}
	return out
}

// StatsJSON renders the per class statistics and the live allocations.
func (va *Allocator) StatsJSON() []byte {
	w := jwriter.NewWriter()
	root := w.Object()

	total := root.Name("Total").Object()
	total.Name("Count").Int(va.stats.TotalCount())
	total.Name("Bytes").Float64(float64(va.stats.TotalBytes()))
	total.End()

	classes := root.Name("Classes").Object()
	for c := MemoryClass(0); c < memoryClassCount; c++ {
		obj := classes.Name(c.String()).Object()
		obj.Name("Count").Int(va.stats.Classes[c].Count)
		obj.Name("Bytes").Float64(float64(va.stats.Classes[c].Bytes))
		obj.End()
	}
	classes.End()

	allocations := root.Name("Allocations").Array()
	for _, a := range va.live {
		obj := allocations.Object()
		obj.Name("ID").String(a.ID.String())
		obj.Name("Class").String(a.Class.String())
		obj.Name("Size").Float64(float64(a.Size))
		obj.Name("MemoryType").Int(int(a.memoryType))
		obj.End()
	}
	allocations.End()

	root.End()
	return w.Bytes()
}

// Destroy releases the allocator. Outstanding allocations must have been
// freed by their owner.
func (va *Allocator) Destroy() error {
	if n := len(va.live); n > 0 {
		return errors.AssertionFailedf("allocator destroyed with %d live allocations", n)
	}
	va.context.release()
	return nil
}
