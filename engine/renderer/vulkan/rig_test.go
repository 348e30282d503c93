package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

// rig is a renderer stack built on the fake driver. Swapchain and frame sync
// are only created when framesInFlight is non-zero.
type rig struct {
	driver    *fakeDriver
	ctx       *VulkanContext
	allocator *Allocator
	resources *ResourceManager
	swapchain *SwapchainManager
	frames    *FrameSync
}

func newRig(t *testing.T, d *fakeDriver, framesInFlight int) *rig {
	t.Helper()
	r := &rig{driver: d, ctx: newTestContext(t, d)}
	r.allocator = NewAllocator(r.ctx)

	slots := framesInFlight
	if slots == 0 {
		slots = 2
	}
	var err error
	if r.resources, err = NewResourceManager(r.ctx, r.allocator, slots); err != nil {
		t.Fatalf("NewResourceManager: %v", err)
	}
	if framesInFlight == 0 {
		return r
	}

	r.swapchain = NewSwapchainManager(r.ctx, &fakeSurface{driver: d}, r.resources, vk.PresentModeMailbox)
	if err := r.swapchain.Create(d.width, d.height); err != nil {
		t.Fatalf("swapchain Create: %v", err)
	}
	if r.frames, err = NewFrameSync(r.ctx, r.swapchain, r.resources, framesInFlight, 0); err != nil {
		t.Fatalf("NewFrameSync: %v", err)
	}
	return r
}

// shutdown tears the stack down in reverse creation order.
func (r *rig) shutdown() error {
	var errs error
	if r.frames != nil {
		r.frames.Destroy()
	}
	if r.swapchain != nil {
		r.swapchain.Destroy()
	}
	errs = errors.CombineErrors(errs, r.resources.Shutdown())
	errs = errors.CombineErrors(errs, r.allocator.Destroy())
	return errors.CombineErrors(errs, r.ctx.Shutdown())
}

func (r *rig) close(t *testing.T) {
	t.Helper()
	if err := r.shutdown(); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	r.driver.expectClean(t)
	r.driver.expectNoLiveObjects(t)
}
