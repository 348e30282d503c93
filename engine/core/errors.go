package core

import "github.com/cockroachdb/errors"

var (
	// ErrSwapchainBooting is returned when a frame has to be skipped because the
	// swapchain is suspended (zero sized window) or has just been recreated.
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown error")

	ErrDeviceInit        = errors.New("no suitable vulkan device")
	ErrDeviceLost        = errors.New("vulkan device lost")
	ErrAllocationFailure = errors.New("gpu allocation failure")

	ErrSwapchainOutOfDate  = errors.New("swapchain out of date")
	ErrSwapchainSuboptimal = errors.New("swapchain suboptimal")

	ErrDoubleFree        = errors.New("double free")
	ErrUseAfterFree      = errors.New("use after free")
	ErrLeakedAllocations = errors.New("leaked gpu allocations")
)

// IsRecoverable reports whether err only asks for a swapchain rebuild or a
// skipped frame.
func IsRecoverable(err error) bool {
	return errors.IsAny(err, ErrSwapchainBooting, ErrSwapchainOutOfDate, ErrSwapchainSuboptimal)
}
