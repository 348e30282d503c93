package renderer

import (
	"image"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/automata/engine/config"
	"github.com/spaghettifunk/automata/engine/core"
	"github.com/spaghettifunk/automata/engine/renderer/metadata"
	"github.com/spaghettifunk/automata/engine/renderer/vulkan"
)

type RendererBackend interface {
	Initialize(appName string, appWidth, appHeight uint32) error
	Shutdown() error
	Resized(width, height uint32)
	DrawFrame(packet *metadata.RenderPacket) error
	SetPalette(img image.Image) error
	FrameNumber() uint64
	Stats() []byte
}

type RendererType uint8

const (
	Vulkan RendererType = iota
)

type Renderer struct {
	backend RendererBackend
}

var initRenderer sync.Once
var renderer *Renderer

// BuiltinShaders are compiled by `mage build:shaders` and loaded at startup.
var BuiltinShaders = []string{"voxel.vert", "voxel.frag"}

// Options maps the renderer section of the configuration onto backend
// options.
func Options(cfg config.RendererSection) vulkan.Options {
	mode := vk.PresentModeMailbox
	switch cfg.PresentMode {
	case config.PresentModeFifo:
		mode = vk.PresentModeFifo
	case config.PresentModeImmediate:
		mode = vk.PresentModeImmediate
	}
	return vulkan.Options{
		FramesInFlight: int(cfg.FramesInFlight),
		Validation:     cfg.Validation,
		PresentMode:    mode,
		FenceTimeout:   time.Duration(cfg.FenceTimeoutMS) * time.Millisecond,
		Shaders:        BuiltinShaders,
	}
}

// Initialize creates the backend once and initializes it.
func Initialize(appName string, appWidth, appHeight uint32, surfaces vulkan.SurfaceProvider, shaders vulkan.ShaderProvider, opts vulkan.Options) error {
	initRenderer.Do(func() {
		renderer = &Renderer{
			backend: vulkan.New(surfaces, shaders, opts),
		}
	})
	return renderer.backend.Initialize(appName, appWidth, appHeight)
}

func Shutdown() error {
	if renderer == nil {
		return nil
	}
	return renderer.backend.Shutdown()
}

func OnResize(width, height uint32) {
	if renderer == nil {
		return
	}
	renderer.backend.Resized(width, height)
}

// DrawFrame renders one packet. Swapchain staleness is handled inside the
// backend; anything returned here is fatal.
func DrawFrame(packet *metadata.RenderPacket) error {
	if renderer == nil {
		return errors.AssertionFailedf("renderer not initialized")
	}
	if err := renderer.backend.DrawFrame(packet); err != nil {
		core.LogError("DrawFrame failed: %v", err)
		return err
	}
	return nil
}

// SetPalette replaces the cell state colours.
func SetPalette(img image.Image) error {
	if renderer == nil {
		return errors.AssertionFailedf("renderer not initialized")
	}
	return renderer.backend.SetPalette(img)
}

func FrameNumber() uint64 {
	if renderer == nil {
		return 0
	}
	return renderer.backend.FrameNumber()
}

// Stats returns the GPU allocation report as JSON.
func Stats() []byte {
	if renderer == nil {
		return nil
	}
	return renderer.backend.Stats()
}
