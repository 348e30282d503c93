package engine

import (
	"github.com/spaghettifunk/automata/engine/core"
	"github.com/spaghettifunk/automata/engine/renderer/metadata"
)

// Game is what the engine drives. Every callback runs on the main thread.
type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnBoot            Boot
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
	FnOnKey           OnKey
	FnShutdown        Shutdown
}

type Boot func() error
type Initialize func() error
type Update func(deltaTime float64) error

// Render fills the packet the renderer draws this frame.
type Render func(packet *metadata.RenderPacket, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type OnKey func(key core.KeyCode, pressed bool) error
type Shutdown func() error
