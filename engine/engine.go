package engine

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/automata/engine/assets"
	"github.com/spaghettifunk/automata/engine/core"
	"github.com/spaghettifunk/automata/engine/platform"
	"github.com/spaghettifunk/automata/engine/renderer"
	"github.com/spaghettifunk/automata/engine/renderer/metadata"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// How often GPU allocation stats are logged at debug level.
const statsInterval = 10 * time.Second

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    bool
	isSuspended  bool
	platform     *platform.Platform
	shaders      *assets.ShaderLibrary
	width        uint32
	height       uint32
	clock        *core.Clock
	lastTime     float64
	metrics      *core.FrameMetrics
	packet       metadata.RenderPacket
	lastStats    time.Time
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, errors.New("a game with an application config is required")
	}
	core.LogSetLevel(g.ApplicationConfig.LogLevel)

	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
		platform:     platform.New(),
		isRunning:    true,
		isSuspended:  false,
		width:        g.ApplicationConfig.StartWidth,
		height:       g.ApplicationConfig.StartHeight,
	}

	e.currentStage = EngineStageBooting
	if g.FnBoot != nil {
		if err := g.FnBoot(); err != nil {
			return nil, errors.Wrap(err, "booting game")
		}
	}
	e.currentStage = EngineStageBootComplete
	return e, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	cfg := e.gameInstance.ApplicationConfig

	if err := core.InputInitialize(); err != nil {
		return err
	}
	if !core.EventSystemInitialize() {
		return errors.New("failed to initialize the event system")
	}

	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, e.onKey)
	core.EventRegister(core.EVENT_CODE_KEY_RELEASED, e.onKey)
	core.EventRegister(core.EVENT_CODE_RESIZED, e.onResized)

	if err := e.platform.Startup(cfg.Name, cfg.StartPosX, cfg.StartPosY, cfg.StartWidth, cfg.StartHeight); err != nil {
		return err
	}
	// The framebuffer can differ from the window size on HiDPI screens.
	e.width, e.height = e.platform.FramebufferSize()

	shaders, err := assets.NewShaderLibrary(cfg.Assets.ShaderDir)
	if err != nil {
		return err
	}
	e.shaders = shaders
	if cfg.Assets.Watch {
		if err := shaders.Watch(); err != nil {
			core.LogWarn("shader hot reload disabled: %v", err)
		}
	}

	if err := renderer.Initialize(cfg.Name, e.width, e.height, e.platform, shaders, renderer.Options(cfg.Renderer)); err != nil {
		return errors.Wrap(err, "initializing renderer")
	}

	if err := e.gameInstance.FnInitialize(); err != nil {
		return err
	}
	if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
		return err
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()
	e.lastStats = time.Now()

	for e.isRunning {
		if !e.platform.PumpMessages() {
			e.isRunning = false
		}
		core.ProcessEvents()

		if e.isSuspended {
			// Nothing to draw into; sleep until the window comes back.
			e.platform.WaitMessages(100 * time.Millisecond)
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStartTime := platform.GetAbsoluteTime()

		if err := e.gameInstance.FnUpdate(delta); err != nil {
			core.LogError("Game update failed, shutting down: %v", err)
			return err
		}

		e.packet.DeltaTime = delta
		e.packet.InstanceData = e.packet.InstanceData[:0]
		e.packet.InstanceCount = 0
		if err := e.gameInstance.FnRender(&e.packet, delta); err != nil {
			core.LogError("Game render failed, shutting down: %v", err)
			return err
		}
		if err := renderer.DrawFrame(&e.packet); err != nil {
			return err
		}

		frameElapsedTime := platform.GetAbsoluteTime() - frameStartTime
		if e.metrics.Update(frameElapsedTime) {
			core.LogDebug("FPS: %.0f, frame time %.3fms, frame %d", e.metrics.FPS(), e.metrics.FrameTime(), renderer.FrameNumber())
		}
		if time.Since(e.lastStats) > statsInterval {
			core.LogDebug("GPU memory: %s", renderer.Stats())
			e.lastStats = time.Now()
		}

		// Input state copying must happen after everything that reads it.
		core.InputUpdate()
		e.lastTime = currentTime
	}
	return nil
}

// Shutdown stops every subsystem in reverse order of initialization. It
// must be called from the thread that ran Run.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var errs error
	if e.gameInstance.FnShutdown != nil {
		errs = errors.CombineErrors(errs, e.gameInstance.FnShutdown())
	}
	errs = errors.CombineErrors(errs, renderer.Shutdown())
	if e.shaders != nil {
		errs = errors.CombineErrors(errs, e.shaders.Close())
	}
	errs = errors.CombineErrors(errs, core.EventSystemShutdown())
	errs = errors.CombineErrors(errs, core.InputShutdown())
	errs = errors.CombineErrors(errs, e.platform.Shutdown())
	e.currentStage = EngineStageUninitialized
	return errs
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onEvent(context core.EventContext) {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning = false
	}
}

func (e *Engine) onKey(context core.EventContext) {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}
	pressed := context.Type == core.EVENT_CODE_KEY_PRESSED
	if pressed && ke.KeyCode == core.KEY_ESCAPE {
		core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
		return
	}
	if e.gameInstance.FnOnKey != nil {
		if err := e.gameInstance.FnOnKey(ke.KeyCode, pressed); err != nil {
			core.LogError("game key handler: %v", err)
		}
	}
}

func (e *Engine) onResized(context core.EventContext) {
	se, ok := context.Data.(*core.SystemEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}
	width, height := se.WindowWidth, se.WindowHeight
	if width == e.width && height == e.height {
		return
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// The swapchain is told even when minimized so it can suspend itself.
	renderer.OnResize(width, height)
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if err := e.gameInstance.FnOnResize(width, height); err != nil {
		core.LogError(err.Error())
	}
}
