package testbed

import (
	"image"
	"image/color"
	"math/rand"
	"os"

	"github.com/spaghettifunk/automata/engine"
	"github.com/spaghettifunk/automata/engine/assets"
	"github.com/spaghettifunk/automata/engine/config"
	"github.com/spaghettifunk/automata/engine/core"
	"github.com/spaghettifunk/automata/engine/math"
	"github.com/spaghettifunk/automata/engine/renderer"
	"github.com/spaghettifunk/automata/engine/renderer/metadata"
)

const (
	seedDensity = 0.3
	palettePath = "assets/textures/palette.png"

	// Vertical field of view, 45 degrees.
	cameraFov = 0.785398
)

var (
	clearRunning = math.NewVec4(0.02, 0.02, 0.04, 1.0)
	clearPaused  = math.NewVec4(0.06, 0.02, 0.02, 1.0)
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	sim  config.SimulationSection
	grid *Grid
	rng  *rand.Rand

	// Seconds accumulated towards the next step.
	accumulator float64
	paused      bool
	stepOnce    bool

	instances []metadata.VoxelInstance

	width  uint32
	height uint32
}

// NewTestGame builds the automaton from the simulation section of cfg.
func NewTestGame(cfg *config.Config) (*TestGame, error) {
	rule, err := ParseRule(cfg.Simulation.Rule)
	if err != nil {
		return nil, err
	}
	state := &gameState{
		sim:  cfg.Simulation,
		grid: NewGrid(int(cfg.Simulation.GridSize), rule),
		rng:  rand.New(rand.NewSource(cfg.Simulation.Seed)),
	}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: engine.NewApplicationConfig(cfg),
			State:             state,
		},
	}

	tg.FnBoot = tg.Boot
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnOnKey = tg.OnKey
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Boot() error {
	s := g.state()
	core.LogInfo("booting testbed: %d^3 grid, rule %s, seed %d", s.grid.Size(), s.sim.Rule, s.sim.Seed)
	s.grid.Seed(s.rng, seedDensity)
	return nil
}

func (g *TestGame) Initialize() error {
	palette, err := loadPalette()
	if err != nil {
		return err
	}
	return renderer.SetPalette(palette)
}

// loadPalette prefers the palette shipped in assets and falls back to a
// generated gradient.
func loadPalette() (image.Image, error) {
	if _, err := os.Stat(palettePath); err == nil {
		return assets.LoadTexture(palettePath)
	}
	return gradientPalette(256, math.NewVec4(0.1, 0.2, 0.9, 1), math.NewVec4(1.0, 0.6, 0.1, 1)), nil
}

func gradientPalette(width int, from, to math.Vec4) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, 1))
	for x := 0; x < width; x++ {
		c := from.Lerp(to, float32(x)/float32(width-1)).RGBA8()
		img.Set(x, 0, color.RGBA{R: c[0], G: c[1], B: c[2], A: c[3]})
	}
	return img
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	if s.stepOnce {
		s.stepOnce = false
		s.grid.Step()
		return nil
	}
	if s.paused {
		return nil
	}
	s.accumulator += deltaTime
	for s.accumulator >= s.sim.StepInterval {
		s.accumulator -= s.sim.StepInterval
		s.grid.Step()
		if s.grid.Steps()%50 == 0 {
			core.LogDebug("step %d, population %d", s.grid.Steps(), s.grid.Population())
		}
	}
	return nil
}

func (g *TestGame) Render(packet *metadata.RenderPacket, deltaTime float64) error {
	s := g.state()
	s.instances = s.grid.Instances(s.instances[:0])
	packet.InstanceData = metadata.EncodeInstances(packet.InstanceData, s.instances)
	packet.InstanceCount = uint32(len(s.instances))

	bg := clearRunning
	if s.paused {
		bg = clearPaused
	}
	packet.ClearColor = [4]float32{bg.X, bg.Y, bg.Z, bg.W}
	packet.ViewProjection = cameraViewProjection(s.grid.Size(), s.width, s.height)
	return nil
}

// cameraViewProjection looks at the centre of a size^3 grid from outside one
// of its corners, far enough away to keep the whole grid in view.
func cameraViewProjection(size int, width, height uint32) math.Mat4 {
	extent := float32(size)
	eye := math.NewVec3(extent*1.4, extent*1.1, extent*1.9)
	view := math.NewMat4LookAt(eye, math.NewVec3(0, 0, 0), math.NewVec3(0, 1, 0))
	aspect := float32(1)
	if width > 0 && height > 0 {
		aspect = float32(width) / float32(height)
	}
	proj := math.NewMat4Perspective(cameraFov, aspect, 0.1, extent*5)
	return view.Mul(proj)
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width, s.height = width, height
	return nil
}

// OnKey: space pauses, N steps once while paused, R reseeds.
func (g *TestGame) OnKey(key core.KeyCode, pressed bool) error {
	if !pressed {
		return nil
	}
	s := g.state()
	switch key {
	case core.KEY_SPACE, core.KEY_P:
		s.paused = !s.paused
		core.LogInfo("simulation paused: %v", s.paused)
	case core.KEY_N:
		if s.paused {
			s.stepOnce = true
		}
	case core.KEY_R:
		s.grid.Seed(s.rng, seedDensity)
		s.accumulator = 0
		core.LogInfo("grid reseeded, population %d", s.grid.Population())
	}
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("testbed ran %d steps", g.state().grid.Steps())
	return nil
}
