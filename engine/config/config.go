package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

type PresentMode string

const (
	PresentModeMailbox   PresentMode = "mailbox"
	PresentModeFifo      PresentMode = "fifo"
	PresentModeImmediate PresentMode = "immediate"
)

type ApplicationSection struct {
	// The application name used in windowing.
	Name string `toml:"name"`
	// Window starting position.
	StartPosX uint32 `toml:"x"`
	StartPosY uint32 `toml:"y"`
	// Window starting size.
	StartWidth  uint32 `toml:"width"`
	StartHeight uint32 `toml:"height"`
}

type RendererSection struct {
	// Number of frames the CPU may record ahead of the GPU. Either 2 or 3.
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// Enables VK_LAYER_KHRONOS_validation and the debug report callback.
	Validation bool `toml:"validation"`
	// Preferred present mode; FIFO is used when the surface does not offer it.
	PresentMode PresentMode `toml:"present_mode"`
	// Fence wait timeout in milliseconds, 0 waits forever.
	FenceTimeoutMS uint64 `toml:"fence_timeout_ms"`
}

type LogSection struct {
	Level string `toml:"level"`
}

type AssetsSection struct {
	ShaderDir string `toml:"shader_dir"`
	// Watch the shader directory and reload modified SPIR-V files.
	Watch bool `toml:"watch"`
}

type SimulationSection struct {
	GridSize uint32 `toml:"grid_size"`
	// Four digits: birth min, birth max, survival min, survival max. "5766"
	// gives birth on 5-7 live neighbours and survival on exactly 6.
	Rule string `toml:"rule"`
	// Seconds between two automaton steps.
	StepInterval float64 `toml:"step_interval"`
	Seed         int64   `toml:"seed"`
}

type Config struct {
	Application ApplicationSection `toml:"application"`
	Renderer    RendererSection    `toml:"renderer"`
	Log         LogSection         `toml:"log"`
	Assets      AssetsSection      `toml:"assets"`
	Simulation  SimulationSection  `toml:"simulation"`
}

func Default() *Config {
	return &Config{
		Application: ApplicationSection{
			Name:        "Automata",
			StartPosX:   100,
			StartPosY:   100,
			StartWidth:  1280,
			StartHeight: 720,
		},
		Renderer: RendererSection{
			FramesInFlight: 2,
			Validation:     false,
			PresentMode:    PresentModeMailbox,
			FenceTimeoutMS: 0,
		},
		Log: LogSection{
			Level: "info",
		},
		Assets: AssetsSection{
			ShaderDir: "assets/shaders",
			Watch:     true,
		},
		Simulation: SimulationSection{
			GridSize:     32,
			Rule:         "5766",
			StepInterval: 0.25,
			Seed:         1,
		},
	}
}

// Load reads a TOML file on top of the defaults. A missing file is not an
// error, the defaults are returned instead.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// Parse decodes data into cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			keys := make([]string, 0, len(serr.Errors))
			for i := range serr.Errors {
				keys = append(keys, strings.Join(serr.Errors[i].Key(), "."))
			}
			return errors.Newf("unknown keys: %s", strings.Join(keys, ", "))
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return errors.Newf("line %d column %d: %s", row, col, derr.Error())
		}
		return err
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Renderer.FramesInFlight < 2 || c.Renderer.FramesInFlight > 3 {
		return errors.Newf("renderer.frames_in_flight must be 2 or 3, got %d", c.Renderer.FramesInFlight)
	}
	switch c.Renderer.PresentMode {
	case PresentModeMailbox, PresentModeFifo, PresentModeImmediate:
	default:
		return errors.Newf("renderer.present_mode %q is not one of mailbox, fifo, immediate", c.Renderer.PresentMode)
	}
	if c.Application.StartWidth == 0 || c.Application.StartHeight == 0 {
		return errors.New("application.width and application.height must be non-zero")
	}
	if c.Simulation.GridSize == 0 {
		return errors.New("simulation.grid_size must be non-zero")
	}
	if c.Simulation.StepInterval <= 0 {
		return errors.Newf("simulation.step_interval must be positive, got %v", c.Simulation.StepInterval)
	}
	if len(c.Simulation.Rule) != 4 || strings.Trim(c.Simulation.Rule, "0123456789") != "" {
		return errors.Newf("simulation.rule %q must be four digits", c.Simulation.Rule)
	}
	return nil
}

// Marshal renders the configuration back to TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
