package engine

import (
	"github.com/spaghettifunk/automata/engine/config"
	"github.com/spaghettifunk/automata/engine/core"
)

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32
	// Window starting position y axis, if applicable.
	StartPosY uint32
	// Window starting width, if applicable.
	StartWidth uint32
	// Window starting height, if applicable.
	StartHeight uint32
	// The application name used in windowing, if applicable.
	Name     string
	LogLevel core.LogLevel
	Renderer config.RendererSection
	Assets   config.AssetsSection
}

// NewApplicationConfig picks the engine relevant parts of a loaded
// configuration.
func NewApplicationConfig(cfg *config.Config) *ApplicationConfig {
	return &ApplicationConfig{
		StartPosX:   cfg.Application.StartPosX,
		StartPosY:   cfg.Application.StartPosY,
		StartWidth:  cfg.Application.StartWidth,
		StartHeight: cfg.Application.StartHeight,
		Name:        cfg.Application.Name,
		LogLevel:    core.LogLevel(cfg.Log.Level),
		Renderer:    cfg.Renderer,
		Assets:      cfg.Assets,
	}
}
