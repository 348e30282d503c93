/*
Automata renders a 3D cellular automaton with Vulkan.
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/automata/engine"
	"github.com/spaghettifunk/automata/engine/config"
	"github.com/spaghettifunk/automata/engine/core"
	"github.com/spaghettifunk/automata/testbed"
)

func main() {
	configPath := flag.String("config", "automata.toml", "path to the TOML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		core.LogFatal("loading configuration: %v", err)
	}

	tb, err := testbed.NewTestGame(cfg)
	if err != nil {
		core.LogFatal("%v", err)
	}

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal("%v", err)
	}

	if err := e.Initialize(); err != nil {
		core.LogError("initialization failed: %+v", err)
		_ = e.Shutdown()
		os.Exit(1)
	}

	// Signals only ask the main loop to stop; Vulkan teardown stays on the
	// main thread.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %v", err)
	}
	if runErr != nil {
		core.LogError("%+v", runErr)
		os.Exit(1)
	}
}
