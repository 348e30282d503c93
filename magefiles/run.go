//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

type Run mg.Namespace

// Compiles the shaders and runs the visualizer with automata.toml.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run engine...")
	return sh.RunV("go", "run", ".", "-config", "automata.toml")
}

// Runs the unit tests. The renderer tests use a fake driver and need no GPU.
func (Run) Tests() error {
	return sh.RunV("go", "test", "./...")
}
