//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const shaderDir = "assets/shaders"

type Build mg.Namespace

// Compiles every GLSL stage under assets/shaders to SPIR-V with glslc.
func (Build) Shaders() error {
	var sources []string
	for _, ext := range []string{"*.vert", "*.frag", "*.comp"} {
		matches, err := filepath.Glob(filepath.Join(shaderDir, ext))
		if err != nil {
			return err
		}
		sources = append(sources, matches...)
	}
	if len(sources) == 0 {
		return fmt.Errorf("no shader sources in %s", shaderDir)
	}
	for _, src := range sources {
		if err := compileShader(src); err != nil {
			return fmt.Errorf("compiling %s: %w", src, err)
		}
	}
	return nil
}

// Builds the automata binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	return sh.RunV("go", "build", "-o", "bin/automata", ".")
}

// Runs go mod tidy.
func (Build) Tidy() error {
	return sh.Run("go", "mod", "tidy")
}
