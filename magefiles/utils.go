//go:build mage

package main

import (
	"os"

	"github.com/magefile/mage/sh"
)

// compileShader writes src+".spv" unless it is newer than src already.
func compileShader(src string) error {
	dst := src + ".spv"
	if !stale(src, dst) {
		return nil
	}
	return sh.RunV("glslc", src, "-o", dst)
}

func stale(src, dst string) bool {
	s, err := os.Stat(src)
	if err != nil {
		return true
	}
	d, err := os.Stat(dst)
	if err != nil {
		return true
	}
	return s.ModTime().After(d.ModTime())
}
