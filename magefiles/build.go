//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

var shaderSources = []string{
	"fullscreen.vert",
	"gbuffer.frag",
	"lighting.frag",
	"tonemap.frag",
}

// Compiles the GLSL sources in shaders/ to SPIR-V with glslc.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds every package and the testbed binary.
func (Build) All() error {
	if _, err := executeCmd("go", withArgs("build", "./..."), withStream()); err != nil {
		return err
	}
	if _, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "testbed"), "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	if err := requireTool("glslc"); err != nil {
		return err
	}
	for _, src := range shaderSources {
		if _, err := executeCmd("glslc", withArgs(src, "-o", src+".spv"), withDir("shaders"), withStream()); err != nil {
			return fmt.Errorf("failed to compile %s: %w", src, err)
		}
	}
	return nil
}
