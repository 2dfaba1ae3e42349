//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the headless testbed on the backend named in anima.toml.
func (Run) Testbed() error {
	fmt.Println("Run testbed...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "anima.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Compiles the shaders and runs the testbed on the vulkan backend.
func (Run) Vulkan() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "vulkan.toml"), withStream()); err != nil {
		return err
	}
	return nil
}
