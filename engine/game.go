package engine

import (
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	// Set by the engine before FnInitialize is called.
	Renderer          *renderer.Renderer
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnEndFrame        EndFrame
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error

// Render declares the passes of one frame.
type Render func(g *graph.Graph, deltaTime float64) error

// EndFrame receives the fence of the frame's submission.
type EndFrame func(fence metadata.FenceValue) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
