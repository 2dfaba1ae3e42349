package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/graph"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// Engine drives a Game through the renderer's frame loop without a window.
type Engine struct {
	currentStage Stage
	gameInstance *Game
	renderer     *renderer.Renderer
	clock        *core.Clock
	isRunning    atomic.Bool

	mu     sync.Mutex
	config *core.RendererConfig
	width  uint32
	height uint32
}

func New(g *Game, cfg *core.RendererConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	e := &Engine{
		currentStage: EngineStageBooting,
		gameInstance: g,
		clock:        core.NewClock(),
		config:       cfg,
		width:        cfg.Width,
		height:       cfg.Height,
	}
	if g.ApplicationConfig.StartWidth != 0 && g.ApplicationConfig.StartHeight != 0 {
		e.width = g.ApplicationConfig.StartWidth
		e.height = g.ApplicationConfig.StartHeight
	}
	e.currentStage = EngineStageBootComplete
	return e, nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageBootComplete {
		return fmt.Errorf("engine initialized twice")
	}
	e.currentStage = EngineStageInitializing

	device, err := renderer.NewDevice(e.gameInstance.ApplicationConfig.Name, e.config)
	if err != nil {
		return err
	}
	r, err := renderer.New(e.config, device)
	if err != nil {
		device.Destroy()
		return err
	}
	e.renderer = r
	e.gameInstance.Renderer = r

	if err := e.gameInstance.FnInitialize(); err != nil {
		return err
	}
	if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
		return err
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Run renders frames until ctx is cancelled, Stop is called or the
// configured frame count is reached.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine must be initialized before running")
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	for e.isRunning.Load() {
		if ctx.Err() != nil {
			break
		}
		e.mu.Lock()
		frames := e.config.Frames
		e.mu.Unlock()
		if frames != 0 && e.renderer.FrameNumber() >= uint64(frames) {
			break
		}

		// Update clock and get delta time.
		e.clock.Update()
		delta := e.clock.Delta().Seconds()

		if err := e.gameInstance.FnUpdate(delta); err != nil {
			core.LogError("Game update failed, shutting down: %s", err)
			e.isRunning.Store(false)
			return err
		}

		fence, err := e.renderer.RenderFrame(ctx, func(g *graph.Graph) error {
			return e.gameInstance.FnRender(g, delta)
		})
		if err != nil {
			core.LogError("Game render failed, shutting down: %s", err)
			e.isRunning.Store(false)
			return err
		}
		if e.gameInstance.FnEndFrame != nil {
			if err := e.gameInstance.FnEndFrame(fence); err != nil {
				e.isRunning.Store(false)
				return err
			}
		}
	}
	e.isRunning.Store(false)
	return nil
}

func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

// ApplyConfig takes the runtime-changeable parts of a reloaded config.
func (e *Engine) ApplyConfig(cfg *core.RendererConfig) {
	e.mu.Lock()
	e.config.Frames = cfg.Frames
	e.config.LogLevel = cfg.LogLevel
	resized := cfg.Width != e.width || cfg.Height != e.height
	if resized {
		e.width, e.height = cfg.Width, cfg.Height
	}
	width, height := e.width, e.height
	e.mu.Unlock()

	if cfg.Backend != e.config.Backend {
		core.LogWarn("backend change to %s needs a restart", cfg.Backend)
	}
	if resized {
		core.LogDebug("Resize: %d, %d", width, height)
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
}

// GetFramebufferSize returns the width and height (in this order) of the
// render resolution.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.width, e.height
}

func (e *Engine) Shutdown(ctx context.Context) error {
	e.currentStage = EngineStageShuttingDown
	e.Stop()
	if e.renderer == nil {
		return nil
	}
	// the game may release resources it retired against in-flight fences
	if err := e.renderer.WaitForFrame(ctx); err != nil {
		return err
	}
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			return err
		}
	}
	e.clock.Stop()
	return e.renderer.Shutdown(ctx)
}
