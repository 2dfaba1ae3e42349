package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/command"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type countingGame struct {
	*Game
	updates  int
	frames   int
	fences   []metadata.FenceValue
	resizes  [][2]uint32
	shutdown bool
}

func newCountingGame() *countingGame {
	cg := &countingGame{}
	cg.Game = &Game{
		ApplicationConfig: &ApplicationConfig{Name: "engine-test"},
		FnInitialize:      func() error { return nil },
		FnUpdate: func(float64) error {
			cg.updates++
			return nil
		},
		FnRender: func(g *graph.Graph, _ float64) error {
			g.AddPass("clear", func(b *graph.PassBuilder) graph.PassFunc {
				b.Write(b.Create("target", graph.RenderTargetResource{Desc: metadata.RenderTargetDesc{
					Width: 8, Height: 8, Format: metadata.FormatRGBA8Unorm,
				}}), metadata.ResourceStateRenderTarget)
				b.SideEffect()
				return func(*graph.Resolver, *command.Context) error {
					cg.frames++
					return nil
				}
			})
			return nil
		},
		FnEndFrame: func(fence metadata.FenceValue) error {
			cg.fences = append(cg.fences, fence)
			return nil
		},
		FnOnResize: func(w, h uint32) error {
			cg.resizes = append(cg.resizes, [2]uint32{w, h})
			return nil
		},
		FnShutdown: func() error {
			cg.shutdown = true
			return nil
		},
	}
	return cg
}

func testConfig(frames uint32) *core.RendererConfig {
	cfg := core.DefaultRendererConfig()
	cfg.Frames = frames
	cfg.Width = 64
	cfg.Height = 32
	return cfg
}

func TestEngineRunsConfiguredFrames(t *testing.T) {
	cg := newCountingGame()
	e, err := New(cg.Game, testConfig(3))
	require.NoError(t, err)
	assert.Equal(t, EngineStageBootComplete, e.Stage())

	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.Same(t, e.Renderer(), cg.Renderer)
	assert.Equal(t, [][2]uint32{{64, 32}}, cg.resizes)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 3, cg.updates)
	assert.Equal(t, 3, cg.frames)
	require.Len(t, cg.fences, 3)
	for i := 1; i < len(cg.fences); i++ {
		assert.Greater(t, cg.fences[i], cg.fences[i-1])
	}

	require.NoError(t, e.Shutdown(context.Background()))
	assert.True(t, cg.shutdown)
	assert.Equal(t, EngineStageShuttingDown, e.Stage())
}

func TestEngineStartSizeOverridesConfig(t *testing.T) {
	cg := newCountingGame()
	cg.ApplicationConfig.StartWidth = 320
	cg.ApplicationConfig.StartHeight = 200
	e, err := New(cg.Game, testConfig(1))
	require.NoError(t, err)

	w, h := e.GetFramebufferSize()
	assert.Equal(t, uint32(320), w)
	assert.Equal(t, uint32(200), h)
}

func TestEngineLifecycleErrors(t *testing.T) {
	cg := newCountingGame()
	e, err := New(cg.Game, testConfig(1))
	require.NoError(t, err)
	assert.Error(t, e.Run(context.Background()))

	require.NoError(t, e.Initialize())
	assert.Error(t, e.Initialize())
	require.NoError(t, e.Shutdown(context.Background()))

	bad := testConfig(1)
	bad.Backend = "metal"
	_, err = New(cg.Game, bad)
	assert.ErrorIs(t, err, core.ErrUnknownBackend)
}

func TestEngineStopsOnUpdateError(t *testing.T) {
	cg := newCountingGame()
	boom := errors.New("update failed")
	cg.FnUpdate = func(float64) error { return boom }

	e, err := New(cg.Game, testConfig(0))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	assert.ErrorIs(t, e.Run(context.Background()), boom)
	assert.Equal(t, 0, cg.frames)
	require.NoError(t, e.Shutdown(context.Background()))
}

func TestEngineStopsOnCancel(t *testing.T) {
	cg := newCountingGame()
	e, err := New(cg.Game, testConfig(0))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	cg.FnEndFrame = func(metadata.FenceValue) error {
		if e.Renderer().FrameNumber() == 2 {
			cancel()
		}
		return nil
	}
	require.NoError(t, e.Run(ctx))
	assert.Equal(t, uint64(2), e.Renderer().FrameNumber())
	require.NoError(t, e.Shutdown(context.Background()))
}

func TestEngineApplyConfigResizes(t *testing.T) {
	cg := newCountingGame()
	e, err := New(cg.Game, testConfig(1))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	next := testConfig(9)
	next.Width = 128
	next.Height = 64
	e.ApplyConfig(next)

	w, h := e.GetFramebufferSize()
	assert.Equal(t, uint32(128), w)
	assert.Equal(t, uint32(64), h)
	assert.Equal(t, [2]uint32{128, 64}, cg.resizes[len(cg.resizes)-1])

	// same size, no resize callback
	e.ApplyConfig(next)
	assert.Len(t, cg.resizes, 2)
	require.NoError(t, e.Shutdown(context.Background()))
}
