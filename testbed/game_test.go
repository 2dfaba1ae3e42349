package testbed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/null"
)

func TestCameraConstantsLayout(t *testing.T) {
	buf := cameraConstants(1.5, 1280, 720)
	assert.Len(t, buf, 80)
	assert.Equal(t, make([]byte, 12), buf[68:])
}

func TestTestbedRendersOnNullDevice(t *testing.T) {
	cfg := core.DefaultRendererConfig()
	cfg.Frames = 4

	tb := NewTestGame(t.TempDir())
	e, err := engine.New(tb.Game, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run(context.Background()))

	r := tb.Renderer
	assert.Equal(t, uint64(4), r.FrameNumber())
	assert.NotZero(t, tb.state().lastFence)
	assert.Empty(t, tb.state().frameViews)

	device := r.Device().(*null.Device)
	require.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, 0, r.PendingReleases())
	assert.Equal(t, device.Created("render-target"), device.Destroyed("render-target"))
	assert.Equal(t, device.Created("texture"), device.Destroyed("texture"))
}

func TestTestbedRecreatesBackbufferOnResize(t *testing.T) {
	cfg := core.DefaultRendererConfig()
	cfg.Frames = 2

	tb := NewTestGame(t.TempDir())
	e, err := engine.New(tb.Game, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	var first metadata.GPUResource
	tb.FnEndFrame = func(fence metadata.FenceValue) error {
		if first == nil {
			first = tb.state().backbuffer
			next := core.DefaultRendererConfig()
			next.Frames = 2
			next.Width, next.Height = 640, 360
			e.ApplyConfig(next)
		}
		return tb.EndFrame(fence)
	}
	require.NoError(t, e.Run(context.Background()))

	s := tb.state()
	require.NotNil(t, first)
	assert.NotSame(t, first, s.backbuffer)
	assert.Equal(t, uint32(640), s.bbWidth)
	assert.Equal(t, uint32(360), s.bbHeight)
	require.NoError(t, e.Shutdown(context.Background()))
}
