/*
Headless testbed for the rendering core: renders a deferred frame graph on
the configured backend until interrupted or the frame budget is spent.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/testbed"
)

func main() {
	configPath := flag.String("config", "anima.toml", "renderer configuration file")
	shaderDir := flag.String("shaders", "shaders", "directory holding compiled SPIR-V")
	flag.Parse()

	cfg := core.DefaultRendererConfig()
	if _, err := os.Stat(*configPath); err == nil {
		if cfg, err = core.LoadConfig(*configPath); err != nil {
			core.LogFatal("failed to load %s: %s", *configPath, err)
		}
	} else {
		core.LogInfo("no config at %s, using defaults", *configPath)
	}

	tb := testbed.NewTestGame(*shaderDir)
	e, err := engine.New(tb.Game, cfg)
	if err != nil {
		core.LogFatal(err.Error())
	}
	if err := e.Initialize(); err != nil {
		core.LogFatal(err.Error())
	}

	if _, err := os.Stat(*configPath); err == nil {
		watcher, err := core.WatchConfig(*configPath, e.ApplyConfig)
		if err != nil {
			core.LogWarn("config hot reload disabled: %s", err)
		} else {
			defer watcher.Close()
		}
	}

	// signal channel to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		core.LogError("shutdown failed: %s", err)
	}
	if runErr != nil {
		core.LogFatal(runErr.Error())
	}
}
