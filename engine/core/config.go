package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

// DescriptorConfig sizes the descriptor pools.
type DescriptorConfig struct {
	// Number of descriptors in a CPU-visible descriptor page.
	PageSize uint32 `toml:"page_size"`
	// Number of descriptors in each shader-visible resource heap.
	ShaderVisibleHeapSize uint32 `toml:"shader_visible_heap_size"`
	// Number of descriptors in each shader-visible sampler heap.
	SamplerHeapSize uint32 `toml:"sampler_heap_size"`
}

// LinearConfig sizes the pages of the two linear allocators.
type LinearConfig struct {
	CPUPageSize uint64 `toml:"cpu_page_size"`
	GPUPageSize uint64 `toml:"gpu_page_size"`
}

type RendererConfig struct {
	// Name of the backend: "null" or "vulkan".
	Backend  string `toml:"backend"`
	LogLevel string `toml:"log_level"`
	// Enables the Vulkan validation layers.
	Validation bool `toml:"validation"`
	// Number of frames the testbed renders before exiting. Zero runs until shutdown.
	Frames uint32 `toml:"frames"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`

	Descriptors DescriptorConfig `toml:"descriptors"`
	Linear      LinearConfig     `toml:"linear"`
}

func DefaultRendererConfig() *RendererConfig {
	return &RendererConfig{
		Backend:  "null",
		LogLevel: "info",
		Frames:   0,
		Width:    1280,
		Height:   720,
		Descriptors: DescriptorConfig{
			PageSize:              256,
			ShaderVisibleHeapSize: 1024,
			SamplerHeapSize:       1024,
		},
		Linear: LinearConfig{
			CPUPageSize: 0x200000,
			GPUPageSize: 0x10000,
		},
	}
}

// LoadConfig reads a TOML file on top of the defaults.
func LoadConfig(path string) (*RendererConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*RendererConfig, error) {
	cfg := DefaultRendererConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RendererConfig) Validate() error {
	switch c.Backend {
	case "null", "vulkan":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	if c.Descriptors.PageSize == 0 || c.Descriptors.ShaderVisibleHeapSize == 0 || c.Descriptors.SamplerHeapSize == 0 {
		return fmt.Errorf("%w: descriptor sizes must be > 0", ErrInvalidConfig)
	}
	if c.Linear.CPUPageSize == 0 || c.Linear.GPUPageSize == 0 {
		return fmt.Errorf("%w: linear page sizes must be > 0", ErrInvalidConfig)
	}
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("%w: width and height must be > 0", ErrInvalidConfig)
	}
	return nil
}

// ConfigWatcher reloads a config file whenever it is written and hands the
// new values to a callback. Only settings that are safe to change at runtime
// (the log level) are applied by the watcher itself.
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*RendererConfig)
	done     chan struct{}
	wg       sync.WaitGroup
}

func WatchConfig(path string, onChange func(*RendererConfig)) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// editors replace files on save, so watch the directory
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	cw := &ConfigWatcher{
		path:     filepath.Clean(path),
		watcher:  w,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.start()
	return cw, nil
}

func (cw *ConfigWatcher) start() {
	defer cw.wg.Done()
	for {
		select {
		case e, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != cw.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := LoadConfig(cw.path)
			if err != nil {
				LogWarn("config reload of %s failed: %s", cw.path, err)
				continue
			}
			if err := SetLogLevel(cfg.LogLevel); err != nil {
				LogWarn("config reload: %s", err)
			}
			LogInfo("config %s reloaded", cw.path)
			if cw.onChange != nil {
				cw.onChange(cfg)
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			LogError(err.Error())

		case <-cw.done:
			return
		}
	}
}

func (cw *ConfigWatcher) Close() error {
	close(cw.done)
	err := cw.watcher.Close()
	cw.wg.Wait()
	return err
}
