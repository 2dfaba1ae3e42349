package renderer

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/null"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/vulkan"
)

type RendererType uint8

const (
	Null RendererType = iota
	Vulkan
)

func ParseRendererType(name string) (RendererType, error) {
	switch name {
	case "null":
		return Null, nil
	case "vulkan":
		return Vulkan, nil
	default:
		return 0, fmt.Errorf("%w: %q", core.ErrUnknownBackend, name)
	}
}

// NewDevice opens the backend named by the configuration.
func NewDevice(appName string, cfg *core.RendererConfig) (metadata.Device, error) {
	t, err := ParseRendererType(cfg.Backend)
	if err != nil {
		return nil, err
	}
	switch t {
	case Vulkan:
		return vulkan.NewDevice(appName, cfg.Validation)
	default:
		return null.NewDevice(), nil
	}
}
