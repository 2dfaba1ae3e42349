package graph

import (
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// ResourceFactory creates the transient resources of a graph and takes them
// back once the GPU work using them is fenced.
type ResourceFactory interface {
	CreateTexture(name string, desc metadata.TextureDesc) (metadata.GPUResource, error)
	CreateRenderTarget(name string, desc metadata.RenderTargetDesc) (metadata.GPUResource, error)
	CreateDepthTarget(name string, desc metadata.DepthTargetDesc) (metadata.GPUResource, error)
	// RetireResource destroys resource once fence completes.
	RetireResource(fence metadata.FenceValue, resource metadata.GPUResource)
}

// ResourceDesc describes a transient resource. The set of implementations
// is closed: TextureResource, RenderTargetResource and DepthTargetResource.
type ResourceDesc interface {
	// create dispatches to the factory method matching the description.
	create(name string, f ResourceFactory) (metadata.GPUResource, error)
}

type TextureResource struct {
	Desc metadata.TextureDesc
}

func (r TextureResource) create(name string, f ResourceFactory) (metadata.GPUResource, error) {
	return f.CreateTexture(name, r.Desc)
}

type RenderTargetResource struct {
	Desc metadata.RenderTargetDesc
}

func (r RenderTargetResource) create(name string, f ResourceFactory) (metadata.GPUResource, error) {
	return f.CreateRenderTarget(name, r.Desc)
}

type DepthTargetResource struct {
	Desc metadata.DepthTargetDesc
}

func (r DepthTargetResource) create(name string, f ResourceFactory) (metadata.GPUResource, error) {
	return f.CreateDepthTarget(name, r.Desc)
}

// ResourceHandle names one version of a graph resource. The zero value is
// invalid.
type ResourceHandle struct {
	node uint32
}

func (h ResourceHandle) IsValid() bool {
	return h.node != 0
}

func (h ResourceHandle) index() uint32 {
	return h.node - 1
}

func handleOf(index int) ResourceHandle {
	return ResourceHandle{node: uint32(index) + 1}
}

// resourceEntry is the physical resource behind every version.
type resourceEntry struct {
	name     string
	desc     ResourceDesc
	imported bool
	resource metadata.GPUResource
	// newest version created so far
	latest uint32
	live   bool
}

// resourceNode is one version of an entry.
type resourceNode struct {
	entry   int
	version uint32
	// pass that produced this version, -1 for none
	writer int
}

type access struct {
	node  uint32
	state metadata.ResourceState
}
