package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/command"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// PassFunc records the commands of a pass. It runs during Execute, only if
// the pass survived culling.
type PassFunc func(res *Resolver, cmd *command.Context) error

type pass struct {
	name       string
	reads      []access
	writes     []access
	creates    []int
	deps       []uint32
	sideEffect bool
	culled     bool
	execute    PassFunc
}

func (p *pass) declares(node uint32) bool {
	for _, a := range p.reads {
		if a.node == node {
			return true
		}
	}
	for _, a := range p.writes {
		if a.node == node {
			return true
		}
	}
	return false
}

// PassBuilder declares the resources a pass uses. It is only valid inside
// the setup function given to Graph.AddPass.
type PassBuilder struct {
	graph *Graph
	index int
	pass  *pass
}

// Create declares a transient resource owned by the graph. An empty name
// gets a unique one.
func (b *PassBuilder) Create(name string, desc ResourceDesc) ResourceHandle {
	core.Assert(desc != nil, "pass %s: creating %q without a description", b.pass.name, name)
	if name == "" {
		name = fmt.Sprintf("transient-%s", uuid.NewString())
	}
	h := b.graph.addEntry(&resourceEntry{name: name, desc: desc})
	b.pass.creates = append(b.pass.creates, b.graph.nodes[h.index()].entry)
	return h
}

// Read declares that the pass reads h in state. Reading the same handle
// twice returns the same handle and merges the states.
func (b *PassBuilder) Read(h ResourceHandle, state metadata.ResourceState) ResourceHandle {
	idx := b.graph.checkHandle(h)
	for i := range b.pass.reads {
		if b.pass.reads[i].node == idx {
			b.pass.reads[i].state |= state
			return h
		}
	}
	b.pass.reads = append(b.pass.reads, access{node: idx, state: state})
	b.pass.deps = append(b.pass.deps, idx)
	return h
}

// Write declares that the pass produces a new version of h and returns the
// handle of that version. h must be the newest version.
func (b *PassBuilder) Write(h ResourceHandle, state metadata.ResourceState) ResourceHandle {
	idx := b.graph.checkHandle(h)
	prev := b.graph.nodes[idx]
	entry := b.graph.entries[prev.entry]
	core.Assert(prev.version == entry.latest, "pass %s writes version %d of %s, newest is %d", b.pass.name, prev.version, entry.name, entry.latest)

	entry.latest++
	b.graph.nodes = append(b.graph.nodes, resourceNode{entry: prev.entry, version: entry.latest, writer: b.index})
	next := uint32(len(b.graph.nodes) - 1)

	// the new version depends on whoever produced the previous one
	b.pass.deps = append(b.pass.deps, idx)
	b.pass.writes = append(b.pass.writes, access{node: next, state: state})
	if entry.imported {
		b.pass.sideEffect = true
	}
	return handleOf(int(next))
}

// SideEffect keeps the pass alive even if nothing reads what it writes.
func (b *PassBuilder) SideEffect() {
	b.pass.sideEffect = true
}

// Resolver maps the handles a pass declared to native resources.
type Resolver struct {
	graph *Graph
	pass  *pass
}

// Resource returns the resource behind h. Resolving a handle the pass did
// not declare, or one that was culled, is a contract violation.
func (r *Resolver) Resource(h ResourceHandle) metadata.GPUResource {
	core.Assert(h.IsValid() && int(h.index()) < len(r.graph.nodes), "pass %s resolves an invalid handle", r.pass.name)
	core.Assert(r.pass.declares(h.index()), "pass %s resolves %s which it did not declare", r.pass.name, r.graph.Name(h))
	entry := r.graph.entries[r.graph.nodes[h.index()].entry]
	core.Assert(entry.resource != nil, "pass %s resolves %s which was never materialized", r.pass.name, entry.name)
	return entry.resource
}

func (r *Resolver) Buffer(h ResourceHandle) metadata.Buffer {
	b, ok := r.Resource(h).(metadata.Buffer)
	core.Assert(ok, "pass %s resolves %s as a buffer", r.pass.name, r.graph.Name(h))
	return b
}
