package graph

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/command"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type State uint8

const (
	StateDeclared State = iota
	StateCompiled
	StateExecuted
	StateRetired
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDeclared:
		return "declared"
	case StateCompiled:
		return "compiled"
	case StateExecuted:
		return "executed"
	case StateRetired:
		return "retired"
	default:
		return "closed"
	}
}

// Graph collects the passes of one frame, culls the ones nothing depends
// on and records the rest with the state transitions they need. A graph is
// built, executed and retired once.
type Graph struct {
	factory ResourceFactory
	state   State

	entries []*resourceEntry
	nodes   []resourceNode
	passes  []*pass
}

func New(factory ResourceFactory) *Graph {
	return &Graph{factory: factory}
}

func (g *Graph) State() State {
	return g.state
}

// AddPass declares a pass. setup declares its resources and returns the
// function that records it.
func (g *Graph) AddPass(name string, setup func(b *PassBuilder) PassFunc) {
	core.Assert(g.state == StateDeclared, "adding pass %s to a %s graph", name, g.state)
	p := &pass{name: name}
	g.passes = append(g.passes, p)
	b := &PassBuilder{graph: g, index: len(g.passes) - 1, pass: p}
	p.execute = setup(b)
}

// Import brings an externally owned resource into the graph. The graph
// transitions it but never creates or retires it.
func (g *Graph) Import(name string, resource metadata.GPUResource) ResourceHandle {
	core.Assert(g.state == StateDeclared, "importing %s into a %s graph", name, g.state)
	core.Assert(resource != nil, "importing nil resource %s", name)
	return g.addEntry(&resourceEntry{name: name, imported: true, resource: resource})
}

func (g *Graph) addEntry(e *resourceEntry) ResourceHandle {
	g.entries = append(g.entries, e)
	g.nodes = append(g.nodes, resourceNode{entry: len(g.entries) - 1, writer: -1})
	return handleOf(len(g.nodes) - 1)
}

func (g *Graph) checkHandle(h ResourceHandle) uint32 {
	core.Assert(h.IsValid() && int(h.index()) < len(g.nodes), "invalid resource handle %d", h.node)
	return h.index()
}

// Version is the SSA version of h; every Write bumps it by one.
func (g *Graph) Version(h ResourceHandle) uint32 {
	return g.nodes[g.checkHandle(h)].version
}

func (g *Graph) Name(h ResourceHandle) string {
	return g.entries[g.nodes[g.checkHandle(h)].entry].name
}

// IsCulled reports whether the named pass was removed by Compile.
func (g *Graph) IsCulled(name string) bool {
	for _, p := range g.passes {
		if p.name == name {
			return p.culled
		}
	}
	return false
}

// IsMaterialized reports whether a native resource backs h.
func (g *Graph) IsMaterialized(h ResourceHandle) bool {
	return g.entries[g.nodes[g.checkHandle(h)].entry].resource != nil
}

// Compile walks back from the passes with side effects and culls every
// pass none of them depends on.
func (g *Graph) Compile() {
	core.Assert(g.state == StateDeclared, "compiling a %s graph", g.state)

	live := make([]bool, len(g.passes))
	var stack []int
	for i, p := range g.passes {
		if p.sideEffect {
			live[i] = true
			stack = append(stack, i)
		}
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range g.passes[i].deps {
			w := g.nodes[dep].writer
			if w >= 0 && !live[w] {
				live[w] = true
				stack = append(stack, w)
			}
		}
	}

	culled := 0
	for i, p := range g.passes {
		p.culled = !live[i]
		if p.culled {
			culled++
			continue
		}
		for _, e := range p.creates {
			g.entries[e].live = true
		}
		for _, a := range p.reads {
			g.entries[g.nodes[a.node].entry].live = true
		}
		for _, a := range p.writes {
			g.entries[g.nodes[a.node].entry].live = true
		}
	}
	g.state = StateCompiled
	core.LogDebug("render graph compiled: %d passes, %d culled", len(g.passes), culled)
}

// Execute creates the transient resources live passes use and records
// every live pass into cmd in declaration order.
func (g *Graph) Execute(cmd *command.Context) error {
	core.Assert(g.state == StateCompiled, "executing a %s graph", g.state)
	g.state = StateExecuted

	for _, e := range g.entries {
		if e.imported || !e.live {
			continue
		}
		res, err := e.desc.create(e.name, g.factory)
		if err != nil {
			return fmt.Errorf("failed to create graph resource %s: %w", e.name, err)
		}
		e.resource = res
	}

	for _, p := range g.passes {
		if p.culled {
			continue
		}
		for _, a := range p.reads {
			cmd.TransitionResource(g.entries[g.nodes[a.node].entry].resource, a.state, false)
		}
		for _, a := range p.writes {
			cmd.TransitionResource(g.entries[g.nodes[a.node].entry].resource, a.state, false)
		}
		cmd.FlushResourceBarriers()

		if p.execute == nil {
			continue
		}
		if err := p.execute(&Resolver{graph: g, pass: p}, cmd); err != nil {
			return fmt.Errorf("render pass %s: %w", p.name, err)
		}
	}
	return nil
}

// Retire hands every transient resource to the factory, to be destroyed
// once fence completes.
func (g *Graph) Retire(fence metadata.FenceValue) {
	core.Assert(g.state == StateExecuted, "retiring a %s graph", g.state)
	for _, e := range g.entries {
		if e.imported || e.resource == nil {
			continue
		}
		g.factory.RetireResource(fence, e.resource)
		e.resource = nil
	}
	g.state = StateRetired
}

// Close ends the graph's life. A graph that executed must be retired first,
// otherwise its transient resources would leak.
func (g *Graph) Close() {
	core.Assert(g.state != StateExecuted, "closing an executed render graph that was never retired")
	g.state = StateClosed
	g.entries = nil
	g.nodes = nil
	g.passes = nil
}
