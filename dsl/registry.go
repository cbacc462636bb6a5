package dsl

import (
	"github.com/agentsubstrate/orchestrator-go/graph"
)

// NodeFactory builds a graph.NodeFunc for one NodeSpec. Implementations
// live alongside whatever resolves "type" into behavior (an LLM call, a
// wasmhost.WasmNode, a tool invocation, ...); this package only owns
// parsing and wiring.
type NodeFactory func(spec NodeSpec) (graph.NodeFunc, error)

// Registry maps a node's "type" string to the factory that builds it.
type Registry struct {
	factories map[string]NodeFactory
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]NodeFactory)}
}

// Register installs factory under nodeType, replacing any prior entry.
func (r *Registry) Register(nodeType string, factory NodeFactory) {
	r.factories[nodeType] = factory
}

func (r *Registry) lookup(nodeType string) (NodeFactory, bool) {
	f, ok := r.factories[nodeType]
	return f, ok
}

// Compile resolves every node via registry and wires edges into a
// graph.Graph, preserving the YAML's node and edge declaration order.
// The Condition-bearing edges sharing one "from" become a single
// AddConditionalEdges call, in the order first seen. Edges without
// Condition become plain AddEdge calls, except those whose "from" also
// has a Condition-bearing edge: those are not wired.
func (d *Document) Compile(registry *Registry, opts graph.Options) (*graph.Compiled, error) {
	g := graph.New(opts)

	for _, spec := range d.Nodes {
		factory, ok := registry.lookup(spec.Type)
		if !ok {
			return nil, graph.NewError(graph.CodeValidationFailed, "no node factory registered for type "+spec.Type+" (node "+spec.ID+")", nil)
		}
		fn, err := factory(spec)
		if err != nil {
			return nil, graph.NewError(graph.CodeValidationFailed, "failed to build node "+spec.ID, err)
		}
		if err := g.AddNode(spec.ID, fn, nil); err != nil {
			return nil, err
		}
	}

	conditionalFrom := make(map[string]bool)
	routeOrder := make(map[string][]string)
	routes := make(map[string]map[string]string)
	for _, raw := range d.Edges {
		e := sentinelEdge(raw)
		if e.Condition == "" {
			continue
		}
		conditionalFrom[e.From] = true
		if routes[e.From] == nil {
			routes[e.From] = make(map[string]string)
		}
		if _, seen := routes[e.From][e.Condition]; !seen {
			routeOrder[e.From] = append(routeOrder[e.From], e.Condition)
		}
		routes[e.From][e.Condition] = e.To
	}

	wiredConditional := make(map[string]bool)
	for _, raw := range d.Edges {
		e := sentinelEdge(raw)
		if conditionalFrom[e.From] {
			if wiredConditional[e.From] {
				continue
			}
			if err := g.AddConditionalEdges(e.From, routes[e.From], routeOrder[e.From]); err != nil {
				return nil, err
			}
			wiredConditional[e.From] = true
			continue
		}
		if err := g.AddEdge(e.From, e.To); err != nil {
			return nil, err
		}
	}

	return g.Compile()
}

// sentinelEdge translates the DSL's lowercase "start"/"end" node names
// into the engine's reserved graph.START/graph.END sentinels.
func sentinelEdge(e EdgeSpec) EdgeSpec {
	if e.From == "start" {
		e.From = graph.START
	}
	if e.To == "end" {
		e.To = graph.END
	}
	return e
}
