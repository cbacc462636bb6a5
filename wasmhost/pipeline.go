package wasmhost

import (
	"context"

	"github.com/agentsubstrate/orchestrator-go/graph"
)

// PipelineStage names one WasmNode and the node it feeds on Continue;
// the last stage in Stages implicitly feeds END.
type PipelineStage struct {
	Node *WasmNode
	Next string // "" means wire to graph.END
}

// Pipeline wires a sequence of WasmNodes into a graph.Graph, literally
// delegating multi-node execution to the StateGraph engine rather than
// re-implementing frontier scheduling for WASM chains.
type Pipeline struct {
	Stages []PipelineStage
	Opts   graph.Options
}

// Compile builds the underlying graph.Compiled. Each stage's OutputKey
// must match the next stage's InputKey for data to flow; Pipeline does
// not validate this beyond what graph.Graph.Compile already checks
// (entry point, edge targets, reachability).
func (p *Pipeline) Compile() (*graph.Compiled, error) {
	g := graph.New(p.Opts)
	for _, stage := range p.Stages {
		if err := g.AddNode(stage.Node.ID, stage.Node.AsNodeFunc(), nil); err != nil {
			return nil, err
		}
	}
	for i, stage := range p.Stages {
		if i == 0 {
			if err := g.AddEdge(graph.START, stage.Node.ID); err != nil {
				return nil, err
			}
		}
		next := stage.Next
		if next == "" {
			next = graph.END
		}
		if err := g.AddEdge(stage.Node.ID, next); err != nil {
			return nil, err
		}
	}
	return g.Compile()
}

// Run compiles the pipeline afresh on every call and invokes it once with
// initialState, returning the final state.
func (p *Pipeline) Run(ctx context.Context, runID string, initialState graph.State) (graph.State, error) {
	compiled, err := p.Compile()
	if err != nil {
		return nil, err
	}
	return compiled.Invoke(ctx, runID, initialState)
}
