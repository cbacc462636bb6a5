package dsl

import (
	"context"
	"testing"

	"github.com/agentsubstrate/orchestrator-go/graph"
)

const sampleYAML = `
metadata:
  id: wf-1
  name: Sample Workflow
  description: two task nodes in sequence
nodes:
  - id: fetch
    type: task
    name: Fetch
  - id: transform
    type: task
    name: Transform
    multiplier: 3
edges:
  - from: start
    to: fetch
  - from: fetch
    to: transform
  - from: transform
    to: end
`

func TestParse_DecodesMetadataNodesEdges(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Metadata.ID != "wf-1" || doc.Metadata.Name != "Sample Workflow" {
		t.Fatalf("unexpected metadata: %+v", doc.Metadata)
	}
	if len(doc.Nodes) != 2 || doc.Nodes[0].ID != "fetch" || doc.Nodes[1].ID != "transform" {
		t.Fatalf("unexpected node order: %+v", doc.Nodes)
	}
	if doc.Nodes[1].Fields["multiplier"] != 3 {
		t.Fatalf("expected type-specific field preserved, got %+v", doc.Nodes[1].Fields)
	}
	if len(doc.Edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(doc.Edges))
	}
}

func TestParse_MissingNodeID_Errors(t *testing.T) {
	bad := `
metadata:
  id: wf-2
nodes:
  - type: task
edges: []
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected error for node missing id")
	}
}

func TestParse_MissingMetadataID_Errors(t *testing.T) {
	bad := `
nodes: []
edges: []
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected error for missing metadata.id")
	}
}

func TestDocument_Compile_RunsThroughEngine(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	registry := NewRegistry()
	registry.Register("task", func(spec NodeSpec) (graph.NodeFunc, error) {
		return func(ctx context.Context, state graph.State, rc *graph.RuntimeContext) graph.Command {
			v, _ := state.GetValue("count")
			n, _ := v.(int)
			mult, ok := spec.Fields["multiplier"].(int)
			if !ok {
				mult = 1
			}
			return graph.Update(graph.Continue(), graph.StateUpdate{Key: "count", Value: n + mult})
		}, nil
	})

	compiled, err := doc.Compile(registry, graph.Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	final, err := compiled.Invoke(context.Background(), "run-1", graph.State{"count": 0})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if final["count"] != 4 { // fetch (+1 default) then transform (+3)
		t.Fatalf("expected count 4, got %v", final["count"])
	}
}

func TestDocument_Compile_UnknownNodeType_Errors(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := doc.Compile(NewRegistry(), graph.Options{}); err == nil {
		t.Fatal("expected error for unregistered node type")
	}
}

func TestParse_ConditionalEdges(t *testing.T) {
	src := `
metadata:
  id: wf-3
nodes:
  - id: router
    type: task
  - id: a
    type: task
  - id: b
    type: task
edges:
  - from: start
    to: router
  - from: router
    to: a
    condition: go_a
  - from: router
    to: b
    condition: go_b
  - from: a
    to: end
  - from: b
    to: end
`
	doc, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Edges[1].Condition != "go_a" || doc.Edges[2].Condition != "go_b" {
		t.Fatalf("unexpected conditional edge parse: %+v", doc.Edges)
	}
}
