package main

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/agentsubstrate/orchestrator-go/dsl"
	"github.com/agentsubstrate/orchestrator-go/graph"
	"github.com/agentsubstrate/orchestrator-go/wasmhost"
)

func TestRegisterBuiltinNodeTypes_RegistersWasmAndLog(t *testing.T) {
	registry := dsl.NewRegistry()
	host := wasmhost.NewHost()
	defer host.Stop()

	registerBuiltinNodeTypes(registry, host, appConfig{WasmMaxMemoryMB: 16}, zap.NewNop())

	doc, err := dsl.Parse([]byte(`
metadata:
  id: wf-log
nodes:
  - id: step-one
    type: log
    message: hello
edges:
  - from: start
    to: step-one
  - from: step-one
    to: end
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	compiled, err := doc.Compile(registry, graph.Options{})
	if err != nil {
		t.Fatalf("Compile with registered log node type: %v", err)
	}
	if _, err := compiled.Invoke(context.Background(), "run-1", graph.State{}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
}

func TestWasmNodeFactory_MissingModulePath_Errors(t *testing.T) {
	factory := wasmNodeFactory(wasmhost.NewHost(), appConfig{}, zap.NewNop())
	if _, err := factory(dsl.NodeSpec{ID: "op", Type: "wasm", Fields: map[string]interface{}{}}); err == nil {
		t.Fatal("expected error for missing module_path")
	}
}

func TestParseCapabilities_FiltersNonStrings(t *testing.T) {
	caps := parseCapabilities([]interface{}{"read_config", 5, "net"})
	if len(caps) != 2 || caps[0] != wasmhost.CapReadConfig || caps[1] != wasmhost.CapNet {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
}

func TestParseCapabilities_NilForWrongType(t *testing.T) {
	if caps := parseCapabilities("not-a-list"); caps != nil {
		t.Fatalf("expected nil, got %+v", caps)
	}
}
