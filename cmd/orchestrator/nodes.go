package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/agentsubstrate/orchestrator-go/dsl"
	"github.com/agentsubstrate/orchestrator-go/graph"
	"github.com/agentsubstrate/orchestrator-go/wasmhost"
)

// registerBuiltinNodeTypes installs the node types a workflow DSL file can
// reference without bringing its own registry: "wasm" loads and runs a
// compiled WASM operator module, "log" is a no-op passthrough used for
// wiring and smoke-testing workflows that don't need real side effects.
func registerBuiltinNodeTypes(registry *dsl.Registry, host *wasmhost.Host, cfg appConfig, logger *zap.Logger) {
	registry.Register("wasm", wasmNodeFactory(host, cfg, logger))
	registry.Register("log", logNodeFactory(logger))
}

func wasmNodeFactory(host *wasmhost.Host, cfg appConfig, logger *zap.Logger) dsl.NodeFactory {
	return func(spec dsl.NodeSpec) (graph.NodeFunc, error) {
		modulePath, _ := spec.Fields["module_path"].(string)
		if modulePath == "" {
			return nil, graph.NewError(graph.CodeValidationFailed, "wasm node "+spec.ID+" requires module_path", nil)
		}
		source, err := os.ReadFile(modulePath)
		if err != nil {
			return nil, graph.NewError(graph.CodeInvalidInput, "reading wasm module for node "+spec.ID, err)
		}

		inputKey, _ := spec.Fields["input_key"].(string)
		outputKey, _ := spec.Fields["output_key"].(string)
		if inputKey == "" {
			inputKey = "input"
		}
		if outputKey == "" {
			outputKey = "output"
		}

		opCfg := wasmhost.OperatorConfig{
			Name:         spec.ID,
			ModuleSource: source,
			Capabilities: parseCapabilities(spec.Fields["capabilities"]),
			Limits: wasmhost.ResourceLimits{
				MaxFuel:          cfg.WasmMaxFuel,
				MaxMemoryPages:   (cfg.WasmMaxMemoryMB * 1024 * 1024) / 65536,
				MaxExecutionTime: cfg.WasmExecTimeout,
			},
			LogSink: func(level int32, msg string) {
				logger.Info("wasm operator log", zap.String("node_id", spec.ID), zap.Int32("level", level), zap.String("msg", msg))
			},
		}

		instance, err := wasmhost.NewInstance(host, opCfg)
		if err != nil {
			return nil, graph.NewError(graph.CodeValidationFailed, "building wasm operator for node "+spec.ID, err)
		}
		if err := instance.Initialize(context.Background()); err != nil {
			return nil, graph.NewError(graph.CodeExecutionError, "initializing wasm operator for node "+spec.ID, err)
		}

		node := &wasmhost.WasmNode{
			ID:        spec.ID,
			Operators: []*wasmhost.Instance{instance},
			InputKey:  inputKey,
			OutputKey: outputKey,
		}
		return node.AsNodeFunc(), nil
	}
}

func logNodeFactory(logger *zap.Logger) dsl.NodeFactory {
	return func(spec dsl.NodeSpec) (graph.NodeFunc, error) {
		message, _ := spec.Fields["message"].(string)
		if message == "" {
			message = fmt.Sprintf("node %s reached", spec.ID)
		}
		return func(ctx context.Context, state graph.State, rc *graph.RuntimeContext) graph.Command {
			logger.Info(message, zap.String("node_id", spec.ID), zap.String("run_id", rc.ExecutionID))
			return graph.Update(graph.Continue())
		}, nil
	}
}

func parseCapabilities(raw interface{}) []wasmhost.Capability {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	caps := make([]wasmhost.Capability, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			caps = append(caps, wasmhost.Capability(s))
		}
	}
	return caps
}
