package wasmhost

import (
	"context"
	"sync"

	"github.com/agentsubstrate/orchestrator-go/graph"
	wasmtime "github.com/bytecodealliance/wasmtime-go/v28"
)

// wasmPageSize is the fixed WASM linear-memory page size (64 KiB),
// used to convert ResourceLimits.MaxMemoryPages into the byte count
// wasmtime's store limiter wants.
const wasmPageSize = 65536

// State is an Instance's lifecycle position:
// Created -> Initialized -> (Running <-> Paused) -> Stopped, with
// Stopped -> Initialized re-entry allowed for hot-reload.
type State string

const (
	StateCreated     State = "Created"
	StateInitialized State = "Initialized"
	StateRunning     State = "Running"
	StatePaused      State = "Paused"
	StateStopped     State = "Stopped"
)

// OperatorConfig declares one WASM operator: its module bytes, the
// exported process function to call, and its resource/capability
// envelope.
type OperatorConfig struct {
	Name         string
	ModuleSource []byte
	ProcessExport string // defaults to "process"
	Capabilities []Capability
	Limits       ResourceLimits
	LogSink      LogSink
}

func (c OperatorConfig) processExport() string {
	if c.ProcessExport == "" {
		return "process"
	}
	return c.ProcessExport
}

// Instance is one loaded, runnable operator: a wasmtime Store/Instance
// pair plus the host context backing its ABI calls.
type Instance struct {
	host *Host
	cfg  OperatorConfig

	mu      sync.Mutex
	state   State
	module  *wasmtime.Module
	store   *wasmtime.Store
	memory  *wasmtime.Memory
	process *wasmtime.Func
	hc      *hostContext

	errorCount int
}

// NewInstance compiles cfg.ModuleSource against host's engine. The
// module is compiled once; Initialize (re-)creates the runnable store.
func NewInstance(host *Host, cfg OperatorConfig) (*Instance, error) {
	module, err := wasmtime.NewModule(host.engine, cfg.ModuleSource)
	if err != nil {
		return nil, graph.NewError(graph.CodeValidationFailed, "invalid WASM module for operator "+cfg.Name, err)
	}
	return &Instance{host: host, cfg: cfg, state: StateCreated, module: module}, nil
}

// Initialize builds a fresh Store, links the host ABI, enforces
// resource limits, instantiates the module, and invokes _initialize if
// the module exports it. Valid from Created or Stopped (hot-reload).
func (in *Instance) Initialize(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state != StateCreated && in.state != StateStopped {
		return graph.NewError(graph.CodeInvalidInput, "Initialize requires Created or Stopped state, got "+string(in.state), nil)
	}

	limits := in.cfg.Limits.withDefaults()
	store := wasmtime.NewStore(in.host.engine)

	limiter := wasmtime.NewStoreLimitsBuilder().
		MemorySize(limits.MaxMemoryPages * wasmPageSize).
		TableElements(limits.MaxTableElements).
		Instances(limits.MaxInstances).
		Build()
	store.Limiter(limiter)

	if limits.MaxFuel > 0 {
		if err := store.AddFuel(limits.MaxFuel); err != nil {
			return errTrap("failed to set fuel budget for operator "+in.cfg.Name, err)
		}
	}
	if limits.MaxExecutionTime > 0 {
		store.SetEpochDeadline(1)
	}

	hc := newHostContext(1<<16, in.cfg.LogSink, in.cfg.Capabilities)
	linker := wasmtime.NewLinker(in.host.engine)
	if err := linkHostABI(linker, store, hc, in.cfg.Capabilities); err != nil {
		return graph.NewError(graph.CodeInternal, "failed linking host ABI for operator "+in.cfg.Name, err)
	}

	instance, err := linker.Instantiate(store, in.module)
	if err != nil {
		return errTrap("failed to instantiate operator "+in.cfg.Name, err)
	}

	memExt := instance.GetExport(store, "memory")
	if memExt == nil || memExt.Memory() == nil {
		return graph.NewError(graph.CodeValidationFailed, "operator "+in.cfg.Name+" does not export memory", nil)
	}
	processExt := instance.GetExport(store, in.cfg.processExport())
	if processExt == nil || processExt.Func() == nil {
		return graph.NewError(graph.CodeValidationFailed, "operator "+in.cfg.Name+" does not export "+in.cfg.processExport(), nil)
	}

	in.store = store
	in.memory = memExt.Memory()
	in.process = processExt.Func()
	in.hc = hc
	in.state = StateInitialized

	if initExt := instance.GetExport(store, "_initialize"); initExt != nil && initExt.Func() != nil {
		if _, err := initExt.Func().Call(store); err != nil {
			return errTrap("operator "+in.cfg.Name+" _initialize trapped", err)
		}
	}
	in.state = StateRunning
	return nil
}

// Pause defers new Process calls without tearing the instance down.
func (in *Instance) Pause() error { return in.setState(StatePaused, StateRunning) }

// Resume undoes Pause.
func (in *Instance) Resume() error { return in.setState(StateRunning, StatePaused) }

func (in *Instance) setState(to, from State) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state != from {
		return graph.NewError(graph.CodeInvalidInput, "cannot transition to "+string(to)+" from "+string(in.state), nil)
	}
	in.state = to
	return nil
}

// Process writes input into the instance's shared memory at offset 0,
// calls process(0, len(input)), and returns the bytes named by the
// return value: 0 means pass-through of the original input, a positive
// n reads n bytes back from offset 0.
func (in *Instance) Process(ctx context.Context, input []byte) ([]byte, error) {
	in.mu.Lock()
	if in.state != StateRunning {
		in.mu.Unlock()
		return nil, graph.NewError(graph.CodeInvalidInput, "operator "+in.cfg.Name+" is not Running (state="+string(in.state)+")", nil)
	}
	store, memory, process := in.store, in.memory, in.process
	in.mu.Unlock()

	data := memory.UnsafeData(store)
	if len(input) > len(data) {
		return nil, graph.NewError(graph.CodeResourceExhausted, "operator "+in.cfg.Name+" input exceeds linear memory", nil)
	}
	copy(data, input)

	result, err := process.Call(store, int32(0), int32(len(input)))
	if err != nil {
		in.mu.Lock()
		in.errorCount++
		in.mu.Unlock()
		return nil, errTrap("operator "+in.cfg.Name+" process() trapped", err)
	}

	n, ok := result.(int32)
	if !ok {
		return nil, graph.NewError(graph.CodeExecutionError, "operator "+in.cfg.Name+" process() returned non-i32", nil)
	}
	if n == 0 {
		return input, nil
	}
	if n < 0 {
		return nil, graph.NewError(graph.CodeExecutionError, "operator "+in.cfg.Name+" process() returned negative length", nil)
	}

	// Re-fetch: a call that grew memory may have reallocated the backing
	// slice referenced by data.
	out := memory.UnsafeData(store)
	if int(n) > len(out) {
		return nil, graph.NewError(graph.CodeExecutionError, "operator "+in.cfg.Name+" process() return length exceeds memory", nil)
	}
	buf := make([]byte, n)
	copy(buf, out[:n])
	return buf, nil
}

// ErrorCount returns the number of process() calls that have trapped.
func (in *Instance) ErrorCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.errorCount
}

// Stop tears the instance down by releasing its store, memory and process
// function; it does not call a _cleanup export, even when the module has
// one. Stopped instances can be re-Initialized (hot-reload).
func (in *Instance) Stop(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state == StateStopped || in.state == StateCreated {
		in.state = StateStopped
		return nil
	}
	in.state = StateStopped
	in.store = nil
	in.memory = nil
	in.process = nil
	in.hc = nil
	return nil
}

// WasmNode is a graph node hosting an ordered chain of operators: the
// output of operator N becomes the input of N+1. It implements
// graph.NodeFunc directly.
type WasmNode struct {
	ID        string
	Operators []*Instance
	InputKey  string
	OutputKey string
}

// Call satisfies graph.NodeFunc.
func (n *WasmNode) Call(ctx context.Context, state graph.State, rc *graph.RuntimeContext) graph.Command {
	raw, ok := state.GetValue(n.InputKey)
	if !ok {
		return graph.Fail(graph.NewError(graph.CodeInvalidInput, "WasmNode "+n.ID+" missing input key "+n.InputKey, nil))
	}
	input, ok := raw.([]byte)
	if !ok {
		return graph.Fail(graph.NewError(graph.CodeInvalidInput, "WasmNode "+n.ID+" input key "+n.InputKey+" is not []byte", nil))
	}

	current := input
	for _, op := range n.Operators {
		out, err := op.Process(ctx, current)
		if err != nil {
			return graph.Fail(err)
		}
		current = out
	}

	return graph.Update(graph.Continue(), graph.StateUpdate{Key: n.OutputKey, Value: current})
}

// AsNodeFunc adapts n to graph.NodeFunc's function type.
func (n *WasmNode) AsNodeFunc() graph.NodeFunc {
	return func(ctx context.Context, state graph.State, rc *graph.RuntimeContext) graph.Command {
		return n.Call(ctx, state, rc)
	}
}
