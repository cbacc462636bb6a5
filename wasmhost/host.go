// Package wasmhost runs untrusted WASM bytecode modules as
// graph-compatible operator nodes with hard resource limits and a
// capability-gated host ABI.
package wasmhost

import (
	"context"
	"sync"
	"time"

	"github.com/agentsubstrate/orchestrator-go/graph"
	wasmtime "github.com/bytecodealliance/wasmtime-go/v28"
)

// Capability is the closed set of host ABI extensions a module may
// request. Capability-gated functions are only linked when the module's
// config declares the capability; a module calling an unlinked import
// fails at instantiation, not at call time.
type Capability string

const (
	CapReadConfig  Capability = "read_config"
	CapSendMessage Capability = "send_message"
	CapStorage     Capability = "storage"
	CapNet         Capability = "net"
	CapFilesystem  Capability = "filesystem"
)

// ResourceLimits bounds one instance's memory, tables, and compute
// budget. MaxFuel and MaxExecutionTime are both optional: a zero value
// disables that particular guard.
type ResourceLimits struct {
	MaxMemoryPages   int64
	MaxTableElements int64
	MaxInstances     int64
	MaxFuel          uint64
	MaxExecutionTime time.Duration
}

func (l ResourceLimits) withDefaults() ResourceLimits {
	if l.MaxMemoryPages <= 0 {
		l.MaxMemoryPages = 16 // 1 MiB
	}
	if l.MaxTableElements <= 0 {
		l.MaxTableElements = 1024
	}
	if l.MaxInstances <= 0 {
		l.MaxInstances = 1
	}
	return l
}

// Host owns the wasmtime Engine shared by every Instance it creates, plus
// the background epoch ticker that implements MaxExecutionTime across
// all instances without each one needing its own timer goroutine.
type Host struct {
	engine *wasmtime.Engine

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHost builds a Host configured for fuel accounting and epoch-based
// interruption — the two mechanisms ResourceLimits.MaxFuel and
// MaxExecutionTime rely on.
func NewHost() *Host {
	cfg := wasmtime.NewConfig()
	cfg.SetConsumeFuel(true)
	cfg.SetEpochInterruption(true)
	return &Host{engine: wasmtime.NewEngineWithConfig(cfg)}
}

// StartEpochTicker launches a goroutine that increments the engine's
// epoch counter every tick, driving any Instance's SetEpochDeadline
// guard. Call once per Host; Stop halts it.
func (h *Host) StartEpochTicker(ctx context.Context, tick time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.engine.IncrementEpoch()
			}
		}
	}()
}

// Stop halts the epoch ticker, if running, and waits for it to exit.
func (h *Host) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// errTrap wraps a wasmtime trap (fuel exhaustion, epoch deadline, guest
// abort, OOB memory access) as the closed ExecutionError taxonomy.
func errTrap(msg string, cause error) error {
	return graph.NewError(graph.CodeExecutionError, msg, cause)
}
