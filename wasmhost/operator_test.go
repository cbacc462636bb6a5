package wasmhost

import (
	"context"
	"testing"
	"time"

	wasmtime "github.com/bytecodealliance/wasmtime-go/v28"
)

func mustWasm(t *testing.T, wat string) []byte {
	t.Helper()
	wasm, err := wasmtime.Wat2Wasm(wat)
	if err != nil {
		t.Fatalf("Wat2Wasm: %v", err)
	}
	return wasm
}

func newTestInstance(t *testing.T, host *Host, wat string, limits ResourceLimits) *Instance {
	t.Helper()
	in, err := NewInstance(host, OperatorConfig{Name: "test", ModuleSource: mustWasm(t, wat), Limits: limits})
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	if err := in.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return in
}

func TestInstance_Passthrough_ReturnsInputUnchanged(t *testing.T) {
	host := NewHost()
	in := newTestInstance(t, host, passthroughWat, ResourceLimits{})

	out, err := in.Process(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected passthrough of input, got %q", out)
	}
}

func TestInstance_Double_OutputIsTwiceInputLength(t *testing.T) {
	host := NewHost()
	in := newTestInstance(t, host, doubleWat, ResourceLimits{})

	out, err := in.Process(context.Background(), []byte("ab"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected output length 4, got %d (%q)", len(out), out)
	}
	if string(out) != "abab" {
		t.Fatalf("expected doubled input, got %q", out)
	}
}

// TestInstance_FuelExhaustion_TrapsDeterministically implements the
// "WASM limits" testable property: an infinite-loop module under a
// finite fuel budget traps, and does so the same way on repeated runs.
func TestInstance_FuelExhaustion_TrapsDeterministically(t *testing.T) {
	host := NewHost()

	for i := 0; i < 2; i++ {
		in := newTestInstance(t, host, infiniteLoopWat, ResourceLimits{MaxFuel: 10_000})
		_, err := in.Process(context.Background(), []byte("x"))
		if err == nil {
			t.Fatalf("run %d: expected fuel exhaustion trap, got nil error", i)
		}
	}
}

func TestInstance_OOBStore_TrapsAsExecutionError(t *testing.T) {
	host := NewHost()
	in := newTestInstance(t, host, oobWat, ResourceLimits{})

	_, err := in.Process(context.Background(), []byte("x"))
	if err == nil {
		t.Fatal("expected out-of-bounds memory access to trap")
	}
}

func TestInstance_Lifecycle_PauseBlocksProcessResumeAllows(t *testing.T) {
	host := NewHost()
	in := newTestInstance(t, host, passthroughWat, ResourceLimits{})

	if err := in.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := in.Process(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected Process to fail while Paused")
	}
	if err := in.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := in.Process(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Process after Resume: %v", err)
	}
}

func TestInstance_StopThenReinitialize_HotReload(t *testing.T) {
	host := NewHost()
	in := newTestInstance(t, host, passthroughWat, ResourceLimits{})

	if err := in.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := in.Initialize(context.Background()); err != nil {
		t.Fatalf("re-Initialize after Stop: %v", err)
	}
	if _, err := in.Process(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Process after hot-reload: %v", err)
	}
}

func TestHost_EpochTicker_StartStop(t *testing.T) {
	host := NewHost()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	host.StartEpochTicker(ctx, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	host.Stop()
}
