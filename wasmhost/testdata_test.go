package wasmhost

// WAT fixtures compiled at test time via wasmtime.Wat2Wasm, so this
// package has no dependency on an external wasm toolchain.

// passthroughWat exports process(ptr,len) -> i32 returning 0, meaning
// "forward the original input unchanged" per the operator contract.
const passthroughWat = `
(module
  (memory (export "memory") 1)
  (func (export "process") (param $ptr i32) (param $len i32) (result i32)
    i32.const 0))
`

// doubleWat appends a copy of the input after itself (ptr+len..ptr+2*len)
// and returns len*2, so process output is the input doubled.
const doubleWat = `
(module
  (memory (export "memory") 1)
  (func (export "process") (param $ptr i32) (param $len i32) (result i32)
    (local $i i32)
    (local.set $i (i32.const 0))
    (block $done
      (loop $loop
        (br_if $done (i32.ge_s (local.get $i) (local.get $len)))
        (i32.store8
          (i32.add (local.get $ptr) (i32.add (local.get $len) (local.get $i)))
          (i32.load8_u (i32.add (local.get $ptr) (local.get $i))))
        (local.set $i (i32.add (local.get $i) (i32.const 1)))
        (br $loop)))
    (i32.mul (local.get $len) (i32.const 2))))
`

// infiniteLoopWat never returns; under a finite fuel budget it must trap
// deterministically rather than hang.
const infiniteLoopWat = `
(module
  (memory (export "memory") 1)
  (func (export "process") (param $ptr i32) (param $len i32) (result i32)
    (loop $inf
      (br $inf))
    (i32.const 0)))
`

// oobWat calls host_log once then traps via an out-of-bounds store,
// useful for exercising the ABI link path plus ExecutionError mapping.
const oobWat = `
(module
  (import "env" "host_log" (func $host_log (param i32 i32 i32) (result i32)))
  (memory (export "memory") 1)
  (func (export "process") (param $ptr i32) (param $len i32) (result i32)
    (drop (call $host_log (i32.const 1) (local.get $ptr) (local.get $len)))
    (i32.store (i32.const 1000000) (i32.const 1))
    (i32.const 0)))
`
