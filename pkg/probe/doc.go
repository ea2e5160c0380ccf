// Package probe implements the call tracing core: it watches a single target
// module, decides which instructions inside that module get a runtime hook and
// records every call that executes there.
//
// The package is host independent. An instrumentation host (see pkg/ptrace and
// pkg/emu) reports mapped modules with [Probe.OnModuleMapped], asks once per
// discovered instruction whether it needs a hook with [Probe.OnInstruction],
// and invokes [Probe.Record] right before each execution of a hooked
// instruction.
//
// Addresses inside the target module are rebased onto [RebaseOrigin] so traces
// taken with the module loaded at different base addresses can be diffed.
package probe
