package probe

import "fmt"

// Module is a code module reported by a host when it is mapped. High is
// exclusive.
type Module struct {
	Name string
	Low  uint64
	High uint64
}

func (m Module) String() string {
	return fmt.Sprintf("%s [%#x-%#x)", m.Name, m.Low, m.High)
}

// Instruction is the static view of an instruction a host hands to the
// classifier.
type Instruction interface {
	Address() uint64
	IsCall() bool
	// IsDirectCall reports a call whose target is encoded in the instruction.
	IsDirectCall() bool
	// DirectTarget is only meaningful when IsDirectCall is true.
	DirectTarget() uint64
	// IsIndirectBranchOrCall reports a branch or call whose target is only
	// known at runtime.
	IsIndirectBranchOrCall() bool
}

// HookKind selects which runtime callback a host must invoke.
type HookKind uint8

const (
	// HookCallStatic calls Record with the target from the HookRequest.
	HookCallStatic HookKind = iota + 1
	// HookCallDynamic calls Record with the target resolved by the host at
	// execution time.
	HookCallDynamic
	// HookTrace calls TraceInstruction.
	HookTrace
)

func (k HookKind) String() string {
	switch k {
	case HookCallStatic:
		return "static"
	case HookCallDynamic:
		return "dynamic"
	case HookTrace:
		return "trace"
	default:
		return fmt.Sprintf("HookKind(%d)", k)
	}
}

// HookRequest asks the host to run a conditional hook before every execution
// of the instruction at Address.
type HookRequest struct {
	Address uint64
	Kind    HookKind
	Target  uint64 // HookCallStatic only
}

// TransferEvent is one recorded call.
type TransferEvent struct {
	Original   uint64
	Normalized uint64
	Target     uint64
}

// Sink receives the probe's output. Implementations must write each call as a
// single non-interleaved line.
type Sink interface {
	ModuleLoaded(name string) error
	TargetLoaded(base, top uint64) error
	Transfer(ev TransferEvent) error
	Instruction(original, normalized uint64) error
	Flush() error
}

// Tool is what an instrumentation host drives.
type Tool interface {
	OnModuleMapped(m Module) error
	OnInstruction(ins Instruction) *HookRequest
	Record(pc, target uint64, predicate bool) error
	TraceInstruction(pc uint64, predicate bool) error
	Fini(code int) error
}
