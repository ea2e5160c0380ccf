// Package disass decodes machine instructions into the static view the probe
// classifies, and resolves the targets of indirect calls at execution time.
package disass

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// Arch is a supported instruction set.
type Arch string

// Supported architectures.
const (
	ArchAMD64 Arch = "amd64"
	ArchARM64 Arch = "arm64"
)

// ErrUnsupportedArch is returned for architectures Decode does not handle.
var ErrUnsupportedArch = errors.New("unsupported architecture")

// MaxLen returns the longest possible encoding for arch.
func (a Arch) MaxLen() int {
	switch a {
	case ArchAMD64:
		return 15
	case ArchARM64:
		return 4
	default:
		return 0
	}
}

// Kind is the control flow shape of an instruction.
type Kind uint8

// Instruction kinds.
const (
	KindOther Kind = iota
	KindCall
	KindJump
	KindCondJump
	KindReturn
	KindSyscall
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindJump:
		return "jump"
	case KindCondJump:
		return "cond-jump"
	case KindReturn:
		return "return"
	case KindSyscall:
		return "syscall"
	default:
		return "other"
	}
}

// Instruction is a decoded instruction. It implements probe.Instruction.
type Instruction struct {
	Addr uint64
	Len  int
	Arch Arch
	Kind Kind
	Raw  []byte

	direct bool
	target uint64

	x86 *x86asm.Inst
	arm *arm64asm.Inst
}

// Decode decodes the instruction at the start of code, located at addr.
func Decode(arch Arch, code []byte, addr uint64) (*Instruction, error) {
	switch arch {
	case ArchAMD64:
		return decodeAMD64(code, addr)
	case ArchARM64:
		return decodeARM64(code, addr)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, arch)
	}
}

func decodeAMD64(code []byte, addr uint64) (*Instruction, error) {
	// ENDBR64 (f3 0f 1e fa) and ENDBR32 (f3 0f 1e fb) are not known to
	// x86asm and are transparent to control flow.
	if len(code) >= 4 &&
		code[0] == 0xf3 && code[1] == 0x0f && code[2] == 0x1e && (code[3] == 0xfa || code[3] == 0xfb) {
		return &Instruction{Addr: addr, Len: 4, Arch: ArchAMD64, Raw: clone(code[:4])}, nil
	}

	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x86-64 instruction at %#x: %w", addr, err)
	}
	// truncated input decodes to a one byte prefix pseudo-instruction
	if inst.Op == 0 {
		return nil, fmt.Errorf("failed to decode x86-64 instruction at %#x: %w", addr, x86asm.ErrTruncated)
	}

	i := &Instruction{
		Addr: addr,
		Len:  inst.Len,
		Arch: ArchAMD64,
		Raw:  clone(code[:inst.Len]),
		x86:  &inst,
	}

	switch inst.Op {
	case x86asm.CALL:
		i.Kind = KindCall
	case x86asm.JMP:
		i.Kind = KindJump
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ, x86asm.JE, x86asm.JECXZ,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP,
		x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JRCXZ, x86asm.JS,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		i.Kind = KindCondJump
	case x86asm.RET, x86asm.LRET:
		i.Kind = KindReturn
	case x86asm.SYSCALL, x86asm.SYSENTER, x86asm.INT:
		i.Kind = KindSyscall
	}

	if i.Kind == KindCall || i.Kind == KindJump || i.Kind == KindCondJump {
		if rel, ok := inst.Args[0].(x86asm.Rel); ok {
			i.direct = true
			i.target = addr + uint64(inst.Len) + uint64(int64(rel))
		}
	}

	return i, nil
}

func decodeARM64(code []byte, addr uint64) (*Instruction, error) {
	if len(code) < 4 {
		return nil, fmt.Errorf("failed to decode arm64 instruction at %#x: need 4 bytes, got %d", addr, len(code))
	}
	inst, err := arm64asm.Decode(code[:4])
	if err != nil {
		return nil, fmt.Errorf("failed to decode arm64 instruction at %#x: %w", addr, err)
	}

	i := &Instruction{
		Addr: addr,
		Len:  4,
		Arch: ArchARM64,
		Raw:  clone(code[:4]),
		arm:  &inst,
	}

	switch inst.Op {
	case arm64asm.BL, arm64asm.BLR:
		i.Kind = KindCall
	case arm64asm.B:
		i.Kind = KindJump
		for _, arg := range inst.Args {
			if _, ok := arg.(arm64asm.Cond); ok {
				i.Kind = KindCondJump
				break
			}
		}
	case arm64asm.BR:
		i.Kind = KindJump
	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		i.Kind = KindCondJump
	case arm64asm.RET:
		i.Kind = KindReturn
	case arm64asm.SVC:
		i.Kind = KindSyscall
	}

	for _, arg := range inst.Args {
		if pcrel, ok := arg.(arm64asm.PCRel); ok && i.Kind != KindOther {
			i.direct = true
			i.target = addr + uint64(int64(pcrel))
			break
		}
	}

	return i, nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

// Address returns the instruction's virtual address.
func (i *Instruction) Address() uint64 { return i.Addr }

// IsCall reports a call (x86 CALL, arm64 BL/BLR).
func (i *Instruction) IsCall() bool { return i.Kind == KindCall }

// IsDirectCall reports a call with an encoded relative target.
func (i *Instruction) IsDirectCall() bool { return i.Kind == KindCall && i.direct }

// DirectTarget returns the encoded target of a direct branch or call.
func (i *Instruction) DirectTarget() uint64 { return i.target }

// IsIndirectBranchOrCall reports a branch, call or return whose target comes
// from a register or memory.
func (i *Instruction) IsIndirectBranchOrCall() bool {
	switch i.Kind {
	case KindCall, KindJump:
		return !i.direct
	case KindReturn:
		return true
	default:
		return false
	}
}

// IsSyscall reports an instruction that enters the kernel.
func (i *Instruction) IsSyscall() bool { return i.Kind == KindSyscall }

// Next returns the fall-through address.
func (i *Instruction) Next() uint64 { return i.Addr + uint64(i.Len) }

func (i *Instruction) String() string {
	switch {
	case i.x86 != nil:
		return strings.ToLower(x86asm.IntelSyntax(*i.x86, i.Addr, nil))
	case i.arm != nil:
		return strings.ToLower(arm64asm.GNUSyntax(*i.arm))
	case i.Arch == ArchAMD64 && i.Len == 4:
		return "endbr64"
	default:
		return "(bad)"
	}
}
