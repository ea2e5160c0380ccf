//go:build unicorn

package emu

import (
	"fmt"
	"strings"

	"github.com/blacktop/calltrace/pkg/disass"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

type register struct {
	Name  string
	Alias string
	ID    int
}

var amd64Regs = []register{
	{"rax", "", uc.X86_REG_RAX},
	{"rbx", "", uc.X86_REG_RBX},
	{"rcx", "", uc.X86_REG_RCX},
	{"rdx", "", uc.X86_REG_RDX},
	{"rsi", "", uc.X86_REG_RSI},
	{"rdi", "", uc.X86_REG_RDI},
	{"rbp", "", uc.X86_REG_RBP},
	{"rsp", "", uc.X86_REG_RSP},
	{"r8", "", uc.X86_REG_R8},
	{"r9", "", uc.X86_REG_R9},
	{"r10", "", uc.X86_REG_R10},
	{"r11", "", uc.X86_REG_R11},
	{"r12", "", uc.X86_REG_R12},
	{"r13", "", uc.X86_REG_R13},
	{"r14", "", uc.X86_REG_R14},
	{"r15", "", uc.X86_REG_R15},
	{"rip", "pc", uc.X86_REG_RIP},
	{"eflags", "", uc.X86_REG_EFLAGS},
	{"fs_base", "", uc.X86_REG_FS_BASE},
	{"gs_base", "", uc.X86_REG_GS_BASE},
}

var arm64Regs = []register{
	{"x0", "", uc.ARM64_REG_X0},
	{"x1", "", uc.ARM64_REG_X1},
	{"x2", "", uc.ARM64_REG_X2},
	{"x3", "", uc.ARM64_REG_X3},
	{"x4", "", uc.ARM64_REG_X4},
	{"x5", "", uc.ARM64_REG_X5},
	{"x6", "", uc.ARM64_REG_X6},
	{"x7", "", uc.ARM64_REG_X7},
	{"x8", "", uc.ARM64_REG_X8},
	{"x9", "", uc.ARM64_REG_X9},
	{"x10", "", uc.ARM64_REG_X10},
	{"x11", "", uc.ARM64_REG_X11},
	{"x12", "", uc.ARM64_REG_X12},
	{"x13", "", uc.ARM64_REG_X13},
	{"x14", "", uc.ARM64_REG_X14},
	{"x15", "", uc.ARM64_REG_X15},
	{"x16", "", uc.ARM64_REG_X16},
	{"x17", "", uc.ARM64_REG_X17},
	{"x18", "", uc.ARM64_REG_X18},
	{"x19", "", uc.ARM64_REG_X19},
	{"x20", "", uc.ARM64_REG_X20},
	{"x21", "", uc.ARM64_REG_X21},
	{"x22", "", uc.ARM64_REG_X22},
	{"x23", "", uc.ARM64_REG_X23},
	{"x24", "", uc.ARM64_REG_X24},
	{"x25", "", uc.ARM64_REG_X25},
	{"x26", "", uc.ARM64_REG_X26},
	{"x27", "", uc.ARM64_REG_X27},
	{"x28", "", uc.ARM64_REG_X28},
	{"x29", "fp", uc.ARM64_REG_X29},
	{"x30", "lr", uc.ARM64_REG_X30},
	{"sp", "", uc.ARM64_REG_SP},
	{"pc", "", uc.ARM64_REG_PC},
	{"nzcv", "", uc.ARM64_REG_NZCV},
	{"tpidr_el0", "", uc.ARM64_REG_TPIDR_EL0},
}

func registersFor(arch disass.Arch) []register {
	switch arch {
	case disass.ArchAMD64:
		return amd64Regs
	case disass.ArchARM64:
		return arm64Regs
	default:
		return nil
	}
}

func (e *Emulation) lookupRegister(name string) (int, error) {
	name = strings.ToLower(name)
	for _, reg := range e.regs {
		if reg.Name == name || (reg.Alias != "" && reg.Alias == name) {
			return reg.ID, nil
		}
	}
	return 0, fmt.Errorf("unknown %s register %q", e.arch, name)
}

// ReadRegister reads the current value of a register by name.
func (e *Emulation) ReadRegister(name string) (uint64, error) {
	id, err := e.lookupRegister(name)
	if err != nil {
		return 0, err
	}
	return e.mu.RegRead(id)
}

// WriteRegister sets a register by name.
func (e *Emulation) WriteRegister(name string, value uint64) error {
	id, err := e.lookupRegister(name)
	if err != nil {
		return err
	}
	if err := e.mu.RegWrite(id, value); err != nil {
		return fmt.Errorf("failed to set %s register to %#x: %v", name, value, err)
	}
	return nil
}

// DumpRegisters formats the general purpose registers, four per line.
func (e *Emulation) DumpRegisters() string {
	var sb strings.Builder
	sb.WriteString(colorHook("[REGISTERS]\n"))
	for idx, reg := range e.regs {
		val, err := e.mu.RegRead(reg.ID)
		if err != nil {
			continue
		}
		sb.WriteString(colorDetails("%8s: %#-18x", reg.Name, val))
		if idx%4 == 3 {
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

// State snapshots the current registers in the state file format, so a run
// can be resumed with SetState.
func (e *Emulation) State() (*State, error) {
	state := &State{Registers: make(map[string]any, len(e.regs))}
	for _, reg := range e.regs {
		val, err := e.mu.RegRead(reg.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s register: %v", reg.Name, err)
		}
		state.Registers[reg.Name] = fmt.Sprintf("%#x", val)
	}
	return state, nil
}
