//go:build linux && amd64

package ptrace

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// regs exposes a stopped thread's registers to the target resolver.
type regs unix.PtraceRegs

func (r *regs) ReadRegister(name string) (uint64, error) {
	switch name {
	case "rax":
		return r.Rax, nil
	case "rbx":
		return r.Rbx, nil
	case "rcx":
		return r.Rcx, nil
	case "rdx":
		return r.Rdx, nil
	case "rsi":
		return r.Rsi, nil
	case "rdi":
		return r.Rdi, nil
	case "rbp":
		return r.Rbp, nil
	case "rsp":
		return r.Rsp, nil
	case "r8":
		return r.R8, nil
	case "r9":
		return r.R9, nil
	case "r10":
		return r.R10, nil
	case "r11":
		return r.R11, nil
	case "r12":
		return r.R12, nil
	case "r13":
		return r.R13, nil
	case "r14":
		return r.R14, nil
	case "r15":
		return r.R15, nil
	case "rip":
		return r.Rip, nil
	case "fs_base":
		return r.Fs_base, nil
	case "gs_base":
		return r.Gs_base, nil
	default:
		return 0, fmt.Errorf("unknown register %q", name)
	}
}

// memory reads a traced thread's address space a word at a time.
type memory int

func (tid memory) ReadMemory(buf []byte, addr uint64) (int, error) {
	return unix.PtracePeekData(int(tid), uintptr(addr), buf)
}
