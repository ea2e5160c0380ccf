package disass

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// ErrUnsupportedOperand is returned when an indirect target cannot be computed
// from the instruction's operands.
var ErrUnsupportedOperand = errors.New("unsupported target operand")

// RegisterReader reads the current value of a register by its lower case name
// ("rax", "r12", "fs_base", "x8").
type RegisterReader interface {
	ReadRegister(name string) (uint64, error)
}

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// ResolveTarget returns the address control will transfer to when i executes
// in the given register and memory state. It must be called before i runs.
func (i *Instruction) ResolveTarget(regs RegisterReader, mem MemoryReader) (uint64, error) {
	if i.direct {
		return i.target, nil
	}
	switch {
	case i.x86 != nil:
		return i.resolveAMD64(regs, mem)
	case i.arm != nil:
		return i.resolveARM64(regs)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedOperand, i)
	}
}

func (i *Instruction) resolveAMD64(regs RegisterReader, mem MemoryReader) (uint64, error) {
	switch arg := i.x86.Args[0].(type) {
	case x86asm.Reg:
		return readRegAMD64(regs, arg)
	case x86asm.Mem:
		ea, err := i.effectiveAddress(regs, arg)
		if err != nil {
			return 0, err
		}
		size := i.x86.MemBytes
		if size <= 0 || size > 8 {
			size = 8
		}
		buf := make([]byte, 8)
		n, err := mem.ReadMemory(buf[:size], ea)
		if err != nil {
			return 0, fmt.Errorf("failed to read call target at %#x: %w", ea, err)
		}
		if n != size {
			return 0, fmt.Errorf("short read of call target at %#x: got %d bytes, want %d", ea, n, size)
		}
		return binary.LittleEndian.Uint64(buf), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedOperand, i)
	}
}

func (i *Instruction) effectiveAddress(regs RegisterReader, m x86asm.Mem) (uint64, error) {
	var ea uint64

	switch m.Base {
	case 0:
	case x86asm.RIP:
		ea = i.Next()
	default:
		v, err := readRegAMD64(regs, m.Base)
		if err != nil {
			return 0, err
		}
		ea = v
	}

	if m.Index != 0 {
		v, err := readRegAMD64(regs, m.Index)
		if err != nil {
			return 0, err
		}
		ea += v * uint64(m.Scale)
	}

	ea += uint64(m.Disp)

	switch m.Segment {
	case x86asm.FS:
		v, err := regs.ReadRegister("fs_base")
		if err != nil {
			return 0, err
		}
		ea += v
	case x86asm.GS:
		v, err := regs.ReadRegister("gs_base")
		if err != nil {
			return 0, err
		}
		ea += v
	}

	if i.x86.AddrSize == 32 {
		ea &= 0xffffffff
	}
	return ea, nil
}

// readRegAMD64 reads a 64-bit or 32-bit general purpose register.
func readRegAMD64(regs RegisterReader, r x86asm.Reg) (uint64, error) {
	switch {
	case r >= x86asm.RAX && r <= x86asm.R15:
		return regs.ReadRegister(strings.ToLower(r.String()))
	case r >= x86asm.EAX && r <= x86asm.R15L:
		full := x86asm.RAX + (r - x86asm.EAX)
		v, err := regs.ReadRegister(strings.ToLower(full.String()))
		return v & 0xffffffff, err
	default:
		return 0, fmt.Errorf("%w: register %s", ErrUnsupportedOperand, r)
	}
}

func (i *Instruction) resolveARM64(regs RegisterReader) (uint64, error) {
	switch i.arm.Op {
	case arm64asm.RET:
		if i.arm.Args[0] == nil {
			return regs.ReadRegister("x30")
		}
	}
	r, ok := i.arm.Args[0].(arm64asm.Reg)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedOperand, i)
	}
	if r < arm64asm.X0 || r > arm64asm.X30 {
		return 0, fmt.Errorf("%w: register %s", ErrUnsupportedOperand, r)
	}
	return regs.ReadRegister(strings.ToLower(r.String()))
}
