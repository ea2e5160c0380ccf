//go:build unicorn

package emu

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/blacktop/go-macho/types"
)

// ReadMemory reads emulator memory. A read running past the end of a mapping
// returns the bytes up to the page boundary.
func (e *Emulation) ReadMemory(buf []byte, addr uint64) (int, error) {
	if err := e.mu.MemReadInto(buf, addr); err == nil {
		return len(buf), nil
	}
	n := min(uint64(len(buf)), PageSize-addr%PageSize)
	if err := e.mu.MemReadInto(buf[:n], addr); err != nil {
		return 0, fmt.Errorf("failed to read %d bytes at %#x: %v", len(buf), addr, err)
	}
	return int(n), nil
}

func (e *Emulation) PutPointer(where uint64, ptr uint64, size uint64) error {
	buf := make([]byte, size)
	if size == 4 {
		binary.LittleEndian.PutUint32(buf, uint32(ptr))
		return e.mu.MemWrite(where, buf)
	}
	binary.LittleEndian.PutUint64(buf, ptr)
	return e.mu.MemWrite(where, buf)
}

func GetRandomUint64() uint64 {
	buf := make([]byte, 8)
	rand.Read(buf)
	return binary.LittleEndian.Uint64(buf)
}

// DumpMemRegions prints emulation memory regions
func (e *Emulation) DumpMemRegions() error {
	memRegs, err := e.mu.MemRegions()
	if err != nil {
		return err
	}
	for _, mr := range memRegs {
		fmt.Printf(
			colorHook("    begin: ") + colorDetails("%#09x", mr.Begin) +
				colorHook(", end: ") + colorDetails("%#09x", mr.End) +
				colorHook(", prot: ") + colorDetails("%s", types.VmProtection(mr.Prot)) +
				colorHook(", size: ") + colorDetails("%#x\n", mr.End-mr.Begin+1),
		)
	}
	return nil
}
