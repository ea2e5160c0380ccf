//go:build unicorn

package emu

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/blacktop/arm64-cgo/disassemble"
	"github.com/blacktop/calltrace/pkg/disass"
)

// disassemble renders ins for verbose output. arm64 goes through the full
// ARMv8 decoder, which knows more encodings than the classifier needs.
func (e *Emulation) disassemble(ins *disass.Instruction) string {
	if ins.Arch != disass.ArchARM64 || len(ins.Raw) != 4 {
		return ins.Colored()
	}

	var results [1024]byte
	instrValue := binary.LittleEndian.Uint32(ins.Raw)

	instruction, err := disassemble.Decompose(ins.Addr, instrValue, &results)
	if err != nil {
		return fmt.Sprintf("%s:  %s\t%s\t%#-18x ; (%s)",
			colorAddr("%#08x", ins.Addr),
			colorOp("%-7s", ".long"),
			colorOpCodes(disassemble.GetOpCodeByteString(instrValue)),
			instrValue,
			err.Error())
	}

	opStr := strings.TrimSpace(strings.TrimPrefix(instruction.String(), instruction.Operation.String()))

	return fmt.Sprintf("%s:  %s   %s %s",
		colorAddr("%#08x", ins.Addr),
		colorOpCodes(disassemble.GetOpCodeByteString(instrValue)),
		colorOp("%-7s", instruction.Operation),
		disass.ColorOperands(" "+opStr),
	)
}
