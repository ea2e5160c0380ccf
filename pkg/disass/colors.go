package disass

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blacktop/calltrace/internal/colors"
)

// disassembly colors
var colorOp = colors.Bold().SprintfFunc()
var colorRegs = colors.BoldHiBlue().SprintFunc()
var colorImm = colors.BoldMagenta().SprintFunc()
var colorAddr = colors.BoldMagenta().SprintfFunc()
var colorOpCodes = colors.FaintHiWhite().SprintFunc()

var (
	immMatch = regexp.MustCompile(`#?-?0x[0-9a-z]+`)
	regMatch = regexp.MustCompile(`\W([wx][0-9]{1,2}|[re]?[abcd]x|[re]?[sd]il?|[re]?[sb]pl?|r[0-9]{1,2}[dwb]?|rip|sp|lr|fp)\b`)
)

// ColorOperands highlights immediates and registers in an operand string.
func ColorOperands(operands string) string {
	if len(operands) > 0 {
		operands = immMatch.ReplaceAllStringFunc(operands, func(s string) string {
			return colorImm(s)
		})
		operands = regMatch.ReplaceAllStringFunc(operands, func(s string) string {
			return string(s[0]) + colorRegs(s[1:])
		})
	}
	return operands
}

// Colored renders the instruction as a single colorized disassembly line.
func (i *Instruction) Colored() string {
	text := i.String()
	op, operands, _ := strings.Cut(text, " ")
	var opcodes []string
	for _, b := range i.Raw {
		opcodes = append(opcodes, fmt.Sprintf("%02x", b))
	}
	return fmt.Sprintf("%s:  %s   %s %s",
		colorAddr("%#08x", i.Addr),
		colorOpCodes(fmt.Sprintf("%-30s", strings.Join(opcodes, " "))),
		colorOp("%-7s", op),
		ColorOperands(" "+operands),
	)
}
