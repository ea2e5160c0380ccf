//go:build unicorn

package emu

import "github.com/blacktop/calltrace/internal/colors"

// disassembly colors
var colorOp = colors.Bold().SprintfFunc()
var colorAddr = colors.BoldMagenta().SprintfFunc()
var colorOpCodes = colors.FaintHiWhite().SprintFunc()

// hook colors
var colorHook = colors.FaintHiBlue().SprintFunc()
var colorDetails = colors.ItalicFaintWhite().SprintfFunc()
