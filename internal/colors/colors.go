// Package colors provides the terminal styles used for disassembly, emulator
// hooks and the startup banner.
//
// Colors are disabled when stdout is not a terminal. Init overrides that from
// the --color flag.
package colors

import "github.com/fatih/color"

// Init overrides the auto-detected color setting when forceColor is non-nil.
func Init(forceColor *bool) {
	if forceColor != nil {
		color.NoColor = !*forceColor
	}
}

func Bold() *color.Color         { return color.New(color.Bold) }
func BoldMagenta() *color.Color  { return color.New(color.Bold, color.FgMagenta) }
func BoldHiBlue() *color.Color   { return color.New(color.Bold, color.FgHiBlue) }
func FaintHiBlue() *color.Color  { return color.New(color.Faint, color.FgHiBlue) }
func FaintHiWhite() *color.Color { return color.New(color.Faint, color.FgHiWhite) }

func ItalicFaintWhite() *color.Color { return color.New(color.Italic, color.Faint, color.FgWhite) }
