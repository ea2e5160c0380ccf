/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/blacktop/calltrace/internal/colors"
)

var colorRule = colors.FaintHiBlue().SprintFunc()
var colorName = colors.Bold().SprintFunc()
var colorFile = colors.BoldHiBlue().SprintFunc()

// printBanner tells the user of the instrumented program where the trace goes.
func printBanner(w io.Writer, output string) {
	rule := strings.Repeat("=", 47)
	fmt.Fprintln(w, colorRule(rule))
	fmt.Fprintf(w, "This application is instrumented by %s\n", colorName("calltrace"))
	fmt.Fprintf(w, "See file %s for analysis results\n", colorFile(output))
	fmt.Fprintln(w, colorRule(rule))
}
