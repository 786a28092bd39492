// Package ui prints human-readable progress lines for the CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Out receives all UI output. Stderr keeps stdout free for "-output -".
var Out io.Writer = os.Stderr

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	blue   = color.New(color.FgBlue)
	red    = color.New(color.FgRed)
	faint  = color.New(color.Faint)
)

const headerWidth = 60

// Header prints a formatted header
func Header(text string) {
	line := strings.Repeat("=", headerWidth)
	green.Fprintf(Out, "\n%s\n", line)
	green.Fprintf(Out, "%-60s\n", center(text, headerWidth))
	green.Fprintf(Out, "%s\n\n", line)
}

// Step prints a step indicator
func Step(stepNum, totalSteps int, text string) {
	yellow.Fprintf(Out, "[%d/%d] %s\n", stepNum, totalSteps, text)
}

// Success prints a success message
func Success(text string) {
	green.Fprintf(Out, "  → %s\n", text)
}

// Info prints an info message
func Info(text string) {
	fmt.Fprintf(Out, "  → %s\n", text)
}

// Detail prints an indented secondary line (verbose per-transaction output)
func Detail(format string, args ...any) {
	faint.Fprintf(Out, "      "+format+"\n", args...)
}

// Warning prints a warning message
func Warning(text string) {
	yellow.Fprintf(Out, "  ⚠ %s\n", text)
}

// Error prints an error message
func Error(text string) {
	red.Fprintf(Out, "Error: %s\n", text)
}

// Count prints "label: n" with the number highlighted when non-zero
func Count(label string, n int) {
	if n == 0 {
		fmt.Fprintf(Out, "  %-12s %d\n", label+":", n)
		return
	}
	fmt.Fprintf(Out, "  %-12s ", label+":")
	blue.Fprintf(Out, "%d\n", n)
}

// center centers text within a given width
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	padding := (width - len(text)) / 2
	return strings.Repeat(" ", padding) + text
}
