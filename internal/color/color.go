// Package color provides small helpers for coloring terminal output using
// ANSI escape sequences. The logging console handler and the CLI decision
// printer use it; callers decide whether color is appropriate, typically via
// the terminal package.
//
//nolint:revive // package name conflicts with standard library
package color

// ANSI color codes
const (
	resetCode  = "\033[0m"
	grayCode   = "\033[90m" // Bright black/gray
	greenCode  = "\033[32m"
	yellowCode = "\033[33m"
	redCode    = "\033[31m"
	cyanCode   = "\033[36m"
)

// Color represents a color function that wraps text with ANSI escape
// sequences.
type Color func(text string) string

// NewColor creates a color function with the specified ANSI code.
func NewColor(ansiCode string) Color {
	return func(text string) string {
		return ansiCode + text + resetCode
	}
}

// None returns text unchanged. It stands in for a real color when color
// output is disabled so call sites need no branching.
func None(text string) string {
	return text
}

// Conditional returns c when enabled, otherwise None.
func Conditional(c Color, enabled bool) Color {
	if enabled {
		return c
	}
	return None
}

// Predefined color functions
var (
	// Gray colors text in gray (bright black)
	Gray = NewColor(grayCode)

	// Green colors text in green
	Green = NewColor(greenCode)

	// Yellow colors text in yellow
	Yellow = NewColor(yellowCode)

	// Red colors text in red
	Red = NewColor(redCode)

	// Cyan colors text in cyan
	Cyan = NewColor(cyanCode)
)
