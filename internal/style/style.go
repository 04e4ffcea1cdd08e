// Package style provides consistent terminal styling using Lipgloss.
package style

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	colorPass   = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#86d75f"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#b26a00", Dark: "#ffb454"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#f07178"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#828c99"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#59c2ff"}
)

var (
	// Success style for positive outcomes (green)
	Success = lipgloss.NewStyle().Foreground(colorPass).Bold(true)

	// Warning style for cautionary messages (yellow)
	Warning = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)

	// Error style for failures (red)
	Error = lipgloss.NewStyle().Foreground(colorFail).Bold(true)

	// Info style for informational messages (blue)
	Info = lipgloss.NewStyle().Foreground(colorAccent)

	// Dim style for secondary information (gray)
	Dim = lipgloss.NewStyle().Foreground(colorMuted)

	// Bold style for emphasis
	Bold = lipgloss.NewStyle().Bold(true)
)

// Init sets the lipgloss color profile from the environment. Call once,
// early in main.
func Init() {
	if ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.TrueColor)
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsTerminal returns true if stdout is connected to a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor determines if ANSI color codes should be used.
// NO_COLOR disables, FORCE_COLOR enables even in non-TTY, TERM=dumb
// disables; otherwise color follows the TTY.
func ShouldUseColor() bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	if _, exists := os.LookupEnv("FORCE_COLOR"); exists {
		return true
	}
	return IsTerminal()
}

// PrintSuccess prints a success message with consistent formatting.
func PrintSuccess(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", Success.Render("✓"), fmt.Sprintf(format, args...))
}

// PrintWarning prints a warning message with consistent formatting.
func PrintWarning(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", Warning.Render("!"), fmt.Sprintf(format, args...))
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", Error.Render("✗"), fmt.Sprintf(format, args...))
}
