// Package feed provides the live activity TUI: an agent roster and a
// scrolling event stream read from the event store.
package feed

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#59c2ff"}
	colorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#86d75f"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#b26a00", Dark: "#ffb454"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#f07178"}
	colorDim     = lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#828c99"}
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)

	focusedPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorPrimary).
				Padding(0, 1)

	timestampStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	agentNameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	agentActiveStyle = lipgloss.NewStyle().
				Foreground(colorSuccess)

	agentStalledStyle = lipgloss.NewStyle().
				Foreground(colorWarning)

	agentDeadStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(colorDim).
			Padding(0, 1)

	eventInfoStyle = lipgloss.NewStyle().
			Foreground(colorPrimary)

	eventWarnStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	eventErrorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)
)

// eventSymbols maps event types to a one-cell marker in the stream.
var eventSymbols = map[string]string{
	"session_start": "+",
	"session_end":   "⊘",
	"tool_start":    "→",
	"tool_end":      "✓",
	"error":         "✗",
	"custom":        "·",
}
