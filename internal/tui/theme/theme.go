package theme

import "github.com/charmbracelet/lipgloss"

// Theme defines all colors for the TUI.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color

	Text      lipgloss.Color
	TextMuted lipgloss.Color

	Background lipgloss.Color

	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Info    lipgloss.Color

	Border      lipgloss.Color
	BorderFocus lipgloss.Color
}

// Current is the active theme.
var Current = DefaultTheme()

// DefaultTheme returns the default warm terminal theme.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#D2A679"),
		Secondary: lipgloss.Color("#5A4E40"),

		Text:      lipgloss.Color("#F0F0F0"),
		TextMuted: lipgloss.Color("#888888"),

		Background: lipgloss.Color("#1a1a1a"),

		Success: lipgloss.Color("#10B981"),
		Warning: lipgloss.Color("#F59E0B"),
		Error:   lipgloss.Color("#EF4444"),
		Info:    lipgloss.Color("#4D4D4D"),

		Border:      lipgloss.Color("#3d3d3d"),
		BorderFocus: lipgloss.Color("#D2A679"),
	}
}
