// Package watch implements the ipcmux watch TUI: worker health and a live
// command stream read from a running host's HTTP API.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes the styling of the watch TUI.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusPartial lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusIdle    lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusPartial: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusIdle:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		PulseOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}
