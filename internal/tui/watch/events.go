package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/ipcmux/internal/events"
)

const eventLogSize = 50

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("COMMANDS"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := make([]string, 0, 10)
	for _, e := range eventLog[:min(len(eventLog), 10)] {
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("COMMANDS"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))
	worker := theme.Highlight.Render(fmt.Sprintf("%-12s", e.Worker))

	switch e.Type {
	case events.TypeCommand:
		var data commandData
		_ = json.Unmarshal(e.Data, &data)
		style := theme.StatusFailed
		switch data.Class {
		case "success":
			style = theme.StatusOK
		case "partial":
			style = theme.StatusPartial
		}
		return fmt.Sprintf("%s %s %s %dms", ts, worker, style.Render(fmt.Sprintf("%-7d", data.Status)), data.DurationMs)
	case events.TypeWorkerStopped:
		return fmt.Sprintf("%s %s %s %s", ts, worker, theme.StatusFailed.Render("stopped"), theme.Dim.Render(string(e.Data)))
	default:
		return fmt.Sprintf("%s %s %s", ts, worker, theme.StatusIdle.Render(e.Type))
	}
}
