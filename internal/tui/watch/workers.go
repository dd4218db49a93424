package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/ipcmux/internal/api"
	"github.com/mattjoyce/ipcmux/internal/events"
)

// WorkerState is what the TUI knows about one worker.
type WorkerState struct {
	Name        string
	State       string
	Channels    int
	MaxChannels int
	Commands    int
	Failures    int
	LastStatus  int
	LastClass   string
	LastLatency time.Duration
	LastAt      time.Time
	Error       string
}

type commandData struct {
	Status     int    `json:"status"`
	Class      string `json:"class"`
	DurationMs int64  `json:"duration_ms"`
}

func workerFor(workers map[string]*WorkerState, name string) *WorkerState {
	w, ok := workers[name]
	if !ok {
		w = &WorkerState{Name: name, State: "idle"}
		workers[name] = w
	}
	return w
}

// applyEvent folds one hub event into the worker table.
func applyEvent(workers map[string]*WorkerState, e events.Event) {
	if e.Worker == "" {
		return
	}
	w := workerFor(workers, e.Worker)

	switch e.Type {
	case events.TypeWorkerStarted:
		w.State = "running"
		w.Error = ""
	case events.TypeWorkerStopped:
		w.State = "stopped"
		var data struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(e.Data, &data)
		w.Error = data.Error
	case events.TypeCommand:
		var data commandData
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return
		}
		w.Commands++
		if data.Class != "success" {
			w.Failures++
		}
		w.LastStatus = data.Status
		w.LastClass = data.Class
		w.LastLatency = time.Duration(data.DurationMs) * time.Millisecond
		w.LastAt = e.At
	}
}

// applyWorkers merges a GET /workers snapshot.
func applyWorkers(workers map[string]*WorkerState, resp api.WorkersResponse) {
	for _, wr := range resp.Workers {
		w := workerFor(workers, wr.Name)
		w.State = wr.State
		w.Channels = wr.Channels
		w.MaxChannels = wr.MaxChannels
		if wr.Error != "" {
			w.Error = wr.Error
		}
	}
}

func newWorkerTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Worker", Width: 16},
			{Title: "State", Width: 8},
			{Title: "Channels", Width: 9},
			{Title: "Cmds", Width: 6},
			{Title: "Fail", Width: 5},
			{Title: "Last", Width: 5},
			{Title: "Latency", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// workerRows renders the table rows sorted by worker name.
func workerRows(workers map[string]*WorkerState) []table.Row {
	names := make([]string, 0, len(workers))
	for name := range workers {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		w := workers[name]
		channels := fmt.Sprintf("%d", w.Channels)
		if w.MaxChannels > 0 {
			channels = fmt.Sprintf("%d/%d", w.Channels, w.MaxChannels)
		}
		last, latency := "-", "-"
		if w.Commands > 0 {
			last = fmt.Sprintf("%d", w.LastStatus)
			latency = w.LastLatency.String()
		}
		rows = append(rows, table.Row{
			stateIcon(w.State),
			w.Name,
			w.State,
			channels,
			fmt.Sprintf("%d", w.Commands),
			fmt.Sprintf("%d", w.Failures),
			last,
			latency,
		})
	}
	return rows
}

func stateIcon(state string) string {
	switch state {
	case "running":
		return "●"
	case "stopped":
		return "✗"
	default:
		return "○"
	}
}

func renderWorkers(t table.Model, theme Theme, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("WORKERS"),
		t.View(),
	)
	return theme.Border.Width(width - 4).Render(content)
}
