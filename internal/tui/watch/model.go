package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/ipcmux/internal/api"
	"github.com/mattjoyce/ipcmux/internal/events"
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	token  string

	width  int
	height int

	health   HealthState
	workers  map[string]*WorkerState
	table    table.Model
	eventLog []events.Event
	commands int
	pulse    Pulse
	theme    Theme

	hubEvents chan events.Event
	lastError string
}

// New creates a watch model for the host API at apiURL. token may be
// empty when the API has no tokens configured.
func New(apiURL, token string) *Model {
	return &Model{
		apiURL:    apiURL,
		token:     token,
		workers:   make(map[string]*WorkerState),
		table:     newWorkerTable(),
		eventLog:  make([]events.Event, 0, eventLogSize),
		hubEvents: make(chan events.Event, 100),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.token, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.token) },
		func() tea.Msg { return fetchWorkers(m.apiURL, m.token) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.pulse.Fade(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		if e.Type == events.TypeCommand {
			m.commands++
			m.pulse.Hit(time.Now())
		}
		applyEvent(m.workers, e)
		m.table.SetRows(workerRows(m.workers))
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.WorkersLoaded = msg.WorkersLoaded
		m.health.WorkersRunning = msg.WorkersRunning
		m.health.WorkersStopped = msg.WorkersStopped
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.token)
		})

	case workersMsg:
		applyWorkers(m.workers, api.WorkersResponse(msg))
		m.table.SetRows(workerRows(m.workers))
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchWorkers(m.apiURL, m.token)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.token, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.token)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	parts := []string{
		renderHeader(m.health, m.pulse, m.commands, m.theme, m.width),
		renderWorkers(m.table, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select worker"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
