package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks host health from /healthz polling.
type HealthState struct {
	Status         string
	UptimeSeconds  int64
	WorkersLoaded  int
	WorkersRunning int
	WorkersStopped int
	Connected      bool
	LastCheck      time.Time
}

// Pulse lights up on command events and fades while the host is quiet.
type Pulse struct {
	level     int
	lastEvent time.Time
}

const pulseWidth = 5

func (p *Pulse) Hit(at time.Time) {
	p.level = pulseWidth
	p.lastEvent = at
}

// Fade drops one level for every two seconds of silence.
func (p *Pulse) Fade(now time.Time) {
	if p.lastEvent.IsZero() {
		return
	}
	p.level = max(0, pulseWidth-int(now.Sub(p.lastEvent)/(2*time.Second)))
}

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range pulseWidth {
		if i < p.level {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, pulse Pulse, commands int, theme Theme, width int) string {
	innerWidth := width - 4

	status := theme.StatusOK.Render("HEALTHY")
	switch {
	case !health.Connected:
		status = theme.StatusFailed.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		status = theme.StatusFailed.Render("DEGRADED")
	}

	title := " IPCMUX WATCH"
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := max(1, innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  workers %d running / %d stopped  commands %d",
		status,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.WorkersRunning,
		health.WorkersStopped,
		commands,
	)

	last := "never"
	if !pulse.lastEvent.IsZero() {
		last = fmt.Sprintf("%s ago", time.Since(pulse.lastEvent).Round(time.Second))
	}
	activityLine := fmt.Sprintf(" Last command: %s %s", last, pulse.Render(theme))

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine),
	)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
