package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/padwatch/padwatch/internal/monitor"
)

// statusBar holds the header line state.
type statusBar struct {
	Connected   bool
	Controllers int
	IdleTimeout int
	Health      *monitor.Health
	Width       int
}

func (m statusBar) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(ColorDanger).Render("○ Connecting...")
	}

	sep := lipgloss.NewStyle().Foreground(ColorBorder).Render(" | ")
	content := connStr + sep + fmt.Sprintf("%d controller(s)  idle timeout %ds", m.Controllers, m.IdleTimeout)
	if m.Health != nil {
		label := string(m.Health.Status)
		if m.Health.DegradedDevices > 0 {
			label += fmt.Sprintf(" (%d degraded)", m.Health.DegradedDevices)
		}
		content += sep + lipgloss.NewStyle().Foreground(HealthColor(m.Health.Status)).Render(label)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(ColorBorder).
		Render(content)
}
