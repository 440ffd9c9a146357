package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/padwatch/padwatch/internal/monitor"
	"github.com/padwatch/padwatch/internal/session"
)

// Session state colors.
var (
	ColorActive        = lipgloss.Color("#22c55e")
	ColorIdleCheck     = lipgloss.Color("#d97706")
	ColorDisconnecting = lipgloss.Color("#dc2626")
	ColorTerminated    = lipgloss.Color("#374151")
)

// Battery level thresholds.
var (
	ColorBatteryLow  = lipgloss.Color("#dc2626") // <20%
	ColorBatteryMid  = lipgloss.Color("#d97706") // 20-50%
	ColorBatteryHigh = lipgloss.Color("#22c55e")
	ColorCharging    = lipgloss.Color("#06b6d4")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorDefault = lipgloss.Color("#9ca3af")
)

var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleBanner = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorDanger).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorDanger).
			Padding(1, 4)
)

// StateColor returns the color for a monitor state.
func StateColor(st session.State) lipgloss.Color {
	switch st {
	case session.Active:
		return ColorActive
	case session.IdleCheck:
		return ColorIdleCheck
	case session.Disconnecting:
		return ColorDisconnecting
	case session.Terminated:
		return ColorTerminated
	default:
		return ColorDefault
	}
}

// StateGlyph returns a one-cell marker for a monitor state.
func StateGlyph(st session.State) string {
	switch st {
	case session.Active:
		return "●"
	case session.IdleCheck:
		return "◌"
	case session.Disconnecting:
		return "✗"
	case session.Terminated:
		return "○"
	default:
		return "·"
	}
}

// BatteryColor picks a color for a percentage label such as "42%".
func BatteryColor(label string, charging bool) lipgloss.Color {
	if charging {
		return ColorCharging
	}
	pct, err := strconv.Atoi(strings.TrimSuffix(label, "%"))
	switch {
	case err != nil:
		return ColorDefault
	case pct < 20:
		return ColorBatteryLow
	case pct < 50:
		return ColorBatteryMid
	default:
		return ColorBatteryHigh
	}
}

// HealthColor returns the color for a monitor health status.
func HealthColor(s monitor.HealthStatus) lipgloss.Color {
	switch s {
	case monitor.StatusHealthy:
		return ColorHealthy
	case monitor.StatusDegraded:
		return ColorWarning
	case monitor.StatusFailed:
		return ColorDanger
	default:
		return ColorDimmed
	}
}
