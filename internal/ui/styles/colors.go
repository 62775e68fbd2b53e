// Package styles holds the terminal color palette.
package styles

import (
	"github.com/fatih/color"

	"github.com/willibrandon/tollgate/internal/alerts"
)

// Palette
var (
	Accent   = color.New(color.FgCyan, color.Bold).SprintFunc()
	Muted    = color.New(color.FgHiBlack).SprintFunc()
	Bold     = color.New(color.FgHiWhite).SprintFunc()
	Good     = color.New(color.FgGreen).SprintFunc()
	Warning  = color.New(color.FgHiYellow).SprintFunc()
	Critical = color.New(color.FgHiRed).SprintFunc()
)

// AlertState colors an alert state: red while open, yellow once
// acknowledged, green when resolved.
func AlertState(s alerts.State) string {
	switch s {
	case alerts.StateOpen:
		return Critical(string(s))
	case alerts.StateAcked:
		return Warning(string(s))
	case alerts.StateResolved:
		return Good(string(s))
	default:
		return string(s)
	}
}

// Health colors a health status string.
func Health(status string) string {
	switch status {
	case "healthy", "running":
		return Good(status)
	case "degraded", "stopped":
		return Warning(status)
	case "unhealthy":
		return Critical(status)
	default:
		return Muted(status)
	}
}

// SetEnabled toggles color output globally.
func SetEnabled(enabled bool) {
	color.NoColor = !enabled
}
