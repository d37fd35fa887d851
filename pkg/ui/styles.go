package ui

import (
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/charmbracelet/lipgloss"
)

var (
	successColor = lipgloss.AdaptiveColor{Light: "#28A745", Dark: "#4CDD76"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#DC3545", Dark: "#FF6B7D"}
	warningColor = lipgloss.AdaptiveColor{Light: "#FFC107", Dark: "#FFD54F"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#6C757D", Dark: "#A0A8B0"}

	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)

// runningStyle colors a running state against whether it is wanted.
func runningStyle(running types.Tristate, wanted bool) lipgloss.Style {
	switch {
	case running == types.Unknown:
		return warningStyle
	case (running == types.True) == wanted:
		return successStyle
	default:
		return errorStyle
	}
}
