package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ibeckermayer/post4me/internal/notifier"
	"github.com/ibeckermayer/post4me/internal/types"
)

// statusStyles must have an entry for every status.
var statusStyles = map[types.Status]lipgloss.Style{
	types.StatusDraft:        lipgloss.NewStyle().Foreground(lipgloss.Color("#999999")),
	types.StatusScheduled:    lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true),
	types.StatusScheduling:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")),
	types.StatusScheduledOnX: lipgloss.NewStyle().Foreground(lipgloss.Color("#1DA1F2")).Bold(true),
	types.StatusPosting:      lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true),
	types.StatusPosted:       lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
	types.StatusError:        lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#1DA1F2")).Padding(0, 1)
	tabStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Padding(0, 1)
	activeTabStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true).Underline(true).Padding(0, 1)
	selectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	modalStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#5B8DEF")).Padding(1, 2)
	dangerStyle    = modalStyle.BorderForeground(lipgloss.Color("#FF6B6B"))
)

// statusBadge renders the status label in its colour.
func statusBadge(s types.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		style = dimStyle
	}
	return style.Render(s.Label())
}

func eventStyle(l notifier.Level) lipgloss.Style {
	switch l {
	case notifier.LevelError:
		return errorStyle
	case notifier.LevelSuccess:
		return successStyle
	}
	return detailStyle
}
