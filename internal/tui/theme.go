// Package tui holds the shared styling for hbrun's terminal output.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme centralizes all styling for the menu and CLI banners.
type Theme struct {
	StatusOK     lipgloss.Style
	StatusFailed lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple).
			Padding(0, 1),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}

// CompletionBanner renders the message shown after an operation finishes.
// An empty dir means nothing was persisted.
func (t Theme) CompletionBanner(dir string) string {
	lines := []string{t.StatusOK.Bold(true).Render("Operation Completed")}
	if dir != "" {
		lines = append(lines, fmt.Sprintf("%s %s", t.Dim.Render("Output stored in"), t.Highlight.Render(dir)))
	}
	return t.Border.Render(strings.Join(lines, "\n"))
}

// FailureBanner renders the message shown when an operation did not finish cleanly.
func (t Theme) FailureBanner(subcommand, reason string) string {
	lines := []string{
		t.StatusFailed.Bold(true).Render("Operation Failed"),
		fmt.Sprintf("%s %s", t.Dim.Render(subcommand), reason),
	}
	return t.Border.Render(strings.Join(lines, "\n"))
}
