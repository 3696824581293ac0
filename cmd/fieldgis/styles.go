package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF79C6")).
			Background(lipgloss.Color("#282A36")).
			Padding(0, 1).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8BE9FD")).
			Width(24)

	statStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFB86C"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#BD93F9")).
			Padding(0, 1)
)

// stat is one line of a run summary
type stat struct {
	label string
	value interface{}
	note  string
}

// summary renders a titled box of stats
func summary(title string, stats []stat) string {
	lines := make([]string, 0, len(stats))
	for _, s := range stats {
		line := labelStyle.Render(s.label) + statStyle.Render(fmt.Sprint(s.value))
		if s.note != "" {
			line += " " + dimStyle.Render(s.note)
		}
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		boxStyle.Render(strings.Join(lines, "\n")),
	)
}
