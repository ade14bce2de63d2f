// Package ui renders CLI output with lipgloss.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mschirtzinger/graphsync/internal/errors"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1f6feb", Dark: "#58a6ff"})
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"})
	headerStyle = lipgloss.NewStyle().Bold(true)
)

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// KeyValue renders aligned "key: value" lines.
func KeyValue(pairs ...[2]string) string {
	width := 0
	for _, p := range pairs {
		width = max(width, lipgloss.Width(p[0]))
	}
	key := mutedStyle.Width(width + 2)

	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(key.Render(p[0] + ":"))
		b.WriteString(p[1])
		b.WriteByte('\n')
	}
	return b.String()
}

// Table renders rows under a bold header with columns padded to the widest cell.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := range min(len(row), len(widths)) {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = style.Width(widths[i]).Render(cell)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	var b strings.Builder
	b.WriteString(line(header, headerStyle))
	b.WriteByte('\n')
	plain := lipgloss.NewStyle()
	for _, row := range rows {
		b.WriteString(line(row, plain))
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatError renders err with its hints on indented lines below it.
func FormatError(err error) string {
	var b strings.Builder
	b.WriteString(RenderFail("Error:"))
	b.WriteByte(' ')
	b.WriteString(err.Error())
	for _, hint := range errors.GetAllHints(err) {
		b.WriteString("\n  ")
		b.WriteString(RenderMuted("hint: " + hint))
	}
	return b.String()
}
