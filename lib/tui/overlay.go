// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// SpliceOverlay writes overlay lines over view starting at column
// anchorX of line anchorY. Truncation is ANSI-aware, so styling on
// either side of the overlay survives.
func SpliceOverlay(view string, overlay []string, anchorX, anchorY int) string {
	if len(overlay) == 0 {
		return view
	}
	lines := strings.Split(view, "\n")
	width := ansi.StringWidth(overlay[0])

	for index, overlayLine := range overlay {
		row := anchorY + index
		if row < 0 || row >= len(lines) {
			continue
		}
		line := lines[row]

		var builder strings.Builder
		if anchorX > 0 {
			prefix := ansi.Truncate(line, anchorX, "")
			builder.WriteString(prefix)
			if pad := anchorX - ansi.StringWidth(prefix); pad > 0 {
				builder.WriteString(strings.Repeat(" ", pad))
			}
		}
		builder.WriteString("\x1b[0m")
		builder.WriteString(overlayLine)
		builder.WriteString("\x1b[0m")
		if suffixStart := anchorX + width; suffixStart < ansi.StringWidth(line) {
			builder.WriteString(ansi.TruncateLeft(line, suffixStart, ""))
		}
		lines[row] = builder.String()
	}
	return strings.Join(lines, "\n")
}

// Box renders lines as a bordered panel in the overlay colors, every
// line padded to the same width.
func Box(theme Theme, title string, lines []string) []string {
	width := ansi.StringWidth(title)
	for _, line := range lines {
		width = max(width, ansi.StringWidth(line))
	}
	style := lipgloss.NewStyle().
		Foreground(theme.OverlayForeground).
		Background(theme.OverlayBackground).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.BorderColor).
		Padding(0, 1).
		Width(width + 2)

	body := lipgloss.NewStyle().Bold(true).Render(title) + "\n\n" + strings.Join(lines, "\n")
	return strings.Split(style.Render(body), "\n")
}
