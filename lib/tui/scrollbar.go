// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderScrollbar renders a one-column scrollbar of the given height
// for a list of total rows showing visible rows from offset. The thumb
// fills the track when everything fits.
func RenderScrollbar(theme Theme, height, total, visible, offset int) string {
	if height <= 0 {
		return ""
	}
	track := lipgloss.NewStyle().Foreground(theme.BorderColor).Render("│")
	thumb := lipgloss.NewStyle().Foreground(theme.Accent).Render("┃")

	lines := make([]string, height)
	if total <= visible || total <= 0 {
		for index := range lines {
			lines[index] = thumb
		}
		return strings.Join(lines, "\n")
	}

	thumbSize := max(height*visible/total, 1)
	thumbOffset := 0
	if scrollable, room := total-visible, height-thumbSize; scrollable > 0 && room > 0 {
		thumbOffset = min(offset*room/scrollable, room)
	}

	for index := range lines {
		if index >= thumbOffset && index < thumbOffset+thumbSize {
			lines[index] = thumb
		} else {
			lines[index] = track
		}
	}
	return strings.Join(lines, "\n")
}
