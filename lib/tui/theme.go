// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import "github.com/charmbracelet/lipgloss"

// Theme is the viewer palette, in ANSI 256-color codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Connection and run state in the header.
	StateLive         lipgloss.Color
	StateEnded        lipgloss.Color
	StateDisconnected lipgloss.Color

	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Sparkline and scrollbar thumb.
	Accent lipgloss.Color

	// Glow behind a device row that just received data.
	Glow lipgloss.Color

	OverlayForeground lipgloss.Color
	OverlayBackground lipgloss.Color
}

// DefaultTheme targets dark 256-color terminals.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	StateLive:         lipgloss.Color("114"), // green
	StateEnded:        lipgloss.Color("75"),  // blue
	StateDisconnected: lipgloss.Color("196"), // red

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	Accent: lipgloss.Color("220"),
	Glow:   lipgloss.Color("58"),

	OverlayForeground: lipgloss.Color("252"),
	OverlayBackground: lipgloss.Color("237"),
}
