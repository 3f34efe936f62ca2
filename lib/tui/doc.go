// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui holds the terminal rendering pieces shared by pfex's
// viewers: the color theme, sparklines, a scrollbar, update glow and
// overlay splicing. Everything here renders strings; the bubbletea
// models that own state and input live with their viewers.
package tui
