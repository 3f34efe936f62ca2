// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package runview

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the viewer's key bindings.
type KeyMap struct {
	Up       key.Binding // Previous device.
	Down     key.Binding // Next device.
	Home     key.Binding
	End      key.Binding
	PageUp   key.Binding // Scroll the line log back.
	PageDown key.Binding
	Follow   key.Binding // Jump the line log to its tail.
	Help     key.Binding
	Quit     key.Binding
}

// DefaultKeyMap uses vim-style keys alongside the arrows.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "previous device"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "next device"),
	),
	Home: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g", "first device"),
	),
	End: key.NewBinding(
		key.WithKeys("G", "end"),
		key.WithHelp("G", "last device"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("ctrl+u", "pgup"),
		key.WithHelp("C-u", "log back"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("ctrl+d", "pgdown"),
		key.WithHelp("C-d", "log forward"),
	),
	Follow: key.NewBinding(
		key.WithKeys("f"),
		key.WithHelp("f", "follow log"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (keys KeyMap) all() []key.Binding {
	return []key.Binding{
		keys.Up, keys.Down, keys.Home, keys.End,
		keys.PageUp, keys.PageDown, keys.Follow,
		keys.Help, keys.Quit,
	}
}
