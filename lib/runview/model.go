// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package runview

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/spcs-instruments/pfex/lib/clock"
	"github.com/spcs-instruments/pfex/lib/observe"
	"github.com/spcs-instruments/pfex/lib/tui"
)

// maxLogLines bounds the line log kept for one run.
const maxLogLines = 500

type eventMsg struct{ event Event }

type heatTickMsg struct{}

// Model is the bubbletea model for the viewer.
type Model struct {
	address string
	events  <-chan Event
	clock   clock.Clock
	theme   tui.Theme
	keys    KeyMap

	connected bool
	lastError string

	hello    *observe.Hello
	snapshot *observe.Snapshot
	ended    string
	lines    []observe.LineEvent

	// cursor indexes snapshot.Devices; offset is the first visible
	// table row.
	cursor int
	offset int

	log         viewport.Model
	followLog   bool
	heat        *tui.HeatTracker
	heatTicking bool
	showHelp    bool

	width  int
	height int
}

// NewModel returns a viewer fed by events (normally from Follow).
func NewModel(address string, events <-chan Event, clk clock.Clock) Model {
	if clk == nil {
		clk = clock.Real()
	}
	return Model{
		address:   address,
		events:    events,
		clock:     clk,
		theme:     tui.DefaultTheme,
		keys:      DefaultKeyMap,
		log:       viewport.New(0, 0),
		followLog: true,
		heat:      tui.NewHeatTracker(),
	}
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return listen(model.events)
}

func listen(events <-chan Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg{event: event}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		return model.handleKey(message)

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.layout()

	case eventMsg:
		model.handleEvent(message.event)
		heat := model.startHeat()
		return model, tea.Batch(listen(model.events), heat)

	case heatTickMsg:
		if model.heat.HasHot(model.clock.Now()) {
			return model, heatTick()
		}
		model.heatTicking = false
	}
	return model, nil
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	if model.showHelp {
		if key.Matches(message, model.keys.Quit) {
			return model, tea.Quit
		}
		model.showHelp = false
		return model, nil
	}

	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit
	case key.Matches(message, model.keys.Help):
		model.showHelp = true
	case key.Matches(message, model.keys.Up):
		model.moveCursor(model.cursor - 1)
	case key.Matches(message, model.keys.Down):
		model.moveCursor(model.cursor + 1)
	case key.Matches(message, model.keys.Home):
		model.moveCursor(0)
	case key.Matches(message, model.keys.End):
		model.moveCursor(model.deviceCount() - 1)
	case key.Matches(message, model.keys.PageUp):
		model.log.SetYOffset(model.log.YOffset - max(model.log.Height, 1))
		model.followLog = false
	case key.Matches(message, model.keys.PageDown):
		model.log.SetYOffset(model.log.YOffset + max(model.log.Height, 1))
		model.followLog = model.log.AtBottom()
	case key.Matches(message, model.keys.Follow):
		model.followLog = true
		model.log.GotoBottom()
	}
	return model, nil
}

func (model *Model) handleEvent(event Event) {
	switch event.Kind {
	case EventConnected:
		model.connected = true
		model.lastError = ""
	case EventDisconnected:
		model.connected = false
		if event.Err != nil {
			model.lastError = event.Err.Error()
		}
	case EventFrame:
		model.handleFrame(event.Frame)
	}
}

func (model *Model) handleFrame(frame observe.Frame) {
	now := model.clock.Now()
	switch frame := frame.(type) {
	case *observe.Hello:
		model.hello = frame
		model.snapshot = nil
		model.ended = ""
		model.lines = nil
		model.cursor = 0
		model.offset = 0
		model.followLog = true
		model.heat = tui.NewHeatTracker()
		model.refreshLog()

	case *observe.Snapshot:
		previous := map[string]int{}
		if model.snapshot != nil {
			for _, device := range model.snapshot.Devices {
				previous[device.Name] = device.Points
			}
		}
		for _, device := range frame.Devices {
			if points, seen := previous[device.Name]; !seen || points != device.Points {
				model.heat.Ignite(device.Name, now)
			}
		}
		selected := model.selectedName()
		model.snapshot = frame
		model.reselect(selected)

	case *observe.LineEvent:
		model.lines = append(model.lines, *frame)
		if len(model.lines) > maxLogLines {
			model.lines = model.lines[len(model.lines)-maxLogLines:]
		}
		model.refreshLog()

	case *observe.End:
		model.ended = frame.Reason
	}
}

// startHeat begins the glow animation when something just ignited.
func (model *Model) startHeat() tea.Cmd {
	if model.heatTicking || !model.heat.HasHot(model.clock.Now()) {
		return nil
	}
	model.heatTicking = true
	return heatTick()
}

func heatTick() tea.Cmd {
	return tea.Tick(tui.HeatTickInterval, func(time.Time) tea.Msg {
		return heatTickMsg{}
	})
}

func (model *Model) deviceCount() int {
	if model.snapshot == nil {
		return 0
	}
	return len(model.snapshot.Devices)
}

func (model *Model) selectedName() string {
	if model.cursor < model.deviceCount() {
		return model.snapshot.Devices[model.cursor].Name
	}
	return ""
}

// reselect keeps the cursor on the named device when it is still
// present.
func (model *Model) reselect(name string) {
	for index, device := range model.snapshot.Devices {
		if device.Name == name {
			model.moveCursor(index)
			return
		}
	}
	model.moveCursor(model.cursor)
}

func (model *Model) moveCursor(position int) {
	count := model.deviceCount()
	model.cursor = max(min(position, count-1), 0)

	rows := model.tableRows()
	if model.cursor < model.offset {
		model.offset = model.cursor
	}
	if model.cursor >= model.offset+rows {
		model.offset = model.cursor - rows + 1
	}
	model.offset = max(min(model.offset, count-rows), 0)
}
