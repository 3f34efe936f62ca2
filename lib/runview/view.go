// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package runview

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/spcs-instruments/pfex/lib/runstate"
	"github.com/spcs-instruments/pfex/lib/tui"
)

// Column widths of the device table.
const (
	nameWidth        = 18
	pointsWidth      = 8
	measurementWidth = 18
	latestWidth      = 14
)

// detailRowsMax bounds the sparkline rows shown for the selected
// device.
const detailRowsMax = 6

// Layout: header, column headings, table, detail title, detail rows,
// log title, log, footer.
func (model *Model) tableRows() int {
	body := model.height - 2
	return max(body/2-1, 1)
}

func (model *Model) detailRows() int {
	if model.snapshot == nil || model.cursor >= len(model.snapshot.Devices) {
		return 0
	}
	name := model.snapshot.Devices[model.cursor].Name
	return min(len(model.snapshot.Latest[name]), detailRowsMax)
}

func (model *Model) logHeight() int {
	used := 2 + 1 + model.tableRows() + 1 + model.detailRows() + 1
	return max(model.height-used, 1)
}

func (model *Model) layout() {
	model.log.Width = max(model.width, 1)
	model.log.Height = model.logHeight()
	model.moveCursor(model.cursor)
	if model.followLog {
		model.log.GotoBottom()
	}
}

func (model *Model) refreshLog() {
	rendered := make([]string, len(model.lines))
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	for index, line := range model.lines {
		received := time.UnixMilli(line.ReceivedMillis).Format("15:04:05.000")
		rendered[index] = fmt.Sprintf("%s %s %-10s %s %s",
			faint.Render(received),
			faint.Render(fmt.Sprintf("#%-6d", line.Sequence)),
			line.Kind,
			line.Name,
			faint.Render(fmt.Sprintf("%d B", line.Size)),
		)
	}
	model.log.SetContent(strings.Join(rendered, "\n"))
	model.log.Height = model.logHeight()
	if model.followLog {
		model.log.GotoBottom()
	}
}

// View implements tea.Model.
func (model Model) View() string {
	if model.width == 0 || model.height == 0 {
		return "pfex-view: waiting for terminal size"
	}
	model.log.Height = model.logHeight()

	sections := []string{
		model.renderHeader(),
		model.renderTable(),
		model.renderDetail(),
		model.renderLog(),
		model.renderFooter(),
	}
	view := strings.Join(nonEmpty(sections), "\n")

	if model.showHelp {
		box := tui.Box(model.theme, "Keys", model.helpLines())
		x := max((model.width-ansi.StringWidth(box[0]))/2, 0)
		y := max((model.height-len(box))/2, 0)
		view = tui.SpliceOverlay(view, box, x, y)
	}
	return view
}

func nonEmpty(sections []string) []string {
	kept := sections[:0]
	for _, section := range sections {
		if section != "" {
			kept = append(kept, section)
		}
	}
	return kept
}

func (model *Model) fit(line string) string {
	return ansi.Truncate(line, model.width, "…")
}

func (model *Model) renderHeader() string {
	theme := model.theme
	var state string
	switch {
	case !model.connected && model.hello == nil:
		state = lipgloss.NewStyle().Foreground(theme.StateDisconnected).Render("● waiting for pfex")
	case !model.connected:
		state = lipgloss.NewStyle().Foreground(theme.StateDisconnected).Render("● disconnected")
	case model.ended != "":
		state = lipgloss.NewStyle().Foreground(theme.StateEnded).Render("● " + model.ended)
	default:
		state = lipgloss.NewStyle().Foreground(theme.StateLive).Render("● live")
	}

	parts := []string{
		lipgloss.NewStyle().Bold(true).Foreground(theme.HeaderForeground).Render("pfex-view"),
		lipgloss.NewStyle().Foreground(theme.FaintText).Render(model.address),
		state,
	}
	if model.hello != nil {
		parts = append(parts, fmt.Sprintf("run %d  %s", model.hello.Iteration, model.hello.RunID))
	}
	if model.snapshot != nil && model.snapshot.Experiment != "" {
		parts = append(parts, lipgloss.NewStyle().Bold(true).Render(model.snapshot.Experiment))
	}
	if model.snapshot != nil && model.snapshot.Dropped > 0 {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.StateDisconnected).
			Render(fmt.Sprintf("%d lines dropped", model.snapshot.Dropped)))
	}
	if !model.connected && model.lastError != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.FaintText).Render(model.lastError))
	}
	return model.fit(strings.Join(parts, "  "))
}

// pad truncates text to width cells and right-pads it to width.
func pad(text string, width int) string {
	if ansi.StringWidth(text) > width {
		text = ansi.Truncate(text, width, "…")
	}
	return text + strings.Repeat(" ", max(width-ansi.StringWidth(text), 0))
}

// cell is a table column: pad with at least one cell of gap.
func cell(text string, width int) string {
	return pad(pad(text, width-1), width)
}

func formatValue(value float64) string {
	return strconv.FormatFloat(value, 'g', 6, 64)
}

func (model *Model) renderTable() string {
	theme := model.theme
	heading := lipgloss.NewStyle().Bold(true).Foreground(theme.HeaderForeground)
	lines := []string{heading.Render(
		cell("DEVICE", nameWidth) + cell("POINTS", pointsWidth) +
			cell("MEASUREMENT", measurementWidth) + cell("LATEST", latestWidth),
	)}

	rows := model.tableRows()
	count := model.deviceCount()
	tableLines := make([]string, rows)
	if count == 0 {
		tableLines[0] = lipgloss.NewStyle().Foreground(theme.FaintText).Render("no devices connected")
	}
	now := model.clock.Now()
	for row := 0; row < rows; row++ {
		index := model.offset + row
		if index >= count {
			break
		}
		device := model.snapshot.Devices[index]
		text := cell(device.Name, nameWidth) +
			cell(strconv.Itoa(device.Points), pointsWidth) +
			cell(device.Measurement, measurementWidth) +
			cell(formatValue(device.LatestValue), latestWidth)
		text = pad(text, max(model.width-1, 1))

		style := lipgloss.NewStyle().Foreground(theme.NormalText)
		if model.heat.Heat(device.Name, now) > 0 {
			style = style.Background(theme.Glow)
		}
		if index == model.cursor {
			style = style.Background(theme.SelectedBackground).Foreground(theme.SelectedForeground).Bold(true)
		}
		tableLines[row] = style.Render(text)
	}
	for row := range tableLines {
		tableLines[row] = pad(tableLines[row], max(model.width-1, 1))
	}

	table := lipgloss.JoinHorizontal(lipgloss.Top,
		strings.Join(tableLines, "\n"),
		tui.RenderScrollbar(theme, rows, count, rows, model.offset),
	)
	return strings.Join(append(lines, table), "\n")
}

func (model *Model) renderDetail() string {
	title := lipgloss.NewStyle().Foreground(model.theme.BorderColor)
	if model.deviceCount() == 0 {
		return title.Render(strings.Repeat("─", model.width))
	}
	device := model.snapshot.Devices[model.cursor]
	lines := []string{title.Render(model.fit(fmt.Sprintf("── %s ", device.Name) + strings.Repeat("─", model.width)))}

	measurements := model.snapshot.Latest[device.Name]
	names := make([]string, 0, len(measurements))
	for name := range measurements {
		names = append(names, name)
	}
	slices.Sort(names)
	sparkWidth := max(model.width-measurementWidth-latestWidth, 1)
	spark := lipgloss.NewStyle().Foreground(model.theme.Accent)
	for _, name := range names[:min(len(names), detailRowsMax)] {
		values := measurements[name]
		last := ""
		if len(values) > 0 {
			last = formatValue(values[len(values)-1])
		}
		if len(values) > sparkWidth {
			values = runstate.Downsample(values, sparkWidth)
		}
		lines = append(lines, model.fit(
			cell(name, measurementWidth)+spark.Render(pad(tui.Sparkline(values), sparkWidth))+" "+last,
		))
	}
	return strings.Join(lines, "\n")
}

func (model *Model) renderLog() string {
	title := lipgloss.NewStyle().Foreground(model.theme.BorderColor)
	label := fmt.Sprintf("── lines (%d) ", len(model.lines))
	if !model.followLog {
		label = fmt.Sprintf("── lines (%d, paused) ", len(model.lines))
	}
	return title.Render(model.fit(label+strings.Repeat("─", model.width))) + "\n" + model.log.View()
}

func (model *Model) renderFooter() string {
	help := lipgloss.NewStyle().Foreground(model.theme.HelpText)
	short := []string{}
	for _, binding := range []struct{ keys, desc string }{
		{model.keys.Down.Help().Key + "/" + model.keys.Up.Help().Key, "device"},
		{model.keys.PageUp.Help().Key + "/" + model.keys.PageDown.Help().Key, "log"},
		{model.keys.Help.Help().Key, model.keys.Help.Help().Desc},
		{model.keys.Quit.Help().Key, model.keys.Quit.Help().Desc},
	} {
		short = append(short, binding.keys+" "+binding.desc)
	}
	return help.Render(model.fit(strings.Join(short, "  ")))
}

func (model *Model) helpLines() []string {
	var lines []string
	for _, binding := range model.keys.all() {
		lines = append(lines, fmt.Sprintf("%-8s %s", binding.Help().Key, binding.Help().Desc))
	}
	return lines
}
