// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
)

func TestSparkline(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   string
	}{
		{"empty", nil, ""},
		{"ramp", []float64{0, 1, 2, 3, 4, 5, 6, 7}, "▁▂▃▄▅▆▇█"},
		{"extremes", []float64{10, -10, 10}, "█▁█"},
		{"flat", []float64{3, 3, 3}, "▄▄▄"},
		{"gaps", []float64{0, math.NaN(), 7, math.Inf(1)}, "▁ █ "},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Sparkline(test.values); got != test.want {
				t.Errorf("Sparkline(%v) = %q, want %q", test.values, got, test.want)
			}
		})
	}
}

func TestHeatTracker(t *testing.T) {
	start := time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC)
	tracker := NewHeatTracker()

	if heat := tracker.Heat("DAQ1", start); heat != 0 {
		t.Errorf("heat before ignition = %v", heat)
	}
	tracker.Ignite("DAQ1", start)
	if heat := tracker.Heat("DAQ1", start); heat != 1 {
		t.Errorf("heat at ignition = %v, want 1", heat)
	}
	if heat := tracker.Heat("DAQ1", start.Add(HeatDecayDuration/2)); heat != 0.5 {
		t.Errorf("heat at half decay = %v, want 0.5", heat)
	}
	if !tracker.HasHot(start.Add(HeatDecayDuration / 2)) {
		t.Error("HasHot = false while glowing")
	}
	if tracker.HasHot(start.Add(HeatDecayDuration)) {
		t.Error("HasHot = true after decay")
	}
	if len(tracker.ignited) != 0 {
		t.Errorf("cooled rows kept: %v", tracker.ignited)
	}
}

func TestRenderScrollbar(t *testing.T) {
	count := func(rendered, glyph string) int {
		return strings.Count(ansi.Strip(rendered), glyph)
	}

	fits := RenderScrollbar(DefaultTheme, 4, 3, 4, 0)
	if count(fits, "┃") != 4 {
		t.Errorf("content that fits: %q", ansi.Strip(fits))
	}

	top := RenderScrollbar(DefaultTheme, 10, 100, 10, 0)
	lines := strings.Split(ansi.Strip(top), "\n")
	if len(lines) != 10 || lines[0] != "┃" || lines[9] != "│" {
		t.Errorf("scrolled to top: %q", lines)
	}
	if count(top, "┃") != 1 {
		t.Errorf("thumb size = %d, want 1", count(top, "┃"))
	}

	bottom := strings.Split(ansi.Strip(RenderScrollbar(DefaultTheme, 10, 100, 10, 90)), "\n")
	if bottom[9] != "┃" {
		t.Errorf("scrolled to bottom: %q", bottom)
	}

	if RenderScrollbar(DefaultTheme, 0, 10, 5, 0) != "" {
		t.Error("zero height should render nothing")
	}
}

func TestSpliceOverlay(t *testing.T) {
	view := "aaaaaaaa\nbbbbbbbb\ncccccccc"
	got := ansi.Strip(SpliceOverlay(view, []string{"XX", "YY"}, 3, 1))
	want := "aaaaaaaa\nbbbXXbbb\ncccYYccc"
	if got != want {
		t.Errorf("SpliceOverlay = %q, want %q", got, want)
	}

	short := ansi.Strip(SpliceOverlay("ab", []string{"Z"}, 4, 0))
	if short != "ab  Z" {
		t.Errorf("overlay past line end = %q", short)
	}

	if SpliceOverlay(view, nil, 0, 0) != view {
		t.Error("empty overlay changed the view")
	}
}

func TestBox(t *testing.T) {
	lines := Box(DefaultTheme, "Keys", []string{"q quit", "? help"})
	if len(lines) != 6 {
		t.Fatalf("Box lines = %d, want 6: %q", len(lines), lines)
	}
	width := ansi.StringWidth(lines[0])
	for _, line := range lines {
		if ansi.StringWidth(line) != width {
			t.Errorf("uneven box line %q", ansi.Strip(line))
		}
	}
	if !strings.Contains(ansi.Strip(lines[1]), "Keys") {
		t.Errorf("title line = %q", ansi.Strip(lines[1]))
	}
}
