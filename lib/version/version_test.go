// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestCommitFromSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings []debug.BuildSetting
		want     string
	}{
		{"no vcs", nil, "unknown"},
		{
			"clean",
			[]debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef0123"}},
			"0123456789ab",
		},
		{
			"modified",
			[]debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc123"},
				{Key: "vcs.modified", Value: "true"},
			},
			"abc123-dirty",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := commitFromSettings(test.settings); got != test.want {
				t.Errorf("commitFromSettings = %q, want %q", got, test.want)
			}
		})
	}
}

func TestInfoUsesInjectedCommit(t *testing.T) {
	saved := GitCommit
	t.Cleanup(func() { GitCommit = saved })
	GitCommit = "feedbee"

	if info := Info(); !strings.Contains(info, "feedbee") || !strings.HasPrefix(info, Version) {
		t.Errorf("Info() = %q", info)
	}
}
