// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package runstate

import (
	"fmt"
	"strings"
	"time"
)

// PlaceholderName replaces the experiment name in output filenames until
// a descriptor has been received.
const PlaceholderName = "unnamed_experiment"

const timestampLayout = "02-01-2006 15:04:05.000"

// FormatTimestamp renders t as "DD-MM-YYYY HH:MM:SS.mmm", the format of
// start_time and end_time. The time is rendered in t's own location;
// the real clock reports local time.
func FormatTimestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// FileSuffix renders t as "DD_MM_YYYY_HH_MM_SS_mmm" for output
// filenames.
func FileSuffix(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format("02_01_2006_15_04_05"), t.Nanosecond()/int(time.Millisecond))
}

var filenameReplacer = strings.NewReplacer(" ", "_", "/", "_", `\`, "_")

// SanitizeFilename replaces spaces and path separators with underscores.
func SanitizeFilename(name string) string {
	return filenameReplacer.Replace(name)
}

// OutputFilename is "<sanitized experiment name>_<suffix>.toml", with
// PlaceholderName standing in for an empty experiment name.
func OutputFilename(experimentName, suffix string) string {
	if experimentName == "" {
		experimentName = PlaceholderName
	}
	return SanitizeFilename(experimentName) + "_" + suffix + ".toml"
}
