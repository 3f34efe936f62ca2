// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"math"
	"strings"
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values as block characters scaled between their
// minimum and maximum, one rune per value. Callers downsample first
// when there are more values than columns. A flat series renders at
// mid height; NaN and infinities render as spaces.
func Sparkline(values []float64) string {
	low, high := math.Inf(1), math.Inf(-1)
	for _, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		low = min(low, value)
		high = max(high, value)
	}

	var builder strings.Builder
	for _, value := range values {
		switch {
		case math.IsNaN(value) || math.IsInf(value, 0):
			builder.WriteRune(' ')
		case high == low:
			builder.WriteRune(sparkRunes[len(sparkRunes)/2-1])
		default:
			index := int((value - low) / (high - low) * float64(len(sparkRunes)-1))
			builder.WriteRune(sparkRunes[index])
		}
	}
	return builder.String()
}
