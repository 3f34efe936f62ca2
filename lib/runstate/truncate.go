// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package runstate

// MultiBuckets bounds the length of a Multi series in a display
// projection.
const MultiBuckets = 100

// Projection maps device name to measurement name to the values a
// viewer should draw.
type Projection map[string]map[string][]float64

// LatestTruncated returns a bounded display projection of every device:
// a Single series becomes its last min(maxPoints, len) values, a Multi
// series becomes its most recent inner sequence, averaged down to about
// MultiBuckets values when longer than that. The projection is lossy and
// never persisted.
func (s *State) LatestTruncated(maxPoints int) Projection {
	s.mu.Lock()
	defer s.mu.Unlock()

	projection := make(Projection)
	for name, device := range s.devices {
		measurements := make(map[string][]float64, len(device.Measurements))
		for measurement, series := range device.Measurements {
			measurements[measurement] = truncateSeries(series, maxPoints)
		}
		projection[name] = measurements
	}
	return projection
}

func truncateSeries(series Series, maxPoints int) []float64 {
	switch typed := series.(type) {
	case Single:
		keep := min(max(maxPoints, 0), len(typed))
		return append([]float64{}, typed[len(typed)-keep:]...)
	case Multi:
		if len(typed) == 0 {
			return []float64{}
		}
		return Downsample(typed[len(typed)-1], MultiBuckets)
	default:
		return nil
	}
}

// Downsample returns values unchanged (copied) when there are at most
// buckets of them. Otherwise it averages contiguous chunks of
// ceil(len/buckets) values; the final chunk may be shorter.
func Downsample(values []float64, buckets int) []float64 {
	if buckets <= 0 || len(values) <= buckets {
		return append([]float64{}, values...)
	}

	chunk := (len(values) + buckets - 1) / buckets
	averaged := make([]float64, 0, (len(values)+chunk-1)/chunk)
	for start := 0; start < len(values); start += chunk {
		end := min(start+chunk, len(values))
		sum := 0.0
		for _, value := range values[start:end] {
			sum += value
		}
		averaged = append(averaged, sum/float64(end-start))
	}
	return averaged
}
