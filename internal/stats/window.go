// Package stats computes per-metric statistics over the visible window and
// formats the session summary printed at exit.
//
// Percentiles use a t-digest per metric so the cost stays bounded no matter
// how many points are in the window.
package stats

import (
	"math"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-plant-trends/internal/series"
)

// digestCompression trades accuracy for memory (~100 centroids, ~10KB).
const digestCompression = 100

// MetricStats summarizes one metric over a window.
type MetricStats struct {
	Key string

	// Count is the number of finite values seen
	Count int

	Min     float64
	Max     float64
	Avg     float64
	Current float64 // last finite value in the window

	// P50, P95 are t-digest estimates
	P50 float64
	P95 float64
}

// Empty reports whether no values were seen.
func (m MetricStats) Empty() bool {
	return m.Count == 0
}

// Compute returns stats for each key over window, in key order.
func Compute(window series.Series, keys []string) []MetricStats {
	out := make([]MetricStats, 0, len(keys))
	for _, k := range keys {
		out = append(out, ComputeOne(window, k))
	}
	return out
}

// ComputeOne returns stats for one key over window.
func ComputeOne(window series.Series, key string) MetricStats {
	st := MetricStats{Key: key}
	td := tdigest.NewWithCompression(digestCompression)

	sum := 0.0
	for _, smp := range window {
		v, ok := smp.Values[key]
		if !ok || !series.IsFinite(v) {
			continue
		}
		if st.Count == 0 {
			st.Min, st.Max = v, v
		} else {
			st.Min = math.Min(st.Min, v)
			st.Max = math.Max(st.Max, v)
		}
		sum += v
		st.Current = v
		st.Count++
		td.Add(v, 1)
	}

	if st.Count == 0 {
		return st
	}
	st.Avg = sum / float64(st.Count)
	st.P50 = clampTo(td.Quantile(0.5), st.Min, st.Max)
	st.P95 = clampTo(td.Quantile(0.95), st.Min, st.Max)
	return st
}

// clampTo keeps digest estimates inside the observed range.
func clampTo(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
