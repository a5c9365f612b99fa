// Package smooth damps single-sample noise in a windowed slice.
//
// Each interior sample is compared with the centered moving average around
// it. When the raw value strays further than the channel's anomaly threshold
// it is pulled toward the average by Blend; otherwise it is left alone, so
// real step changes survive.
package smooth

import (
	"maps"
	"math"

	"github.com/randomizedcoder/go-plant-trends/internal/series"
)

const (
	DefaultWidth     = 3
	DefaultBlend     = 0.85
	DefaultThreshold = 3.0
)

// Options configures the filter.
type Options struct {
	// Width is the moving-average width in samples.
	Width int

	// Blend is the weight of the average when a sample is anomalous.
	Blend float64

	// DefaultThreshold is the absolute deviation that marks an anomaly.
	DefaultThreshold float64

	// Thresholds overrides DefaultThreshold per channel.
	Thresholds map[string]float64
}

// DefaultOptions returns the standard filter.
func DefaultOptions() Options {
	return Options{
		Width:            DefaultWidth,
		Blend:            DefaultBlend,
		DefaultThreshold: DefaultThreshold,
	}
}

func (o Options) threshold(key string) float64 {
	if t, ok := o.Thresholds[key]; ok && t >= 0 {
		return t
	}
	return o.DefaultThreshold
}

// Smooth returns a filtered copy of s. The input is never modified.
// Slices no longer than Width, and the first and last samples, pass through.
func Smooth(s series.Series, opts Options) series.Series {
	w := opts.Width
	if w < 1 {
		w = DefaultWidth
	}
	blend := opts.Blend
	if blend < 0 || blend > 1 || math.IsNaN(blend) {
		blend = DefaultBlend
	}

	out := make(series.Series, len(s))
	copy(out, s)
	if len(s) <= w {
		return out
	}

	lo, hi := w/2, (w+1)/2
	for i := 1; i < len(s)-1; i++ {
		var values map[string]float64
		for key, raw := range s[i].Values {
			avg, ok := windowAverage(s, key, max(0, i-lo), min(len(s), i+hi))
			if !ok || math.Abs(raw-avg) <= opts.threshold(key) {
				continue
			}
			if values == nil {
				values = maps.Clone(s[i].Values)
			}
			values[key] = blend*avg + (1-blend)*raw
		}
		if values != nil {
			out[i] = series.Sample{Time: s[i].Time, Values: values}
		}
	}
	return out
}

// windowAverage averages the finite values of key over s[from:to].
func windowAverage(s series.Series, key string, from, to int) (float64, bool) {
	sum, n := 0.0, 0
	for j := from; j < to; j++ {
		if v, ok := s[j].Values[key]; ok && series.IsFinite(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
