// Package series holds the sample model shared by every stage of the trend
// engine and the ingest step that turns raw records into a clean Series.
//
// A clean Series is ordered by timestamp (stable, ties keep arrival order) and
// every tracked value is finite. Stages downstream of ingest rely on both.
package series

import (
	"math"
	"sort"
	"time"
)

// Sample is one timestamped reading with one or more numeric channels.
type Sample struct {
	Time   time.Time
	Values map[string]float64
}

// Value returns the channel value and whether it is present.
func (s Sample) Value(key string) (float64, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Complete reports whether every key is present with a finite value.
func (s Sample) Complete(keys []string) bool {
	for _, k := range keys {
		v, ok := s.Values[k]
		if !ok || !IsFinite(v) {
			return false
		}
	}
	return true
}

// Series is a time-ordered sequence of samples.
type Series []Sample

// Len returns the number of samples.
func (s Series) Len() int { return len(s) }

// Keys returns the sorted union of channel keys present in the series.
func (s Series) Keys() []string {
	seen := make(map[string]struct{})
	for _, smp := range s {
		for k := range smp.Values {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Slice returns s[start:end] with both bounds clamped into range.
// The returned series shares samples with s.
func (s Series) Slice(start, end int) Series {
	if start < 0 {
		start = 0
	}
	if end > len(s) {
		end = len(s)
	}
	if start >= end {
		return Series{}
	}
	return s[start:end]
}

// Column returns the finite values of one channel, in order.
func (s Series) Column(key string) []float64 {
	out := make([]float64, 0, len(s))
	for _, smp := range s {
		if v, ok := smp.Values[key]; ok && IsFinite(v) {
			out = append(out, v)
		}
	}
	return out
}

// Last returns the final sample, if any.
func (s Series) Last() (Sample, bool) {
	if len(s) == 0 {
		return Sample{}, false
	}
	return s[len(s)-1], true
}

// IsSorted reports whether the series is non-decreasing by timestamp.
func (s Series) IsSorted() bool {
	for i := 1; i < len(s); i++ {
		if s[i].Time.Before(s[i-1].Time) {
			return false
		}
	}
	return true
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
