// Package autoscale gives each overlaid metric its own visual domain so
// series with different units stay legible on one plot.
//
// The first metric added is the master: it keeps its manual domain (or its
// absolute domain when no manual one is set). Every other metric is scaled to
// the values currently in the window, padded by 10% of their range on each
// side and clamped to the metric's absolute bounds.
package autoscale

import (
	"errors"
	"fmt"
	"math"

	"github.com/randomizedcoder/go-plant-trends/internal/series"
)

// PadFraction is the share of the data range added above and below.
const PadFraction = 0.1

var (
	// ErrDuplicateMetric is returned when a key is added twice.
	ErrDuplicateMetric = errors.New("metric already added")

	// ErrEmptyKey is returned for a metric without a key.
	ErrEmptyKey = errors.New("metric key is empty")
)

// Domain is a [Min, Max] value range.
type Domain struct {
	Min float64
	Max float64
}

// Valid reports whether Min < Max and both are finite.
func (d Domain) Valid() bool {
	return series.IsFinite(d.Min) && series.IsFinite(d.Max) && d.Min < d.Max
}

// Contains reports whether Min < v < Max.
func (d Domain) Contains(v float64) bool {
	return d.Min < v && v < d.Max
}

// Span returns Max-Min.
func (d Domain) Span() float64 {
	return d.Max - d.Min
}

// SentinelDomain is used for an unbounded metric with no data.
var SentinelDomain = Domain{Min: 0, Max: 1}

// Metric describes one overlaid channel.
type Metric struct {
	Key string

	// Absolute is the hard floor and ceiling. An invalid domain means unbounded.
	Absolute Domain

	// Manual is an operator-chosen domain for the master metric.
	// The zero value means unset.
	Manual Domain
}

// MetricScale is the resolved domain of one metric.
type MetricScale struct {
	Key         string
	VisualMin   float64
	VisualMax   float64
	AbsoluteMin float64
	AbsoluteMax float64
	IsAutoScale bool
}

// Visual returns the visual domain.
func (m MetricScale) Visual() Domain {
	return Domain{Min: m.VisualMin, Max: m.VisualMax}
}

// Scaler keeps the ordered metric list and their scales.
// Not safe for concurrent use.
type Scaler struct {
	metrics []Metric
	scales  []MetricScale
	window  series.Series
}

// New creates a scaler with the given metrics; the first is the master.
func New(metrics ...Metric) (*Scaler, error) {
	s := &Scaler{}
	for _, m := range metrics {
		if err := s.Add(m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a metric and computes its scale over the last window.
func (s *Scaler) Add(m Metric) error {
	if m.Key == "" {
		return ErrEmptyKey
	}
	if s.index(m.Key) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateMetric, m.Key)
	}
	s.metrics = append(s.metrics, m)
	s.Recompute(s.window)
	return nil
}

// Remove drops a metric. Removing the master promotes the next metric.
func (s *Scaler) Remove(key string) bool {
	i := s.index(key)
	if i < 0 {
		return false
	}
	s.metrics = append(s.metrics[:i], s.metrics[i+1:]...)
	s.Recompute(s.window)
	return true
}

// Keys returns the metric keys in order.
func (s *Scaler) Keys() []string {
	keys := make([]string, len(s.metrics))
	for i, m := range s.metrics {
		keys[i] = m.Key
	}
	return keys
}

// Len returns the number of metrics.
func (s *Scaler) Len() int {
	return len(s.metrics)
}

// Recompute rebuilds every scale from the windowed values.
func (s *Scaler) Recompute(window series.Series) {
	s.window = window
	s.scales = make([]MetricScale, len(s.metrics))
	for i, m := range s.metrics {
		s.scales[i] = resolve(m, i == 0, window.Column(m.Key))
	}
}

// Scales returns a copy of the resolved scales, master first.
func (s *Scaler) Scales() []MetricScale {
	out := make([]MetricScale, len(s.scales))
	copy(out, s.scales)
	return out
}

// Scale returns the resolved scale for key.
func (s *Scaler) Scale(key string) (MetricScale, bool) {
	i := s.index(key)
	if i < 0 || i >= len(s.scales) {
		return MetricScale{}, false
	}
	return s.scales[i], true
}

// Normalize maps v into 0..100 of the metric's visual domain, clamped.
func (s *Scaler) Normalize(key string, v float64) float64 {
	sc, ok := s.Scale(key)
	if !ok || !series.IsFinite(v) {
		return 0
	}
	return Normalize(sc.Visual(), v)
}

// Normalize maps v into 0..100 of d, clamped.
func Normalize(d Domain, v float64) float64 {
	if !d.Valid() {
		return 0
	}
	p := (v - d.Min) / d.Span() * 100
	return math.Max(0, math.Min(100, p))
}

func (s *Scaler) index(key string) int {
	for i, m := range s.metrics {
		if m.Key == key {
			return i
		}
	}
	return -1
}

// resolve computes one metric's scale.
func resolve(m Metric, master bool, values []float64) MetricScale {
	sc := MetricScale{
		Key:         m.Key,
		AbsoluteMin: m.Absolute.Min,
		AbsoluteMax: m.Absolute.Max,
	}

	if master {
		switch {
		case m.Manual.Valid():
			sc.VisualMin, sc.VisualMax = m.Manual.Min, m.Manual.Max
			return sc
		case m.Absolute.Valid():
			sc.VisualMin, sc.VisualMax = m.Absolute.Min, m.Absolute.Max
			return sc
		}
	}

	d := AutoDomain(values, m.Absolute)
	sc.VisualMin, sc.VisualMax = d.Min, d.Max
	sc.IsAutoScale = true
	return sc
}

// AutoDomain fits a domain to values: their range padded by PadFraction on
// each side and clamped to abs (when abs is valid).
//
// With zero or one distinct value it falls back to abs. A single value v
// that abs does not strictly contain gets a domain centered on v, so the
// result always satisfies Min < v < Max. No data and no bounds yields
// SentinelDomain.
func AutoDomain(values []float64, abs Domain) Domain {
	lo, hi, n := math.Inf(1), math.Inf(-1), 0
	for _, v := range values {
		if !series.IsFinite(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		n++
	}

	if n == 0 {
		if abs.Valid() {
			return abs
		}
		return SentinelDomain
	}

	if lo == hi {
		if abs.Contains(lo) {
			return abs
		}
		return centered(lo, abs)
	}

	pad := (hi - lo) * PadFraction
	d := Domain{Min: lo - pad, Max: hi + pad}
	if abs.Valid() {
		d.Min = math.Max(d.Min, abs.Min)
		d.Max = math.Min(d.Max, abs.Max)
		if !d.Valid() {
			return abs
		}
	}
	return d
}

// centered returns a domain around v padded by PadFraction of abs's span
// (or 1 when abs is unbounded).
func centered(v float64, abs Domain) Domain {
	pad := 1.0
	if abs.Valid() {
		pad = abs.Span() * PadFraction
	}
	if v-pad >= v || v+pad <= v {
		pad = math.Abs(v) * PadFraction
	}
	return Domain{Min: v - pad, Max: v + pad}
}
