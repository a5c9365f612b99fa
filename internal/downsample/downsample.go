// Package downsample reduces a clean series to a bounded number of original
// points while keeping sudden changes visible.
//
// The reduction keeps an evenly strided grid of samples plus the final raw
// sample. Between grid points the sample that moves furthest past a channel's
// change threshold (relative to the preceding grid sample) is marked, and
// the sample just before the jump is kept alongside it so the step renders as
// a step instead of a slope. Markers compete for a reserved slice of the point
// budget; the largest jumps win.
//
// Downsample is pure and deterministic: identical input and options always
// produce identical output, and the output never exceeds the target count.
package downsample

import (
	"math"
	"sort"

	"github.com/randomizedcoder/go-plant-trends/internal/series"
)

const (
	// DefaultTargetPoints bounds the rendered point count.
	DefaultTargetPoints = 10000

	// DefaultChangeThreshold is the relative change that marks a jump (8%).
	DefaultChangeThreshold = 0.08

	// DefaultDensityMinLength is the input length above which the density
	// rescan runs (when a stride is configured).
	DefaultDensityMinLength = 1000

	// DefaultMarkerReserve is the share of the budget held back for jump markers.
	DefaultMarkerReserve = 0.2
)

// Options configures a reduction.
type Options struct {
	// TargetPoints is the maximum output length (values below 1 mean 1).
	TargetPoints int

	// ChangeThreshold is the default relative change (fraction, 0.08 = 8%).
	ChangeThreshold float64

	// ChannelThresholds overrides ChangeThreshold per channel key.
	ChannelThresholds map[string]float64

	// Channels lists the channels examined for jumps and required in the
	// output. Empty means every key present in the series.
	Channels []string

	// DensityStride re-scans every k-th raw sample into the output. Zero disables.
	DensityStride int

	// DensityMinLength is the minimum input length for the density rescan.
	DensityMinLength int

	// MarkerReserve is the fraction of TargetPoints reserved for jump markers.
	MarkerReserve float64
}

// DefaultOptions returns the standard-resolution options.
func DefaultOptions() Options {
	return Options{
		TargetPoints:     DefaultTargetPoints,
		ChangeThreshold:  DefaultChangeThreshold,
		DensityMinLength: DefaultDensityMinLength,
		MarkerReserve:    DefaultMarkerReserve,
	}
}

// Result is a reduced series plus a breakdown of where its points came from.
type Result struct {
	Points series.Series

	// Stride is the grid spacing used (0 when the input was returned as-is).
	Stride int

	Grid    int // grid samples, including the tail
	Markers int // jump marker samples kept
	Density int // density rescan samples kept
	Dropped int // incomplete samples removed by the final pass

	// Candidates is the number of jump groups found before budgeting.
	Candidates int
}

// Downsample reduces s to at most max(TargetPoints, 1) samples.
func Downsample(s series.Series, opts Options) series.Series {
	return Run(s, opts).Points
}

// Run reduces s and reports the composition of the result.
func Run(s series.Series, opts Options) Result {
	n := len(s)
	m := opts.TargetPoints
	if m < 1 {
		m = 1
	}

	if n == 0 {
		return Result{Points: series.Series{}}
	}
	if n <= m {
		return Result{Points: s, Grid: n}
	}
	if m == 1 {
		return Result{Points: series.Series{s[n-1]}, Grid: 1}
	}

	channels := opts.Channels
	if len(channels) == 0 {
		channels = s.Keys()
	}

	reserve := int(math.Ceil(float64(m) * clampFraction(opts.MarkerReserve)))
	if reserve > m-1 {
		reserve = m - 1
	}
	base := m - reserve

	sel := newSelection(n)
	res := Result{}

	// Grid over [0, n-1) plus the tail. With base == 1 only the tail fits.
	var grid []int
	if base > 1 {
		res.Stride = ceilDiv(n-1, base-1)
		for i := 0; i < n-1; i += res.Stride {
			grid = append(grid, i)
		}
	} else {
		res.Stride = n
	}
	for _, i := range grid {
		sel.add(i)
	}
	sel.add(n - 1)
	res.Grid = sel.count

	// Jump markers between consecutive grid points.
	d := detector{
		channels:   channels,
		thresholds: opts.ChannelThresholds,
		fallback:   opts.ChangeThreshold,
	}
	stops := append(append([]int(nil), grid...), n-1)
	var groups []group
	for k := 1; k < len(stops); k++ {
		ref, stop := stops[k-1], stops[k]
		best := group{score: 1}
		for j := ref + 1; j <= stop; j++ {
			if score := d.score(s[ref], s[j]); score > best.score {
				best = group{prev: j - 1, jump: j, score: score}
			}
		}
		if best.jump > 0 {
			groups = append(groups, best)
		}
	}
	res.Candidates = len(groups)

	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].score != groups[b].score {
			return groups[a].score > groups[b].score
		}
		return groups[a].jump < groups[b].jump
	})
	for _, g := range groups {
		need := 0
		if !sel.has(g.prev) {
			need++
		}
		if !sel.has(g.jump) {
			need++
		}
		if need == 0 || sel.count+need > m {
			continue
		}
		sel.add(g.prev)
		sel.add(g.jump)
		res.Markers += need
	}

	// Density rescan, evenly thinned into whatever budget is left.
	if opts.DensityStride > 0 && n > opts.DensityMinLength {
		var extra []int
		for i := 0; i < n; i += opts.DensityStride {
			if !sel.has(i) {
				extra = append(extra, i)
			}
		}
		for _, i := range thin(extra, m-sel.count) {
			sel.add(i)
			res.Density++
		}
	}

	out := make(series.Series, 0, sel.count)
	for i, ok := range sel.marked {
		if !ok {
			continue
		}
		if !s[i].Complete(channels) {
			res.Dropped++
			continue
		}
		out = append(out, s[i])
	}
	res.Points = out
	return res
}

// group is a jump marker: the sample before the jump and the jump itself.
type group struct {
	prev, jump int
	score      float64
}

// selection is a set of indices with a running count.
type selection struct {
	marked []bool
	count  int
}

func newSelection(n int) *selection {
	return &selection{marked: make([]bool, n)}
}

func (s *selection) has(i int) bool { return s.marked[i] }

func (s *selection) add(i int) {
	if !s.marked[i] {
		s.marked[i] = true
		s.count++
	}
}

// detector scores the change between two samples across channels.
type detector struct {
	channels   []string
	thresholds map[string]float64
	fallback   float64
}

func (d detector) threshold(key string) float64 {
	if t, ok := d.thresholds[key]; ok && t > 0 {
		return t
	}
	if d.fallback > 0 {
		return d.fallback
	}
	return DefaultChangeThreshold
}

// score returns the largest relChange/threshold over all channels.
// A score above 1 is a jump.
func (d detector) score(prev, cur series.Sample) float64 {
	best := 0.0
	for _, key := range d.channels {
		p, ok1 := prev.Values[key]
		c, ok2 := cur.Values[key]
		if !ok1 || !ok2 || !series.IsFinite(p) || !series.IsFinite(c) {
			continue
		}
		if r := RelativeChange(p, c) / d.threshold(key); r > best {
			best = r
		}
	}
	return best
}

// RelativeChange returns |cur-prev| / |(cur+prev)/2|.
// A change away from a zero mean is infinite; no change is zero.
func RelativeChange(prev, cur float64) float64 {
	diff := math.Abs(cur - prev)
	if diff == 0 {
		return 0
	}
	avg := math.Abs((cur + prev) / 2)
	if avg == 0 {
		return math.Inf(1)
	}
	return diff / avg
}

// thin picks up to k evenly spaced entries from idx, keeping order.
func thin(idx []int, k int) []int {
	if k <= 0 {
		return nil
	}
	if len(idx) <= k {
		return idx
	}
	out := make([]int, 0, k)
	for t := 0; t < k; t++ {
		out = append(out, idx[t*len(idx)/k])
	}
	return out
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func clampFraction(f float64) float64 {
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
