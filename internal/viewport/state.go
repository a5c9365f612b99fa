// Package viewport resolves {page, zoom, pan} into a concrete index window
// over a series and owns the transitions that mutate it.
//
// Pages are counted back from the most recent data: page 0 holds the last
// PageSize samples. Zooming narrows the window inside the current page and
// ZoomPosition (0..1) slides it from the page start to the page end.
//
// Windows are half-open: [Start, End). The last visible index is End-1.
package viewport

import (
	"math"
	"time"
)

const (
	DefaultPageSize        = 10080 // one week of one-minute samples
	DefaultMinWindowRatio  = 0.05
	DefaultMinWindowPoints = 120
	DefaultZoomStep        = 0.2
	DefaultZoomGrid        = 0.1
	DefaultMaxZoom         = 8.0
	DefaultPanStep         = 0.05
	DefaultWheelThrottle   = 150 * time.Millisecond
)

// Params are the tunables of a viewport.
type Params struct {
	// PageSize is the number of native points per page.
	PageSize int

	// MinWindowRatio bounds how small a fraction of the page a zoom may show.
	MinWindowRatio float64

	// MinWindowPoints is the minimum window width in points.
	MinWindowPoints int

	// ZoomStep is added to or removed from the zoom factor per step.
	ZoomStep float64

	// ZoomGrid snaps the zoom factor to multiples of itself.
	ZoomGrid float64

	// MaxZoom caps the zoom factor.
	MaxZoom float64

	// PanStep moves ZoomPosition per step.
	PanStep float64

	// WheelThrottle is the minimum interval between wheel-driven page steps.
	WheelThrottle time.Duration
}

// DefaultParams returns the week-paged defaults.
func DefaultParams() Params {
	return Params{
		PageSize:        DefaultPageSize,
		MinWindowRatio:  DefaultMinWindowRatio,
		MinWindowPoints: DefaultMinWindowPoints,
		ZoomStep:        DefaultZoomStep,
		ZoomGrid:        DefaultZoomGrid,
		MaxZoom:         DefaultMaxZoom,
		PanStep:         DefaultPanStep,
		WheelThrottle:   DefaultWheelThrottle,
	}
}

// normalized fills zero or invalid fields with defaults.
func (p Params) normalized() Params {
	d := DefaultParams()
	if p.PageSize <= 0 {
		p.PageSize = d.PageSize
	}
	if p.MinWindowRatio <= 0 || p.MinWindowRatio > 1 {
		p.MinWindowRatio = d.MinWindowRatio
	}
	if p.MinWindowPoints < 0 {
		p.MinWindowPoints = 0
	}
	if p.ZoomStep <= 0 {
		p.ZoomStep = d.ZoomStep
	}
	if p.ZoomGrid <= 0 {
		p.ZoomGrid = d.ZoomGrid
	}
	if p.MaxZoom < 1 {
		p.MaxZoom = d.MaxZoom
	}
	if p.PanStep <= 0 {
		p.PanStep = d.PanStep
	}
	if p.WheelThrottle < 0 {
		p.WheelThrottle = 0
	}
	return p
}

// State is the mutable part of a viewport.
type State struct {
	FullLength   int
	PageSize     int
	PageIndex    int
	ZoomFactor   float64
	ZoomPosition float64
	Dragging     bool
}

// TotalPages returns ceil(FullLength/PageSize), at least 1.
func (s State) TotalPages() int {
	if s.PageSize <= 0 || s.FullLength <= 0 {
		return 1
	}
	return (s.FullLength + s.PageSize - 1) / s.PageSize
}

// Zoomed reports whether the zoom factor is above 1.
func (s State) Zoomed() bool {
	return s.ZoomFactor > 1
}

// Window is a half-open index range [Start, End).
type Window struct {
	Start int
	End   int
}

// Len returns End-Start.
func (w Window) Len() int {
	return w.End - w.Start
}

// Last returns the inclusive last index (End-1).
func (w Window) Last() int {
	return w.End - 1
}

// PageBounds returns the half-open bounds of the current page.
func PageBounds(s State) (start, end int) {
	n := s.FullLength
	ps := s.PageSize
	if ps <= 0 {
		ps = n
	}
	idx := clampInt(s.PageIndex, 0, s.TotalPages()-1)
	start = max(0, n-(idx+1)*ps)
	end = min(n, start+ps)
	return start, end
}

// WindowRatio is the fraction of a page shown at the given zoom.
func WindowRatio(zoom, minRatio float64) float64 {
	if zoom > 1 {
		return math.Max(1/zoom, minRatio)
	}
	return 1
}

// Resolve maps a state onto a window over [0, FullLength).
//
// The window is at least min(MinWindowPoints, FullLength) wide; a zero-width
// or inverted result falls back to the whole series.
func Resolve(s State, p Params) Window {
	n := s.FullLength
	if n <= 0 {
		return Window{}
	}
	pageStart, pageEnd := PageBounds(s)

	ratio := WindowRatio(s.ZoomFactor, p.MinWindowRatio)
	pointsToShow := max(p.MinWindowPoints, int(math.Round(float64(s.PageSize)*ratio)))

	availablePan := max(0, (pageEnd-pageStart)-pointsToShow)
	panOffset := 0
	if s.Zoomed() {
		panOffset = int(math.Round(float64(availablePan) * clampFloat(s.ZoomPosition, 0, 1)))
	}

	start := pageStart + panOffset
	end := min(pageEnd, start+pointsToShow)

	start = clampInt(start, 0, n)
	end = clampInt(end, 0, n)

	minWidth := min(p.MinWindowPoints, n)
	if end-start < minWidth {
		end = min(n, start+minWidth)
		start = max(0, end-minWidth)
	}
	if start >= end {
		return Window{Start: 0, End: n}
	}
	return Window{Start: start, End: end}
}

// DragPosition converts a normalized pointer x over the minimap into a
// ZoomPosition so the pointer sits at the middle of the highlighted region.
func DragPosition(x, ratio float64) float64 {
	maxStart := 1 - ratio
	if maxStart <= 0 {
		return 0
	}
	desired := clampFloat(x-ratio/2, 0, maxStart)
	return desired / maxStart
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
