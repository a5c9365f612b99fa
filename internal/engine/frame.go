package engine

import (
	"time"

	"github.com/randomizedcoder/go-plant-trends/internal/autoscale"
	"github.com/randomizedcoder/go-plant-trends/internal/series"
	"github.com/randomizedcoder/go-plant-trends/internal/stats"
	"github.com/randomizedcoder/go-plant-trends/internal/viewport"
)

// Mode selects the data path.
type Mode int

const (
	// ModeHistory pages, zooms and downsamples a fetched series.
	ModeHistory Mode = iota
	// ModeLive pins the window to the newest ring buffer samples.
	ModeLive
)

func (m Mode) String() string {
	switch m {
	case ModeHistory:
		return "history"
	case ModeLive:
		return "live"
	default:
		return "unknown"
	}
}

// MarshalText lets Mode serialize as its name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Highlight is the minimap region of the visible window, 0..1.
type Highlight struct {
	Left  float64
	Width float64
}

// Reduction describes how Points were derived from the window.
type Reduction struct {
	Input   int // samples in the window
	Output  int // samples in Points
	Stride  int
	Markers int
	Density int
	Dropped int
}

// Frame is everything a renderer needs for one paint.
type Frame struct {
	Mode  Mode
	Token Token

	// Points is the display series: downsampled then smoothed.
	Points series.Series

	// Channels are the plotted metric keys, master first.
	Channels []string
	Scales   []autoscale.MetricScale

	Window   viewport.Window
	Viewport viewport.State

	// Overview is the reduced current page (history) or buffer (live).
	Overview  series.Series
	Highlight Highlight

	// Stats are computed over the raw window, before reduction.
	Stats []stats.MetricStats

	Reduction Reduction

	// NoData is set when there is nothing to plot.
	NoData bool

	// Err is the last fetch failure; the rest of the frame is the last
	// good data.
	Err error

	Computed time.Time
}

// Span returns the time covered by Points.
func (f Frame) Span() (from, to time.Time) {
	if len(f.Points) == 0 {
		return time.Time{}, time.Time{}
	}
	return f.Points[0].Time, f.Points[len(f.Points)-1].Time
}

// Normalized returns v as 0..100 of key's visual domain.
func (f Frame) Normalized(key string, v float64) float64 {
	for _, sc := range f.Scales {
		if sc.Key == key {
			if !series.IsFinite(v) {
				return 0
			}
			return autoscale.Normalize(sc.Visual(), v)
		}
	}
	return 0
}

// ZoomPercent is the share of the page visible, 0..100.
func (f Frame) ZoomPercent() float64 {
	return f.Highlight.Width * 100
}

// ScrollPercent is the pan position, 0..100.
func (f Frame) ScrollPercent() float64 {
	if f.Mode == ModeLive {
		return 100
	}
	return f.Viewport.ZoomPosition * 100
}
