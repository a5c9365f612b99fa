// Package export writes a rendered frame as a JSON document, for headless
// runs and for piping a chart into other tools.
package export

import (
	"io"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/randomizedcoder/go-plant-trends/internal/engine"
	"github.com/randomizedcoder/go-plant-trends/internal/series"
	"github.com/randomizedcoder/go-plant-trends/internal/stats"
)

// Options controls what Write includes.
type Options struct {
	// Indent pretty-prints the document.
	Indent bool

	// Normalized adds each point's 0..100 position within its metric's
	// visual domain.
	Normalized bool

	// Overview includes the minimap series.
	Overview bool
}

// Document is the exported frame.
type Document struct {
	Mode          string    `json:"mode"`
	Token         uint64    `json:"token"`
	Computed      time.Time `json:"computed"`
	NoData        bool      `json:"no_data"`
	Error         string    `json:"error,omitempty"`
	ZoomPercent   float64   `json:"zoom_percent"`
	ScrollPercent float64   `json:"scroll_percent"`

	Window    Window    `json:"window"`
	Viewport  Viewport  `json:"viewport"`
	Reduction Reduction `json:"reduction"`
	Highlight Highlight `json:"highlight"`

	Metrics  []Metric `json:"metrics"`
	Points   []Point  `json:"points"`
	Overview []Point  `json:"overview,omitempty"`
}

// Window is the visible native index range, half-open.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Viewport mirrors viewport.State plus the derived page count.
type Viewport struct {
	FullLength   int     `json:"full_length"`
	PageSize     int     `json:"page_size"`
	PageIndex    int     `json:"page_index"`
	TotalPages   int     `json:"total_pages"`
	ZoomFactor   float64 `json:"zoom_factor"`
	ZoomPosition float64 `json:"zoom_position"`
}

// Reduction mirrors engine.Reduction.
type Reduction struct {
	Input   int `json:"input"`
	Output  int `json:"output"`
	Stride  int `json:"stride"`
	Markers int `json:"markers"`
	Density int `json:"density"`
	Dropped int `json:"dropped"`
}

// Highlight is the minimap region, 0..1.
type Highlight struct {
	Left  float64 `json:"left"`
	Width float64 `json:"width"`
}

// Metric is one plotted channel with its scale and window stats.
type Metric struct {
	Key         string  `json:"key"`
	Master      bool    `json:"master,omitempty"`
	VisualMin   float64 `json:"visual_min"`
	VisualMax   float64 `json:"visual_max"`
	AbsoluteMin float64 `json:"absolute_min"`
	AbsoluteMax float64 `json:"absolute_max"`
	AutoScale   bool    `json:"auto_scale"`
	Stats       *Stats  `json:"stats,omitempty"`
}

// Stats are window statistics; omitted when the window has no values.
type Stats struct {
	Count   int     `json:"count"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Avg     float64 `json:"avg"`
	Current float64 `json:"current"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
}

// Point is one sample. Values holds the plotted channels only.
type Point struct {
	Time       time.Time          `json:"t"`
	Values     map[string]float64 `json:"v"`
	Normalized map[string]float64 `json:"n,omitempty"`
}

// Build converts f into a Document.
func Build(f *engine.Frame, opts Options) Document {
	d := Document{
		Mode:          f.Mode.String(),
		Token:         uint64(f.Token),
		Computed:      f.Computed,
		NoData:        f.NoData,
		ZoomPercent:   f.ZoomPercent(),
		ScrollPercent: f.ScrollPercent(),
		Window:        Window{Start: f.Window.Start, End: f.Window.End},
		Viewport: Viewport{
			FullLength:   f.Viewport.FullLength,
			PageSize:     f.Viewport.PageSize,
			PageIndex:    f.Viewport.PageIndex,
			TotalPages:   f.Viewport.TotalPages(),
			ZoomFactor:   f.Viewport.ZoomFactor,
			ZoomPosition: f.Viewport.ZoomPosition,
		},
		Reduction: Reduction(f.Reduction),
		Highlight: Highlight(f.Highlight),
	}
	if f.Err != nil {
		d.Error = f.Err.Error()
	}

	byKey := make(map[string]stats.MetricStats, len(f.Stats))
	for _, st := range f.Stats {
		byKey[st.Key] = st
	}
	d.Metrics = make([]Metric, 0, len(f.Scales))
	for i, sc := range f.Scales {
		m := Metric{
			Key:         sc.Key,
			Master:      i == 0,
			VisualMin:   sc.VisualMin,
			VisualMax:   sc.VisualMax,
			AbsoluteMin: finiteOrZero(sc.AbsoluteMin),
			AbsoluteMax: finiteOrZero(sc.AbsoluteMax),
			AutoScale:   sc.IsAutoScale,
		}
		if st, ok := byKey[sc.Key]; ok && !st.Empty() {
			m.Stats = &Stats{
				Count:   st.Count,
				Min:     st.Min,
				Max:     st.Max,
				Avg:     st.Avg,
				Current: st.Current,
				P50:     st.P50,
				P95:     st.P95,
			}
		}
		d.Metrics = append(d.Metrics, m)
	}

	d.Points = points(f, f.Points, opts.Normalized)
	if opts.Overview {
		d.Overview = points(f, f.Overview, false)
	}
	return d
}

// Write encodes f to w.
func Write(w io.Writer, f *engine.Frame, opts Options) error {
	enc := json.NewEncoder(w)
	if opts.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(Build(f, opts))
}

// Marshal returns f as JSON.
func Marshal(f *engine.Frame, opts Options) ([]byte, error) {
	if opts.Indent {
		return json.MarshalIndent(Build(f, opts), "", "  ")
	}
	return json.Marshal(Build(f, opts))
}

func points(f *engine.Frame, s series.Series, normalized bool) []Point {
	out := make([]Point, 0, len(s))
	for _, smp := range s {
		p := Point{Time: smp.Time, Values: make(map[string]float64, len(f.Channels))}
		if normalized {
			p.Normalized = make(map[string]float64, len(f.Channels))
		}
		for _, k := range f.Channels {
			v, ok := smp.Values[k]
			if !ok || !series.IsFinite(v) {
				continue
			}
			p.Values[k] = v
			if normalized {
				p.Normalized[k] = f.Normalized(k, v)
			}
		}
		out = append(out, p)
	}
	return out
}

// JSON has no infinities; unbounded absolute limits export as 0.
func finiteOrZero(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}
