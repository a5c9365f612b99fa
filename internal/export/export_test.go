package export

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/randomizedcoder/go-plant-trends/internal/autoscale"
	"github.com/randomizedcoder/go-plant-trends/internal/engine"
	"github.com/randomizedcoder/go-plant-trends/internal/series"
	"github.com/randomizedcoder/go-plant-trends/internal/stats"
	"github.com/randomizedcoder/go-plant-trends/internal/viewport"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func testFrame() *engine.Frame {
	points := series.Series{
		{Time: t0, Values: map[string]float64{"machineSpeed": 250, "dieSpeed": 100, "ignored": 1}},
		{Time: t0.Add(time.Minute), Values: map[string]float64{"machineSpeed": 500}},
	}
	return &engine.Frame{
		Mode:     engine.ModeHistory,
		Token:    7,
		Points:   points,
		Overview: points[:1],
		Channels: []string{"machineSpeed", "dieSpeed"},
		Scales: []autoscale.MetricScale{
			{Key: "machineSpeed", VisualMin: 0, VisualMax: 500, AbsoluteMin: 0, AbsoluteMax: 500},
			{Key: "dieSpeed", VisualMin: 90, VisualMax: 110, AbsoluteMin: math.Inf(-1), AbsoluteMax: math.Inf(1), IsAutoScale: true},
		},
		Window:    viewport.Window{Start: 100, End: 2100},
		Viewport:  viewport.State{FullLength: 30000, PageSize: 10080, PageIndex: 1, ZoomFactor: 2, ZoomPosition: 0.5},
		Highlight: engine.Highlight{Left: 0.25, Width: 0.5},
		Stats: []stats.MetricStats{
			{Key: "machineSpeed", Count: 2, Min: 250, Max: 500, Avg: 375, Current: 500, P50: 375, P95: 490},
			{Key: "dieSpeed"},
		},
		Reduction: engine.Reduction{Input: 2000, Output: 2, Stride: 1000, Markers: 1},
		Computed:  t0,
	}
}

func TestBuild(t *testing.T) {
	d := Build(testFrame(), Options{Normalized: true})

	if d.Mode != "history" || d.Token != 7 {
		t.Errorf("Mode/Token = %q/%d", d.Mode, d.Token)
	}
	if d.Viewport.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", d.Viewport.TotalPages)
	}
	if d.ZoomPercent != 50 || d.ScrollPercent != 50 {
		t.Errorf("ZoomPercent/ScrollPercent = %v/%v, want 50/50", d.ZoomPercent, d.ScrollPercent)
	}
	if d.Reduction.Input != 2000 || d.Reduction.Markers != 1 {
		t.Errorf("Reduction = %+v", d.Reduction)
	}

	if len(d.Metrics) != 2 {
		t.Fatalf("len(Metrics) = %d, want 2", len(d.Metrics))
	}
	if !d.Metrics[0].Master || d.Metrics[1].Master {
		t.Error("only the first metric is master")
	}
	if d.Metrics[0].Stats == nil || d.Metrics[0].Stats.P95 != 490 {
		t.Errorf("machineSpeed stats = %+v", d.Metrics[0].Stats)
	}
	if d.Metrics[1].Stats != nil {
		t.Error("empty stats should be omitted")
	}
	if d.Metrics[1].AbsoluteMin != 0 || d.Metrics[1].AbsoluteMax != 0 {
		t.Errorf("unbounded absolute = %v..%v, want 0..0", d.Metrics[1].AbsoluteMin, d.Metrics[1].AbsoluteMax)
	}

	if len(d.Points) != 2 {
		t.Fatalf("len(Points) = %d, want 2", len(d.Points))
	}
	p := d.Points[0]
	if _, ok := p.Values["ignored"]; ok {
		t.Error("unplotted channel exported")
	}
	if p.Normalized["machineSpeed"] != 50 || p.Normalized["dieSpeed"] != 50 {
		t.Errorf("Normalized = %v", p.Normalized)
	}
	if _, ok := d.Points[1].Values["dieSpeed"]; ok {
		t.Error("missing value exported")
	}
	if d.Overview != nil {
		t.Error("overview included without Options.Overview")
	}
}

func TestBuild_ErrorAndOverview(t *testing.T) {
	f := testFrame()
	f.Err = &engine.FetchError{Err: errors.New("timeout"), Retryable: true}

	d := Build(f, Options{Overview: true})
	if !strings.Contains(d.Error, "timeout") {
		t.Errorf("Error = %q", d.Error)
	}
	if len(d.Overview) != 1 {
		t.Errorf("len(Overview) = %d, want 1", len(d.Overview))
	}
	if d.Points[0].Normalized != nil {
		t.Error("normalized values without Options.Normalized")
	}
}

func TestWrite(t *testing.T) {
	tests := []struct {
		name       string
		opts       Options
		wantIndent bool
	}{
		{"compact", Options{}, false},
		{"indented", Options{Indent: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Write(&buf, testFrame(), tt.opts); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			out := buf.String()
			if got := strings.Contains(out, "\n  "); got != tt.wantIndent {
				t.Errorf("indented = %v, want %v", got, tt.wantIndent)
			}
			for _, want := range []string{`"mode":`, `"t":"2024-03-04T00:00:00Z"`, `"zoom_factor":`} {
				if !strings.Contains(strings.ReplaceAll(out, `": `, `":`), want) {
					t.Errorf("output missing %s", want)
				}
			}

			var d Document
			if err := json.Unmarshal(buf.Bytes(), &d); err != nil {
				t.Fatalf("output is not valid JSON: %v", err)
			}
			if d.Window.End != 2100 {
				t.Errorf("Window.End = %d, want 2100", d.Window.End)
			}
		})
	}
}

func TestMarshal_NoData(t *testing.T) {
	f := &engine.Frame{NoData: true, Points: series.Series{}}
	data, err := Marshal(f, Options{})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !bytes.Contains(data, []byte(`"no_data":true`)) || !bytes.Contains(data, []byte(`"points":[]`)) {
		t.Errorf("Marshal() = %s", data)
	}
}
