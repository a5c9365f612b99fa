package tui

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-plant-trends/internal/autoscale"
	"github.com/randomizedcoder/go-plant-trends/internal/config"
	"github.com/randomizedcoder/go-plant-trends/internal/engine"
	"github.com/randomizedcoder/go-plant-trends/internal/feed"
	"github.com/randomizedcoder/go-plant-trends/internal/series"
	"github.com/randomizedcoder/go-plant-trends/internal/source"
)

// =============================================================================
// Mock Fetcher
// =============================================================================

type mockFetcher struct {
	body  []byte
	err   error
	calls int
}

func (f *mockFetcher) Fetch(context.Context, source.Range) ([]byte, error) {
	f.calls++
	return f.body, f.err
}

func (f *mockFetcher) Name() string { return "mock" }

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

// historyJSON returns n one-minute records as a JSON array.
func historyJSON(n int) []byte {
	var b strings.Builder
	b.WriteByte('[')
	for i := range n {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"timestamp":%d,"machineSpeed":%d,"dieSpeed":%d}`,
			t0.Add(time.Duration(i)*time.Minute).Unix(), 400+i%50, 120+i%10)
	}
	b.WriteByte(']')
	return []byte(b.String())
}

func newTestModel(t *testing.T, cfg Config) Model {
	t.Helper()
	c, err := engine.New(engine.Options{
		Profile: config.DefaultProfile(),
		Metrics: []autoscale.Metric{
			{Key: "machineSpeed", Absolute: autoscale.Domain{Min: 0, Max: 1000}},
			{Key: "dieSpeed", Absolute: autoscale.Domain{Min: 0, Max: 300}},
		},
	})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	cfg.Chart = c
	if cfg.HistoryRange == 0 {
		cfg.HistoryRange = 7 * 24 * time.Hour
	}
	return New(cfg)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update() returned %T", next)
	}
	return nm, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// loaded returns a model with n records of history applied.
func loaded(t *testing.T, n int) (Model, *mockFetcher) {
	t.Helper()
	f := &mockFetcher{body: historyJSON(n)}
	m := newTestModel(t, Config{Fetcher: f})
	m, _ = update(t, m, m.fetchCmd()())
	if m.Frame().NoData {
		t.Fatal("history not applied")
	}
	return m, f
}

// =============================================================================
// Tests: New / Init
// =============================================================================

func TestNew(t *testing.T) {
	m := newTestModel(t, Config{SourceName: "file:plant.json", MetricsAddr: "localhost:17092"})

	if m.width != 80 || m.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", m.width, m.height)
	}
	if !m.showStats {
		t.Error("stats table should start visible")
	}
	if !m.Frame().NoData {
		t.Error("initial frame should have no data")
	}
}

func TestModel_Init(t *testing.T) {
	m := newTestModel(t, Config{Fetcher: &mockFetcher{}})
	if m.Init() == nil {
		t.Error("Init() returned nil command")
	}
	if !m.chart.Pending() {
		t.Error("Init() should issue a fetch in history mode")
	}
}

func TestModel_WindowSize(t *testing.T) {
	m := newTestModel(t, Config{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
}

// =============================================================================
// Tests: Fetching
// =============================================================================

func TestModel_FetchApplied(t *testing.T) {
	m, f := loaded(t, 2000)

	if f.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls)
	}
	fr := m.Frame()
	if fr.Reduction.Input != 2000 {
		t.Errorf("Reduction.Input = %d, want 2000", fr.Reduction.Input)
	}
	if len(fr.Points) == 0 || len(fr.Points) > 2000 {
		t.Errorf("len(Points) = %d", len(fr.Points))
	}
}

func TestModel_StaleFetchDiscarded(t *testing.T) {
	f := &mockFetcher{body: historyJSON(500)}
	m := newTestModel(t, Config{Fetcher: f})

	first := m.fetchCmd()
	second := m.fetchCmd()

	// The superseded response arrives first and is ignored
	m, _ = update(t, m, first())
	if !m.Frame().NoData {
		t.Fatal("stale response applied")
	}
	if got := m.chart.Counters().StaleDiscarded; got != 1 {
		t.Errorf("StaleDiscarded = %d, want 1", got)
	}

	m, _ = update(t, m, second())
	if m.Frame().NoData {
		t.Error("latest response not applied")
	}
}

func TestModel_FetchFailure(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantRetry bool
	}{
		{"server error retries", &source.StatusError{Code: 503, URL: "http://plant"}, true},
		{"timeout retries", context.DeadlineExceeded, true},
		{"not found is final", &source.StatusError{Code: 404, URL: "http://plant"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &mockFetcher{err: tt.err}
			b := source.NewBackoff(1, source.BackoffConfig{
				Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2, MaxRetries: 3,
			})
			m := newTestModel(t, Config{Fetcher: f, Backoff: b})

			m, cmd := update(t, m, m.fetchCmd()())
			if m.Frame().Err == nil {
				t.Error("frame should carry the fetch error")
			}
			if got := cmd != nil; got != tt.wantRetry {
				t.Fatalf("retry scheduled = %v, want %v", got, tt.wantRetry)
			}
			if !tt.wantRetry {
				return
			}
			if !strings.HasPrefix(m.Status(), "retry 1") {
				t.Errorf("Status() = %q", m.Status())
			}
			msg, ok := cmd().(RetryMsg)
			if !ok {
				t.Fatalf("retry command produced %T", msg)
			}
			if _, cmd = update(t, m, msg); cmd == nil {
				t.Error("RetryMsg for the latest token should refetch")
			}
		})
	}
}

func TestModel_RetrySuperseded(t *testing.T) {
	m := newTestModel(t, Config{Fetcher: &mockFetcher{}})
	old := m.chart.BeginFetch()
	m.fetchCmd() // a manual refresh supersedes the retry

	if _, cmd := update(t, m, RetryMsg{After: old}); cmd != nil {
		t.Error("superseded RetryMsg should be ignored")
	}
}

func TestModel_RetriesExhausted(t *testing.T) {
	f := &mockFetcher{err: &source.StatusError{Code: 502, URL: "http://plant"}}
	b := source.NewBackoff(1, source.BackoffConfig{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1, MaxRetries: 1})
	m := newTestModel(t, Config{Fetcher: f, Backoff: b})

	m, cmd := update(t, m, m.fetchCmd()())
	if cmd == nil {
		t.Fatal("first failure should schedule a retry")
	}
	m, cmd = update(t, m, m.fetchCmd()())
	if cmd != nil {
		t.Error("no retry after MaxRetries")
	}
	if !strings.Contains(m.Status(), "giving up") {
		t.Errorf("Status() = %q", m.Status())
	}
}

func TestModel_NoFetcher(t *testing.T) {
	m := newTestModel(t, Config{})
	if cmd := m.fetchCmd(); cmd != nil {
		t.Error("fetchCmd() without a fetcher should be nil")
	}
	if m.chart.Pending() {
		t.Error("no token should be issued without a fetcher")
	}
}

// =============================================================================
// Tests: Keys
// =============================================================================

func TestModel_Keys(t *testing.T) {
	tests := []struct {
		name  string
		keys  []tea.KeyMsg
		check func(t *testing.T, m Model)
	}{
		{
			name: "zoom in",
			keys: []tea.KeyMsg{runes("+")},
			check: func(t *testing.T, m Model) {
				if z := m.Frame().Viewport.ZoomFactor; z < 1.19 || z > 1.21 {
					t.Errorf("ZoomFactor = %v, want 1.2", z)
				}
			},
		},
		{
			name: "zoom in and out",
			keys: []tea.KeyMsg{runes("+"), runes("+"), runes("-")},
			check: func(t *testing.T, m Model) {
				if z := m.Frame().Viewport.ZoomFactor; z < 1.19 || z > 1.21 {
					t.Errorf("ZoomFactor = %v, want 1.2", z)
				}
			},
		},
		{
			name: "pan right",
			keys: []tea.KeyMsg{runes("+"), runes("+"), runes("]")},
			check: func(t *testing.T, m Model) {
				if p := m.Frame().Viewport.ZoomPosition; p <= 0 {
					t.Errorf("ZoomPosition = %v, want > 0", p)
				}
			},
		},
		{
			name: "reset zoom",
			keys: []tea.KeyMsg{runes("+"), runes("+"), runes("0")},
			check: func(t *testing.T, m Model) {
				if z := m.Frame().Viewport.ZoomFactor; z > 1.001 {
					t.Errorf("ZoomFactor = %v, want 1", z)
				}
			},
		},
		{
			name: "toggle stats",
			keys: []tea.KeyMsg{runes("s")},
			check: func(t *testing.T, m Model) {
				if m.showStats {
					t.Error("stats still visible")
				}
			},
		},
		{
			name: "live without source",
			keys: []tea.KeyMsg{runes("L")},
			check: func(t *testing.T, m Model) {
				if m.chart.Mode() != engine.ModeHistory {
					t.Error("mode changed without a live source")
				}
				if m.Status() == "" {
					t.Error("expected a status message")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := loaded(t, 2000)
			for _, k := range tt.keys {
				m, _ = update(t, m, k)
			}
			tt.check(t, m)
		})
	}
}

func TestModel_PageKeys(t *testing.T) {
	m, _ := loaded(t, 25000) // 3 pages of 10080

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyLeft})
	if got := m.Frame().Viewport.PageIndex; got != 1 {
		t.Errorf("PageIndex after left = %d, want 1", got)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRight})
	if got := m.Frame().Viewport.PageIndex; got != 0 {
		t.Errorf("PageIndex after right = %d, want 0", got)
	}
}

func TestModel_Quit(t *testing.T) {
	for _, key := range []tea.KeyMsg{runes("q"), {Type: tea.KeyCtrlC}, {Type: tea.KeyEsc}} {
		t.Run(key.String(), func(t *testing.T) {
			m := newTestModel(t, Config{})
			m, cmd := update(t, m, key)
			if !m.quitting || cmd == nil {
				t.Error("expected quit")
			}
			if m.View() != "" {
				t.Error("View() should be empty after quit")
			}
		})
	}

	m := newTestModel(t, Config{})
	m, _ = update(t, m, QuitMsg{})
	if !m.quitting {
		t.Error("QuitMsg should quit")
	}
}

func TestModel_CycleProfile(t *testing.T) {
	m := newTestModel(t, Config{
		Profiles: []config.Profile{config.DefaultProfile(), config.HighResProfile()},
	})

	m, _ = update(t, m, runes("p"))
	if got := m.chart.Profile().Name; got != config.ProfileHighRes {
		t.Errorf("profile = %q, want %q", got, config.ProfileHighRes)
	}
	m, _ = update(t, m, runes("p"))
	if got := m.chart.Profile().Name; got != config.ProfileDefault {
		t.Errorf("profile = %q, want %q", got, config.ProfileDefault)
	}
}

// =============================================================================
// Tests: Live mode
// =============================================================================

func TestModel_LiveToggle(t *testing.T) {
	live := feed.New("exporter", 16, 0.01)
	stopped := false
	f := &mockFetcher{body: historyJSON(100)}
	m := newTestModel(t, Config{
		Fetcher:   f,
		StartLive: func() *feed.Feed { return live },
		StopLive:  func() { stopped = true },
	})

	m, cmd := update(t, m, runes("L"))
	if m.chart.Mode() != engine.ModeLive {
		t.Fatal("expected live mode")
	}
	if cmd != nil {
		t.Error("entering live should not fetch")
	}

	now := time.Now()
	for i := range 3 {
		live.Offer(series.Sample{
			Time:   now.Add(time.Duration(i) * time.Second),
			Values: map[string]float64{"machineSpeed": float64(500 + i)},
		})
	}
	m, _ = update(t, m, TickMsg(now.Add(3*time.Second)))
	if got := len(m.Frame().Points); got != 3 {
		t.Errorf("live points = %d, want 3", got)
	}
	if !strings.Contains(m.View(), "Buffer") {
		t.Error("live view should show the buffer readout")
	}

	m, cmd = update(t, m, runes("L"))
	if m.chart.Mode() != engine.ModeHistory {
		t.Error("expected history mode")
	}
	if !stopped {
		t.Error("StopLive not called")
	}
	if cmd == nil {
		t.Error("leaving live should refetch history")
	}
}

func TestModel_TickHook(t *testing.T) {
	var ticks int
	m := newTestModel(t, Config{OnTick: func(time.Time) { ticks++ }})
	_, cmd := update(t, m, TickMsg(time.Now()))
	if ticks != 1 {
		t.Errorf("OnTick calls = %d, want 1", ticks)
	}
	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}
}

func TestModel_HistoryLoadedHook(t *testing.T) {
	var loads int
	f := &mockFetcher{body: historyJSON(3000)}
	var m Model
	m = newTestModel(t, Config{
		Fetcher: f,
		OnHistoryLoaded: func() {
			loads++
			m.chart.SetZoom(2)
		},
	})

	m, _ = update(t, m, m.fetchCmd()())
	if loads != 1 {
		t.Fatalf("OnHistoryLoaded calls = %d, want 1", loads)
	}
	if z := m.Frame().Viewport.ZoomFactor; z < 1.99 {
		t.Errorf("ZoomFactor = %v, zoom applied in the hook should survive", z)
	}

	// Failed fetches do not fire the hook
	f.err = &source.StatusError{Code: 404, URL: "http://plant"}
	m, _ = update(t, m, m.fetchCmd()())
	if loads != 1 {
		t.Errorf("OnHistoryLoaded calls = %d after failure, want 1", loads)
	}
}

// =============================================================================
// Tests: Mouse
// =============================================================================

func TestModel_PrecisionWheelAppliedOnTick(t *testing.T) {
	m, _ := loaded(t, 2000)

	m, _ = update(t, m, tea.MouseMsg{Button: tea.MouseButtonWheelDown, Action: tea.MouseActionPress, Ctrl: true})
	if z := m.Frame().Viewport.ZoomFactor; z != 1 {
		t.Fatalf("zoom applied before tick: %v", z)
	}
	m, _ = update(t, m, TickMsg(time.Now()))
	if z := m.Frame().Viewport.ZoomFactor; z == 1 {
		t.Error("queued wheel zoom not applied on tick")
	}
}

func TestModel_MinimapDrag(t *testing.T) {
	m, _ := loaded(t, 2000)
	m, _ = update(t, m, runes("+"))
	m, _ = update(t, m, runes("+"))
	l := m.layout()

	// Off the minimap row: no drag
	m, _ = update(t, m, tea.MouseMsg{X: gutterWidth, Y: 0, Button: tea.MouseButtonLeft, Action: tea.MouseActionPress})
	if m.dragging {
		t.Fatal("drag started outside the minimap")
	}

	m, _ = update(t, m, tea.MouseMsg{X: gutterWidth + l.plotWidth - 1, Y: l.minimapRow, Button: tea.MouseButtonLeft, Action: tea.MouseActionPress})
	if !m.dragging || !m.Frame().Viewport.Dragging {
		t.Fatal("drag not started on the minimap")
	}
	right := m.Frame().Viewport.ZoomPosition

	m, _ = update(t, m, tea.MouseMsg{X: gutterWidth, Y: l.minimapRow, Action: tea.MouseActionMotion})
	if left := m.Frame().Viewport.ZoomPosition; left >= right {
		t.Errorf("ZoomPosition after drag left = %v, want < %v", left, right)
	}

	m, _ = update(t, m, tea.MouseMsg{X: gutterWidth, Y: l.minimapRow, Action: tea.MouseActionRelease})
	if m.dragging || m.Frame().Viewport.Dragging {
		t.Error("drag not released")
	}
}

// =============================================================================
// Tests: Formatting
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{90 * time.Second, "00:01:30"},
		{25*time.Hour + 5*time.Minute, "25:05:00"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{0.5, "0.50"},
		{12.34, "12.3"},
		{450, "450"},
		{-450, "-450"},
		{25000, "25.0K"},
		{3_200_000, "3.20M"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.v); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{999, "999"},
		{10080, "10.1K"},
		{2_500_000, "2.5M"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.n); got != tt.want {
			t.Errorf("formatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
