package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/randomizedcoder/go-plant-trends/internal/feed"
)

// =============================================================================
// Range
// =============================================================================

func TestRangeFor(t *testing.T) {
	end := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		span   time.Duration
		target int
		want   time.Duration
	}{
		{"week at 10000 points", 7 * 24 * time.Hour, 10000, 61 * time.Second}, // 60.48s rounds up
		{"hour at 10000 points", time.Hour, 10000, time.Second},                // floor at 1s
		{"day at 1440 points", 24 * time.Hour, 1440, time.Minute},
		{"no target", time.Hour, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := RangeFor(end, tt.span, tt.target)
			if r.Resolution != tt.want {
				t.Errorf("Resolution = %v, want %v", r.Resolution, tt.want)
			}
			if !r.End.Equal(end) || r.Span() != tt.span {
				t.Errorf("range = [%v, %v]", r.Start, r.End)
			}
		})
	}
}

func TestHTTPSource_RequestURL(t *testing.T) {
	s := NewHTTPSource("http://plant.local/api/trends?machine=3", time.Second)
	r := Range{
		Start:      time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC),
		Resolution: time.Minute,
	}

	got, err := s.RequestURL(r)
	if err != nil {
		t.Fatalf("RequestURL: %v", err)
	}
	want := "http://plant.local/api/trends?end=2024-06-08T00%3A00%3A00Z&machine=3&resolution=60&start=2024-06-01T00%3A00%3A00Z"
	if got != want {
		t.Errorf("RequestURL =\n  %s\nwant\n  %s", got, want)
	}

	bare, _ := s.RequestURL(Range{})
	if bare != "http://plant.local/api/trends?machine=3" {
		t.Errorf("empty range URL = %s", bare)
	}
}

// =============================================================================
// HTTP fetch
// =============================================================================

func TestHTTPSource_Fetch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("resolution")
		if ua := r.Header.Get("User-Agent"); ua != UserAgent {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"timestamp":"2024-06-01T00:00:00Z","machineSpeed":120}]`)
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, time.Second)
	body, err := s.Fetch(context.Background(), Range{Resolution: 5 * time.Second})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != `[{"timestamp":"2024-06-01T00:00:00Z","machineSpeed":120}]` {
		t.Errorf("body = %s", body)
	}
	if gotQuery != "5" {
		t.Errorf("resolution query = %q, want 5", gotQuery)
	}
	if s.Name() != srv.URL {
		t.Errorf("Name() = %q", s.Name())
	}
}

func TestHTTPSource_StatusError(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.code)
			}))
			defer srv.Close()

			_, err := NewHTTPSource(srv.URL, time.Second).Fetch(context.Background(), Range{})
			if !errors.Is(err, ErrStatus) {
				t.Fatalf("err = %v, want ErrStatus", err)
			}
			var se *StatusError
			if !errors.As(err, &se) || se.Code != tt.code {
				t.Errorf("StatusError = %+v", se)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestHTTPSource_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPSource(srv.URL, time.Second).Fetch(ctx, Range{})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Errorf("canceled fetch should not be retryable: %v", err)
	}
}

func TestHTTPSource_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewHTTPSource(addr, time.Second).Fetch(context.Background(), Range{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Errorf("connection error should be retryable: %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	timeout := &net.OpError{Op: "dial", Net: "tcp", Err: os.ErrDeadlineExceeded}
	_, readErr := os.ReadFile("/nonexistent/trends.json")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), false},
		{"net op error", timeout, true},
		{"url error", &url.Error{Op: "Get", URL: "http://plant", Err: errors.New("EOF")}, true},
		{"missing file", fmt.Errorf("read source file: %w", readErr), false},
		{"errno", syscall.ENOENT, false},
		{"permission", &fs.PathError{Op: "open", Path: "/root/x", Err: fs.ErrPermission}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// =============================================================================
// File
// =============================================================================

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trends.json")
	if err := os.WriteFile(path, []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}

	body, err := FileSource{Path: path}.Fetch(context.Background(), Range{})
	if err != nil || string(body) != "[]" {
		t.Errorf("Fetch = %q, %v", body, err)
	}

	_, err = FileSource{Path: path + ".missing"}.Fetch(context.Background(), Range{})
	if err == nil || IsRetryable(err) {
		t.Errorf("missing file err = %v, want non-retryable error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (FileSource{Path: path}).Fetch(ctx, Range{}); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled Fetch err = %v", err)
	}
}

// =============================================================================
// Backoff
// =============================================================================

func TestBackoff_Growth(t *testing.T) {
	b := NewBackoff(1, BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2,
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second, // capped
		time.Second,
	}
	for i, w := range want {
		got, ok := b.Next()
		if !ok {
			t.Fatalf("Next() #%d not ok with unlimited retries", i)
		}
		if got != w {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}
	if b.Attempts() != len(want) {
		t.Errorf("Attempts() = %d", b.Attempts())
	}

	b.Reset()
	if got := b.Calculate(); got != 100*time.Millisecond {
		t.Errorf("after Reset, Calculate() = %v", got)
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	cfg := DefaultBackoffConfig()
	cfg.MaxRetries = 0
	b := NewBackoff(42, cfg)

	for i := 0; i < 20; i++ {
		base := float64(cfg.Initial) * pow(cfg.Multiplier, i)
		if base > float64(cfg.Max) {
			base = float64(cfg.Max)
		}
		got, _ := b.Next()
		lo := time.Duration(base * (1 - cfg.JitterPct/2))
		hi := time.Duration(base * (1 + cfg.JitterPct/2))
		if got < lo || got > hi {
			t.Errorf("attempt %d: %v outside [%v, %v]", i, got, lo, hi)
		}
	}
}

func pow(x float64, n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= x
	}
	return r
}

func TestBackoff_Deterministic(t *testing.T) {
	a := NewBackoff(7, DefaultBackoffConfig())
	b := NewBackoff(7, DefaultBackoffConfig())
	for i := 0; i < 5; i++ {
		da, _ := a.Next()
		db, _ := b.Next()
		if da != db {
			t.Errorf("attempt %d: %v != %v for the same seed", i, da, db)
		}
	}
}

func TestBackoff_MaxRetries(t *testing.T) {
	cfg := DefaultBackoffConfig()
	cfg.MaxRetries = 2
	b := NewBackoff(1, cfg)

	for i := 0; i < 2; i++ {
		if _, ok := b.Next(); !ok {
			t.Fatalf("Next() #%d should be ok", i)
		}
	}
	if _, ok := b.Next(); ok {
		t.Error("Next() after MaxRetries should not be ok")
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := NewBackoff(3, DefaultBackoffConfig())
	if b.Jitter(0) != 0 {
		t.Error("Jitter(0) should be 0")
	}
	for i := 0; i < 50; i++ {
		if j := b.Jitter(time.Second); j < 0 || j >= time.Second {
			t.Fatalf("Jitter = %v outside [0, 1s)", j)
		}
	}
}

// =============================================================================
// FetchWithRetry
// =============================================================================

type flakyFetcher struct {
	failures int
	err      error
	calls    atomic.Int32
}

func (f *flakyFetcher) Name() string { return "flaky" }

func (f *flakyFetcher) Fetch(ctx context.Context, _ Range) ([]byte, error) {
	n := int(f.calls.Add(1))
	if n <= f.failures {
		return nil, f.err
	}
	return []byte("ok"), nil
}

func fastBackoff(maxRetries int) *Backoff {
	return NewBackoff(1, BackoffConfig{
		Initial:    time.Millisecond,
		Max:        2 * time.Millisecond,
		Multiplier: 2,
		MaxRetries: maxRetries,
	})
}

func TestFetchWithRetry(t *testing.T) {
	retryable := &StatusError{Code: http.StatusServiceUnavailable, URL: "x"}
	final := &StatusError{Code: http.StatusNotFound, URL: "x"}

	tests := []struct {
		name       string
		failures   int
		err        error
		maxRetries int
		wantErr    bool
		wantCalls  int32
	}{
		{"first try", 0, nil, 3, false, 1},
		{"recovers", 2, retryable, 3, false, 3},
		{"gives up", 10, retryable, 3, true, 4},
		{"non retryable", 10, final, 3, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &flakyFetcher{failures: tt.failures, err: tt.err}
			var retries int
			body, err := FetchWithRetry(context.Background(), f, Range{}, fastBackoff(tt.maxRetries),
				func(n int, delay time.Duration, err error) { retries = n })

			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(body) != "ok" {
				t.Errorf("body = %q", body)
			}
			if got := f.calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if int32(retries) != tt.wantCalls-1 {
				t.Errorf("retries reported = %d", retries)
			}
		})
	}
}

func TestFetchWithRetry_MissingFileIsFinal(t *testing.T) {
	var retries int
	_, err := FetchWithRetry(context.Background(), FileSource{Path: "/nonexistent/trends.json"}, Range{},
		fastBackoff(5), func(int, time.Duration, error) { retries++ })

	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want fs.ErrNotExist", err)
	}
	if retries != 0 {
		t.Errorf("retries = %d, want 0", retries)
	}
}

func TestFetchWithRetry_ContextCanceled(t *testing.T) {
	f := &flakyFetcher{failures: 100, err: context.DeadlineExceeded}
	b := NewBackoff(1, BackoffConfig{Initial: time.Hour, Max: time.Hour, Multiplier: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := FetchWithRetry(ctx, f, Range{}, b, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Exporter
// =============================================================================

const plantExposition = `# HELP machine_speed Line speed in m/min.
# TYPE machine_speed gauge
machine_speed 312.5
# HELP die_counter Die strokes.
# TYPE die_counter counter
die_counter 120034
# TYPE temperature_celsius gauge
temperature_celsius{zone="dryer"} 41.2
temperature_celsius{zone="hall"} 23.9
# TYPE press_latency_seconds histogram
press_latency_seconds_bucket{le="1"} 3
press_latency_seconds_bucket{le="+Inf"} 4
press_latency_seconds_sum 2.5
press_latency_seconds_count 4
# TYPE broken_gauge gauge
broken_gauge NaN
`

func exporterServer(t *testing.T, body string, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(code)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExporter_Scrape(t *testing.T) {
	srv := exporterServer(t, plantExposition, http.StatusOK)
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	e := NewExporter(srv.URL, time.Second, nil, nil)
	e.now = func() time.Time { return fixed }

	s, err := e.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if !s.Time.Equal(fixed) {
		t.Errorf("Time = %v", s.Time)
	}

	want := map[string]float64{
		"machine_speed":                      312.5,
		"die_counter":                        120034,
		`temperature_celsius{zone="dryer"}`: 41.2,
		`temperature_celsius{zone="hall"}`:  23.9,
	}
	if len(s.Values) != len(want) {
		t.Errorf("Values = %v", s.Values)
	}
	for k, v := range want {
		if s.Values[k] != v {
			t.Errorf("Values[%s] = %v, want %v", k, s.Values[k], v)
		}
	}

	st := e.Stats()
	if st.Scrapes != 1 || st.Failures != 0 || !st.Healthy() {
		t.Errorf("Stats = %+v", st)
	}
}

func TestExporter_Mapping(t *testing.T) {
	srv := exporterServer(t, plantExposition, http.StatusOK)

	e := NewExporter(srv.URL, time.Second, map[string]string{
		"machine_speed":                      "machineSpeed",
		`temperature_celsius{zone="hall"}`: "temperature",
	}, nil)

	s, err := e.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(s.Values) != 2 || s.Values["machineSpeed"] != 312.5 || s.Values["temperature"] != 23.9 {
		t.Errorf("Values = %v", s.Values)
	}
}

func TestExporter_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"status", plantExposition, http.StatusBadGateway},
		{"garbage", "machine_speed{ 12\n", http.StatusOK},
		{"nothing usable", "# TYPE x histogram\nx_bucket{le=\"+Inf\"} 1\nx_sum 1\nx_count 1\n", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := exporterServer(t, tt.body, tt.code)
			e := NewExporter(srv.URL, time.Second, nil, nil)

			if _, err := e.Scrape(context.Background()); err == nil {
				t.Fatal("expected error")
			}
			st := e.Stats()
			if st.Failures != 1 || st.Healthy() || st.LastError == "" {
				t.Errorf("Stats = %+v", st)
			}
		})
	}
}

func TestExporter_RunOffersToFeed(t *testing.T) {
	srv := exporterServer(t, plantExposition, http.StatusOK)
	e := NewExporter(srv.URL, time.Second, nil, nil)
	f := feed.New("live", 16, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, 5*time.Millisecond, f)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	got := 0
	for got < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d samples arrived", got)
		default:
			got += len(f.Drain(0))
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	<-done
}
