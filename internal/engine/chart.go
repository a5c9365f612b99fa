// Package engine composes ingest, windowing, downsampling, smoothing and
// scaling into renderable frames.
//
// A Chart is the single controlling context of one trend view:
//
//	fetch bytes -> Ingest -> Resolve window -> Downsample -> Smooth -> AutoScale -> Frame
//
// Fetches themselves run elsewhere. Each is tagged with a Token from
// BeginFetch, and only the response for the latest token is applied.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/randomizedcoder/go-plant-trends/internal/autoscale"
	"github.com/randomizedcoder/go-plant-trends/internal/config"
	"github.com/randomizedcoder/go-plant-trends/internal/downsample"
	"github.com/randomizedcoder/go-plant-trends/internal/feed"
	"github.com/randomizedcoder/go-plant-trends/internal/series"
	"github.com/randomizedcoder/go-plant-trends/internal/smooth"
	"github.com/randomizedcoder/go-plant-trends/internal/stats"
	"github.com/randomizedcoder/go-plant-trends/internal/timeseries"
	"github.com/randomizedcoder/go-plant-trends/internal/viewport"
)

// Token identifies one fetch. Tokens increase monotonically per chart.
type Token uint64

// ErrStaleToken is returned when a fetch result or failure arrives for a
// token that is no longer the latest.
var ErrStaleToken = errors.New("stale fetch token")

// ErrWrongMode is returned for live operations in history mode.
var ErrWrongMode = errors.New("operation not valid in current mode")

// FetchError is a failed fetch as reported by the host.
type FetchError struct {
	Err       error
	Retryable bool
}

func (e *FetchError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("fetch failed (retrying): %v", e.Err)
	}
	return fmt.Sprintf("fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options configures a Chart.
type Options struct {
	Profile config.Profile

	// Metrics in overlay order; the first is the master.
	Metrics []autoscale.Metric

	Ingest series.IngestOptions

	// Rejects receive every record dropped at ingest.
	Rejects []series.RejectSink

	Observer Observer
	Clock    viewport.Clock
	Logger   *slog.Logger
}

// Counters are cumulative chart events.
type Counters struct {
	Fetches        int64 // applied
	FetchErrors    int64
	StaleDiscarded int64
	Rejected       int64
	LiveAppended   int64
	LiveDropped    int64 // samples with no finite value
}

// Chart owns the viewport, scales, and live buffer of one view.
// Not safe for concurrent use.
type Chart struct {
	profile  config.Profile
	ingest   series.IngestOptions
	rejects  []series.RejectSink
	observer Observer
	clock    viewport.Clock
	logger   *slog.Logger

	mode   Mode
	data   series.Series // history, clean and sorted
	keys   []string      // channels present in data
	ctrl   *viewport.Controller
	scaler *autoscale.Scaler

	ring *timeseries.RingBuffer // live mode only
	feed *feed.Feed

	token        Token
	settled      bool // latest token has been applied or failed
	fetchStarted time.Time

	frame   Frame
	lastErr error
	dirty   bool // live samples appended since the last recompute

	listeners map[int]func(config.Profile)
	nextSub   int

	counters Counters
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// New creates a chart in history mode with no data.
func New(opts Options) (*Chart, error) {
	if err := opts.Profile.Validate(); err != nil {
		return nil, err
	}
	scaler, err := autoscale.New(opts.Metrics...)
	if err != nil {
		return nil, err
	}

	c := &Chart{
		profile:   opts.Profile,
		ingest:    opts.Ingest,
		rejects:   opts.Rejects,
		observer:  opts.Observer,
		clock:     opts.Clock,
		logger:    opts.Logger,
		scaler:    scaler,
		settled:   true,
		listeners: make(map[int]func(config.Profile)),
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.clock == nil {
		c.clock = wallClock{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	c.ctrl = viewport.NewWithClock(c.profile.ViewportParams(), c.clock)
	c.recompute()
	return c, nil
}

// Mode returns the current mode.
func (c *Chart) Mode() Mode { return c.mode }

// Profile returns the active profile.
func (c *Chart) Profile() config.Profile { return c.profile }

// Len returns the number of samples behind the current mode.
func (c *Chart) Len() int {
	if c.mode == ModeLive {
		return c.ring.Len()
	}
	return len(c.data)
}

// Counters returns cumulative event counts.
func (c *Chart) Counters() Counters { return c.counters }

// Frame returns the most recently computed frame.
func (c *Chart) Frame() Frame { return c.frame }

// Data returns the full history series (nil in live mode).
func (c *Chart) Data() series.Series { return c.data }

// =============================================================================
// Fetch lifecycle
// =============================================================================

// BeginFetch issues a token for a new fetch. Any earlier in-flight fetch
// becomes stale.
func (c *Chart) BeginFetch() Token {
	c.token++
	c.settled = false
	c.fetchStarted = c.clock.Now()
	c.observer.FetchStarted(c.token)
	return c.token
}

// Token returns the latest issued token.
func (c *Chart) Token() Token {
	return c.token
}

// Pending reports whether the latest fetch is still outstanding.
func (c *Chart) Pending() bool {
	return !c.settled
}

func (c *Chart) claim(tok Token) error {
	if c.mode != ModeHistory || tok != c.token || c.settled {
		c.counters.StaleDiscarded++
		c.observer.FetchDiscarded(tok)
		c.logger.Debug("fetch_discarded", "token", uint64(tok), "latest", uint64(c.token))
		return fmt.Errorf("%w: %d (latest %d)", ErrStaleToken, tok, c.token)
	}
	c.settled = true
	return nil
}

// ApplyFetch replaces the dataset with the given records.
func (c *Chart) ApplyFetch(tok Token, records []series.Record) error {
	if err := c.claim(tok); err != nil {
		return err
	}
	sink := c.sink()
	c.load(series.Ingest(records, c.ingest, sink), sink.n)
	return nil
}

// ApplyFetchJSON replaces the dataset with a JSON payload. A malformed
// payload counts as a non-retryable failure and keeps the last frame.
func (c *Chart) ApplyFetchJSON(tok Token, data []byte) error {
	if err := c.claim(tok); err != nil {
		return err
	}
	sink := c.sink()
	s, err := series.IngestJSON(data, c.ingest, sink)
	if err != nil {
		c.fail(&FetchError{Err: err})
		return err
	}
	c.load(s, sink.n)
	return nil
}

// FetchFailed records a failed fetch. The last good frame is kept with Err
// set.
func (c *Chart) FetchFailed(tok Token, fe *FetchError) error {
	if err := c.claim(tok); err != nil {
		return err
	}
	c.fail(fe)
	return nil
}

func (c *Chart) fail(fe *FetchError) {
	c.counters.FetchErrors++
	c.lastErr = fe
	c.frame.Err = fe
	c.observer.FetchFailed(fe.Retryable)
	c.logger.Warn("fetch_failed", "error", fe.Err, "retryable", fe.Retryable)
}

func (c *Chart) load(s series.Series, rejected int) {
	c.data = s
	c.keys = s.Keys()
	c.lastErr = nil
	c.counters.Fetches++
	c.counters.Rejected += int64(rejected)

	// A refresh of the same length keeps the page and zoom
	if c.ctrl.State().FullLength != len(s) {
		c.ctrl.DatasetReplaced(len(s))
	}

	c.observer.FetchApplied(len(s), rejected, c.clock.Now().Sub(c.fetchStarted))
	c.logger.Info("history_loaded", "samples", len(s), "rejected", rejected, "channels", len(c.keys))
	c.recompute()
}

// countingSink fans rejections out and counts them.
type countingSink struct {
	sinks []series.RejectSink
	n     int
}

func (s *countingSink) Reject(index int, reason series.RejectReason) {
	s.n++
	for _, sink := range s.sinks {
		sink.Reject(index, reason)
	}
}

func (c *Chart) sink() *countingSink {
	return &countingSink{sinks: c.rejects}
}

// =============================================================================
// Viewport input
// =============================================================================

// Wheel routes a wheel event. Page steps apply now; zoom and pan are queued
// for the next Tick. Ignored in live mode.
func (c *Chart) Wheel(ev viewport.WheelEvent) viewport.WheelAction {
	if c.mode != ModeHistory {
		return viewport.WheelIgnored
	}
	a := c.ctrl.Wheel(ev)
	if a == viewport.WheelPaged {
		c.recompute()
	}
	return a
}

// PageStep moves by delta pages (positive is older).
func (c *Chart) PageStep(delta int) bool {
	return c.apply(func() bool { return c.ctrl.PageStep(delta) })
}

// ZoomStep zooms in (positive) or out (negative).
func (c *Chart) ZoomStep(steps int) bool {
	return c.apply(func() bool { return c.ctrl.ZoomStep(steps) })
}

// PanStep pans the zoomed window.
func (c *Chart) PanStep(steps int) bool {
	return c.apply(func() bool { return c.ctrl.PanStep(steps) })
}

// BeginDrag starts a minimap drag at normalized x.
func (c *Chart) BeginDrag(x float64) bool {
	return c.apply(func() bool { return c.ctrl.BeginDrag(x) })
}

// DragTo moves an active drag.
func (c *Chart) DragTo(x float64) bool {
	return c.apply(func() bool { return c.ctrl.DragTo(x) })
}

// EndDrag releases an active drag.
func (c *Chart) EndDrag() bool {
	return c.apply(func() bool { return c.ctrl.EndDrag() })
}

// SetZoom jumps to a zoom factor (used to restore persisted state).
func (c *Chart) SetZoom(z float64) bool {
	steps := int(math.Round((z - c.ctrl.State().ZoomFactor) / c.profile.ZoomStepSize))
	return c.ZoomStep(steps)
}

func (c *Chart) apply(transition func() bool) bool {
	if c.mode != ModeHistory {
		return false
	}
	if !transition() {
		return false
	}
	c.recompute()
	return true
}

// =============================================================================
// Live mode
// =============================================================================

// EnterLive switches to live mode. The history dataset and viewport are
// discarded and in-flight fetches become stale. f may be nil when samples
// arrive only through AppendLive.
func (c *Chart) EnterLive(f *feed.Feed) bool {
	if c.mode == ModeLive {
		return false
	}
	c.switchMode(ModeLive)
	c.ring = timeseries.NewRingBufferWithClock(c.profile.RingBufferCapacity, c.clock)
	c.feed = f
	if f != nil {
		f.Discard()
	}
	c.logger.Info("mode_changed", "mode", c.mode.String())
	c.recompute()
	return true
}

// ExitLive returns to history mode with no data. The host fetches history
// again.
func (c *Chart) ExitLive() bool {
	if c.mode != ModeLive {
		return false
	}
	if c.feed != nil {
		c.feed.Discard()
	}
	c.switchMode(ModeHistory)
	c.logger.Info("mode_changed", "mode", c.mode.String())
	c.recompute()
	return true
}

func (c *Chart) switchMode(m Mode) {
	c.mode = m
	c.data = nil
	c.keys = nil
	c.ring = nil
	c.feed = nil
	c.lastErr = nil
	c.ctrl.DatasetReplaced(0)
	// Invalidate whatever is in flight
	c.token++
	c.settled = true
}

// AppendLive appends samples to the ring buffer and recomputes the pinned
// live window. Non-finite values are removed; a sample left with no values
// is dropped.
func (c *Chart) AppendLive(samples ...series.Sample) (int, error) {
	if c.mode != ModeLive {
		return 0, ErrWrongMode
	}
	n := c.appendLive(samples)
	if n > 0 {
		c.recompute()
	}
	return n, nil
}

// appendLive appends without recomputing; the caller recomputes once per
// batch.
func (c *Chart) appendLive(samples []series.Sample) int {
	n := 0
	for _, s := range samples {
		clean, ok := cleanLive(s)
		if !ok {
			c.counters.LiveDropped++
			continue
		}
		c.ring.Append(clean)
		n++
	}
	if n > 0 {
		c.dirty = true
		c.counters.LiveAppended += int64(n)
		c.observer.LiveAppended(n)
	}
	return n
}

func cleanLive(s series.Sample) (series.Sample, bool) {
	if s.Time.IsZero() {
		return s, false
	}
	values := make(map[string]float64, len(s.Values))
	for k, v := range s.Values {
		if series.IsFinite(v) {
			values[k] = v
		}
	}
	if len(values) == 0 {
		return s, false
	}
	return series.Sample{Time: s.Time, Values: values}, true
}

// RingStats returns the live buffer stats (zero in history mode).
func (c *Chart) RingStats() timeseries.Stats {
	if c.ring == nil {
		return timeseries.Stats{}
	}
	return c.ring.Stats()
}

// =============================================================================
// Scheduler tick
// =============================================================================

// Tick is the re-render event. It drains the live feed and applies queued
// wheel input, then recomputes if anything changed. Reports whether the
// frame changed.
func (c *Chart) Tick(now time.Time) bool {
	if c.mode == ModeLive && c.feed != nil {
		if batch := c.feed.Drain(c.ring.Cap()); len(batch) > 0 {
			c.appendLive(batch)
		}
	}
	changed := c.dirty
	if c.ctrl.Pending() && c.ctrl.Flush() {
		changed = true
	}

	if changed {
		c.recompute()
		c.frame.Computed = now
	}
	return changed
}

// =============================================================================
// Profile and metrics
// =============================================================================

// UpdateProfile validates and applies p, recomputes, and notifies
// subscribers.
func (c *Chart) UpdateProfile(p config.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.profile = p
	c.ctrl.SetParams(p.ViewportParams())

	if c.ring != nil && c.ring.Cap() != p.RingBufferCapacity {
		old := c.ring.Snapshot()
		c.ring = timeseries.NewRingBufferWithClock(p.RingBufferCapacity, c.clock)
		for _, s := range old.Slice(len(old)-p.RingBufferCapacity, len(old)) {
			c.ring.Append(s)
		}
	}

	c.logger.Info("profile_updated", "profile", p.Name)
	c.recompute()
	for _, fn := range c.listeners {
		fn(p)
	}
	return nil
}

// Subscribe registers fn for profile updates. The returned func removes it.
func (c *Chart) Subscribe(fn func(config.Profile)) (unsubscribe func()) {
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	return func() { delete(c.listeners, id) }
}

// AddMetric overlays another metric.
func (c *Chart) AddMetric(m autoscale.Metric) error {
	if err := c.scaler.Add(m); err != nil {
		return err
	}
	c.recompute()
	return nil
}

// RemoveMetric drops a metric; removing the master promotes the next one.
func (c *Chart) RemoveMetric(key string) bool {
	if !c.scaler.Remove(key) {
		return false
	}
	c.recompute()
	return true
}

// Metrics returns the plotted keys, master first.
func (c *Chart) Metrics() []string {
	return c.scaler.Keys()
}

// =============================================================================
// Pipeline
// =============================================================================

func (c *Chart) recompute() {
	started := c.clock.Now()
	c.dirty = false

	var f Frame
	if c.mode == ModeLive {
		f = c.liveFrame()
	} else {
		f = c.historyFrame()
	}

	f.Mode = c.mode
	f.Token = c.token
	f.Channels = c.scaler.Keys()
	f.Err = c.lastErr
	f.Computed = started

	c.scaler.Recompute(f.Points)
	f.Scales = c.scaler.Scales()

	c.frame = f
	c.observer.FrameComputed(&c.frame, c.clock.Now().Sub(started))
}

func (c *Chart) historyFrame() Frame {
	f := Frame{Viewport: c.ctrl.State()}
	if len(c.data) == 0 {
		f.NoData = true
		f.Points = series.Series{}
		f.Highlight = Highlight{Left: 0, Width: 1}
		f.Stats = stats.Compute(nil, c.scaler.Keys())
		return f
	}

	w := c.ctrl.Resolve()
	window := c.data.Slice(w.Start, w.End)
	channels := c.plotted()

	res := downsample.Run(window, c.profile.DownsampleOptions(channels))
	f.Points = smooth.Smooth(res.Points, c.profile.SmoothOptions())
	f.Window = w
	f.Reduction = Reduction{
		Input:   len(window),
		Output:  len(res.Points),
		Stride:  res.Stride,
		Markers: res.Markers,
		Density: res.Density,
		Dropped: res.Dropped,
	}
	f.Stats = stats.Compute(window, c.scaler.Keys())

	start, end := viewport.PageBounds(f.Viewport)
	f.Overview = downsample.Downsample(c.data.Slice(start, end), c.profile.OverviewOptions(channels))
	left, width := c.ctrl.Highlight()
	f.Highlight = Highlight{Left: left, Width: width}

	f.NoData = len(f.Points) == 0
	return f
}

func (c *Chart) liveFrame() Frame {
	snap := c.ring.Snapshot()
	n := len(snap)
	f := Frame{
		Viewport: viewport.State{FullLength: n, PageSize: c.ring.Cap(), ZoomFactor: 1},
	}
	if n == 0 {
		f.NoData = true
		f.Points = series.Series{}
		f.Highlight = Highlight{Left: 0, Width: 1}
		f.Stats = stats.Compute(nil, c.scaler.Keys())
		return f
	}

	w := timeseries.LiveWindow(n, c.profile.LiveVisiblePoints)
	window := snap.Slice(w.Start, w.End)

	f.Window = w
	f.Points = smooth.Smooth(window, c.profile.SmoothOptions())
	f.Reduction = Reduction{Input: len(window), Output: len(window)}
	f.Stats = stats.Compute(window, c.scaler.Keys())
	f.Overview = downsample.Downsample(snap, c.profile.OverviewOptions(snap.Keys()))
	f.Highlight = Highlight{
		Left:  float64(w.Start) / float64(n),
		Width: float64(w.Len()) / float64(n),
	}
	return f
}

// plotted returns the plotted keys present in the data, or every data key
// when none of them are.
func (c *Chart) plotted() []string {
	present := make(map[string]bool, len(c.keys))
	for _, k := range c.keys {
		present[k] = true
	}
	var out []string
	for _, k := range c.scaler.Keys() {
		if present[k] {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return c.keys
	}
	return out
}
