// Package metrics provides Prometheus metrics for go-plant-trends.
//
// The Collector implements engine.Observer and series.RejectSink, so the
// chart and ingest report into it directly. Host-side state (feed and
// exporter counters) is pushed with RecordFeed and RecordExporter, which
// convert cumulative totals into counter deltas.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-plant-trends/internal/engine"
	"github.com/randomizedcoder/go-plant-trends/internal/series"
)

const namespace = "plant_trends"

// Collector holds the dashboard metrics.
type Collector struct {
	mu sync.Mutex

	// --- Panel 1: Session ---
	info   *prometheus.GaugeVec
	uptime prometheus.Gauge

	// --- Panel 2: Fetches ---
	fetchesTotal       *prometheus.CounterVec // result=applied|failed|retrying|stale
	fetchDuration      prometheus.Histogram
	fetchesInFlight    prometheus.Gauge
	rejectedTotal      *prometheus.CounterVec // reason
	historySamples     prometheus.Gauge
	lastSuccessSeconds prometheus.Gauge

	// --- Panel 3: Rendering ---
	frameDuration  prometheus.Histogram
	framePoints    prometheus.Gauge
	windowPoints   prometheus.Gauge
	overviewPoints prometheus.Gauge
	markersKept    prometheus.Gauge
	pageIndex      prometheus.Gauge
	totalPages     prometheus.Gauge
	zoomFactor     prometheus.Gauge
	liveMode       prometheus.Gauge

	// --- Panel 4: Live feed ---
	liveAppendedTotal prometheus.Counter
	feedDroppedTotal  *prometheus.CounterVec // feed
	feedDropRate      *prometheus.GaugeVec   // feed
	scrapesTotal      *prometheus.CounterVec // result=ok|failed
	exporterHealthy   prometheus.Gauge
	ringBufferLen     prometheus.Gauge
	ringBufferRate30s prometheus.Gauge

	startTime time.Time

	// Previous cumulative values for delta calculation
	prevFeedDropped map[string]int64
	prevScrapes     int64
	prevFailures    int64

	// For summary generation
	rejected map[string]int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Source  string
	Profile string
}

// NewCollector creates a collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the dashboard (value always 1)",
		}, []string{"version", "source", "profile"}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the dashboard started",
		}),

		fetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "History fetches by result",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time from fetch start to applied dataset",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		fetchesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetch_in_flight",
			Help:      "1 while a history fetch is outstanding",
		}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Records dropped at ingest by reason",
		}, []string{"reason"}),
		historySamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_samples",
			Help:      "Clean samples in the current history dataset",
		}),
		lastSuccessSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_fetch_success_timestamp_seconds",
			Help:      "Unix time of the last applied fetch",
		}),

		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_compute_seconds",
			Help:      "Pipeline time per frame (window, downsample, smooth, scale)",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		framePoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_points",
			Help:      "Points in the last display series",
		}),
		windowPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_points",
			Help:      "Native samples in the visible window",
		}),
		overviewPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overview_points",
			Help:      "Points in the minimap overview",
		}),
		markersKept: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downsample_markers",
			Help:      "Change markers kept by the last downsample",
		}),
		pageIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewport_page_index",
			Help:      "Current page (0 = newest)",
		}),
		totalPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewport_total_pages",
			Help:      "Pages in the current dataset",
		}),
		zoomFactor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewport_zoom_factor",
			Help:      "Current zoom factor",
		}),
		liveMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_mode",
			Help:      "1 in live mode, 0 in history mode",
		}),

		liveAppendedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_samples_appended_total",
			Help:      "Samples appended to the live ring buffer",
		}),
		feedDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_dropped_total",
			Help:      "Samples dropped because the feed was full",
		}, []string{"feed"}),
		feedDropRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_drop_rate",
			Help:      "Fraction of offered samples dropped",
		}, []string{"feed"}),
		scrapesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exporter_scrapes_total",
			Help:      "Exporter scrapes by result",
		}, []string{"result"}),
		exporterHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exporter_healthy",
			Help:      "1 if the last exporter scrape succeeded",
		}),
		ringBufferLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_buffer_samples",
			Help:      "Samples in the live ring buffer",
		}),
		ringBufferRate30s: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_buffer_rate_30s",
			Help:      "Live samples per second over the last 30s",
		}),

		startTime:       time.Now(),
		prevFeedDropped: make(map[string]int64),
		rejected:        make(map[string]int64),
	}

	registry.MustRegister(
		// Panel 1: Session
		c.info,
		c.uptime,

		// Panel 2: Fetches
		c.fetchesTotal,
		c.fetchDuration,
		c.fetchesInFlight,
		c.rejectedTotal,
		c.historySamples,
		c.lastSuccessSeconds,

		// Panel 3: Rendering
		c.frameDuration,
		c.framePoints,
		c.windowPoints,
		c.overviewPoints,
		c.markersKept,
		c.pageIndex,
		c.totalPages,
		c.zoomFactor,
		c.liveMode,

		// Panel 4: Live feed
		c.liveAppendedTotal,
		c.feedDroppedTotal,
		c.feedDropRate,
		c.scrapesTotal,
		c.exporterHealthy,
		c.ringBufferLen,
		c.ringBufferRate30s,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Source, cfg.Profile).Set(1)
	return c
}

// =============================================================================
// engine.Observer
// =============================================================================

var _ engine.Observer = (*Collector)(nil)

// FetchStarted marks a fetch in flight.
func (c *Collector) FetchStarted(engine.Token) {
	c.fetchesInFlight.Set(1)
}

// FetchApplied records a successful fetch.
func (c *Collector) FetchApplied(samples, rejected int, elapsed time.Duration) {
	c.fetchesInFlight.Set(0)
	c.fetchesTotal.WithLabelValues("applied").Inc()
	c.fetchDuration.Observe(elapsed.Seconds())
	c.historySamples.Set(float64(samples))
	c.lastSuccessSeconds.Set(float64(time.Now().Unix()))
}

// FetchDiscarded counts a response for a superseded token.
func (c *Collector) FetchDiscarded(engine.Token) {
	c.fetchesTotal.WithLabelValues("stale").Inc()
}

// FetchFailed records a failed fetch.
func (c *Collector) FetchFailed(retryable bool) {
	c.fetchesInFlight.Set(0)
	if retryable {
		c.fetchesTotal.WithLabelValues("retrying").Inc()
		return
	}
	c.fetchesTotal.WithLabelValues("failed").Inc()
}

// FrameComputed records pipeline output.
func (c *Collector) FrameComputed(f *engine.Frame, elapsed time.Duration) {
	c.frameDuration.Observe(elapsed.Seconds())
	c.framePoints.Set(float64(len(f.Points)))
	c.windowPoints.Set(float64(f.Window.Len()))
	c.overviewPoints.Set(float64(len(f.Overview)))
	c.markersKept.Set(float64(f.Reduction.Markers))
	c.pageIndex.Set(float64(f.Viewport.PageIndex))
	c.totalPages.Set(float64(f.Viewport.TotalPages()))
	c.zoomFactor.Set(f.Viewport.ZoomFactor)
	if f.Mode == engine.ModeLive {
		c.liveMode.Set(1)
	} else {
		c.liveMode.Set(0)
	}
}

// LiveAppended counts live samples.
func (c *Collector) LiveAppended(n int) {
	c.liveAppendedTotal.Add(float64(n))
}

// =============================================================================
// series.RejectSink
// =============================================================================

var _ series.RejectSink = (*Collector)(nil)

// Reject counts a dropped record by reason.
func (c *Collector) Reject(_ int, reason series.RejectReason) {
	c.rejectedTotal.WithLabelValues(string(reason)).Inc()

	c.mu.Lock()
	c.rejected[string(reason)]++
	c.mu.Unlock()
}

// =============================================================================
// Host-side updates
// =============================================================================

// FeedStats is a snapshot of one feed's cumulative counters.
type FeedStats struct {
	Name     string
	Offered  int64
	Dropped  int64
	DropRate float64
}

// RecordFeed updates feed metrics from cumulative counters.
func (c *Collector) RecordFeed(s FeedStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delta := s.Dropped - c.prevFeedDropped[s.Name]
	if delta > 0 {
		c.feedDroppedTotal.WithLabelValues(s.Name).Add(float64(delta))
	}
	c.prevFeedDropped[s.Name] = s.Dropped
	c.feedDropRate.WithLabelValues(s.Name).Set(s.DropRate)
}

// RecordExporter updates scrape counters from cumulative totals.
func (c *Collector) RecordExporter(scrapes, failures int64, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := (scrapes - failures) - (c.prevScrapes - c.prevFailures)
	failed := failures - c.prevFailures
	if ok > 0 {
		c.scrapesTotal.WithLabelValues("ok").Add(float64(ok))
	}
	if failed > 0 {
		c.scrapesTotal.WithLabelValues("failed").Add(float64(failed))
	}
	c.prevScrapes = scrapes
	c.prevFailures = failures

	if healthy {
		c.exporterHealthy.Set(1)
	} else {
		c.exporterHealthy.Set(0)
	}
}

// RecordRing updates live buffer gauges.
func (c *Collector) RecordRing(length int, rate30s float64) {
	c.ringBufferLen.Set(float64(length))
	c.ringBufferRate30s.Set(rate30s)
}

// Tick refreshes time-based gauges.
func (c *Collector) Tick() {
	c.uptime.Set(time.Since(c.startTime).Seconds())
}

// =============================================================================
// Summary
// =============================================================================

// Rejected returns ingest rejections by reason since start.
func (c *Collector) Rejected() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.rejected))
	for k, v := range c.rejected {
		out[k] = v
	}
	return out
}

// StartTime returns when the collector was created.
func (c *Collector) StartTime() time.Time {
	return c.startTime
}
