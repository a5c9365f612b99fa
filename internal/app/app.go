// Package app wires the sources, chart, metrics server and renderer into one
// dashboard session.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-plant-trends/internal/autoscale"
	"github.com/randomizedcoder/go-plant-trends/internal/config"
	"github.com/randomizedcoder/go-plant-trends/internal/engine"
	"github.com/randomizedcoder/go-plant-trends/internal/export"
	"github.com/randomizedcoder/go-plant-trends/internal/feed"
	"github.com/randomizedcoder/go-plant-trends/internal/logging"
	"github.com/randomizedcoder/go-plant-trends/internal/metrics"
	"github.com/randomizedcoder/go-plant-trends/internal/series"
	"github.com/randomizedcoder/go-plant-trends/internal/source"
	"github.com/randomizedcoder/go-plant-trends/internal/state"
	"github.com/randomizedcoder/go-plant-trends/internal/stats"
	"github.com/randomizedcoder/go-plant-trends/internal/tui"
)

const (
	// headlessTick is the scheduler cadence when no dashboard is running.
	headlessTick = 200 * time.Millisecond

	shutdownTimeout = 10 * time.Second
	stateTimeout    = 2 * time.Second
)

// Headless runs fail with these when the needed source is missing.
var (
	ErrNoHistory  = errors.New("no history source configured")
	ErrNoExporter = errors.New("no exporter configured")
)

// App coordinates one dashboard session.
type App struct {
	config  *config.Config
	logger  *slog.Logger
	version string
	out     io.Writer // exports to "-" and the summary
	errOut  io.Writer // the summary when the export owns out

	resolved *config.Resolved
	labels   map[string]string

	chart     *engine.Chart
	collector *metrics.Collector
	registry  *prometheus.Registry
	server    *metrics.Server
	ready     *readyObserver
	rejects   *logging.RejectLog

	fetcher  source.Fetcher
	exporter *source.Exporter
	store    *state.Store

	// Live sampling, owned by the controlling loop
	liveFeed   *feed.Feed
	liveCancel context.CancelFunc
	liveDone   chan struct{}
	ctx        context.Context

	// Restored zoom, applied once the first history fetch lands
	pendingZoom float64
	restoreLive bool

	startTime time.Time
}

// New builds a session from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	resolved, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:   cfg,
		logger:   logger,
		version:  version,
		out:      os.Stdout,
		errOut:   os.Stderr,
		resolved: resolved,
		labels:   make(map[string]string),
		registry: prometheus.NewRegistry(),
		ctx:      context.Background(),
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	switch {
	case cfg.SourceURL != "":
		a.fetcher = source.NewHTTPSource(cfg.SourceURL, cfg.FetchTimeout)
	case cfg.SourceFile != "":
		a.fetcher = source.FileSource{Path: cfg.SourceFile}
	}
	if cfg.ExporterURL != "" {
		a.exporter = source.NewExporter(cfg.ExporterURL, cfg.FetchTimeout, nil, logger)
	}
	if cfg.StateFile != "" {
		a.store = state.NewStore(cfg.StateFile)
	}

	a.collector = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version: version,
		Source:  a.sourceName(),
		Profile: resolved.Profile.Name,
	}, a.registry)
	a.ready = &readyObserver{Collector: a.collector}
	a.rejects = logging.NewRejectLog(a.sourceName(), logger)

	catalog := resolved.Catalog.Resolve(cfg.Metrics)
	scales := make([]autoscale.Metric, 0, len(catalog))
	for _, m := range catalog {
		scales = append(scales, m.Scale())
		a.labels[m.Key] = m.DisplayName()
	}

	a.chart, err = engine.New(engine.Options{
		Profile: resolved.Profile,
		Metrics: scales,
		Ingest: series.IngestOptions{
			TimestampField: cfg.TimestampField,
			Fields:         cfg.Fields,
		},
		Rejects:  []series.RejectSink{a.rejects, a.collector},
		Observer: a.ready,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create chart: %w", err)
	}

	if cfg.MetricsAddr != "" {
		a.server = metrics.NewServer(cfg.MetricsAddr, a.registry, a.ready.Ready, logger)
	}

	return a, nil
}

// Run executes the session. It blocks until the dashboard quits, a
// headless run completes, or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.startTime = time.Now()

	// Start metrics server
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.ctx = ctx

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	a.restoreState(ctx)

	var runErr error
	if a.config.TUIEnabled {
		runErr = a.runDashboard(ctx, sigCh)
	} else {
		go func() {
			select {
			case sig := <-sigCh:
				a.logger.Info("received_signal", "signal", sig.String())
				cancel()
			case <-ctx.Done():
			}
		}()
		runErr = a.runHeadless(ctx)
	}

	a.shutdown()

	// Print exit summary
	w := a.out
	if a.config.Export == "-" {
		w = a.errOut
	}
	fmt.Fprint(w, a.summary())

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// =============================================================================
// Dashboard
// =============================================================================

func (a *App) runDashboard(ctx context.Context, sigCh <-chan os.Signal) error {
	if a.config.Live || a.restoreLive {
		a.chart.EnterLive(a.startLive())
	}

	model := tui.New(tui.Config{
		Chart:           a.chart,
		Fetcher:         a.fetcher,
		HistoryRange:    a.config.HistoryRange,
		Backoff:         source.NewBackoffFromTime(a.backoffConfig()),
		StartLive:       a.liveStarter(),
		StopLive:        a.stopLive,
		LiveFeed:        a.liveFeed,
		Profiles:        a.profiles(),
		Labels:          a.labels,
		SourceName:      a.sourceName(),
		MetricsAddr:     a.serverAddr(),
		OnTick:          a.onTick,
		OnHistoryLoaded: a.applyPendingZoom,
	})

	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	go func() {
		select {
		case sig := <-sigCh:
			a.logger.Info("received_signal", "signal", sig.String())
			tui.SendQuit(p)
		case <-ctx.Done():
		}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// =============================================================================
// Headless
// =============================================================================

func (a *App) runHeadless(ctx context.Context) error {
	if a.config.Live || a.restoreLive {
		return a.runHeadlessLive(ctx)
	}
	if a.fetcher == nil {
		return ErrNoHistory
	}

	if err := a.fetchHistory(ctx); err != nil {
		return err
	}
	a.applyPendingZoom()

	frame := a.chart.Frame()
	a.logger.Info("frame_ready",
		"points", len(frame.Points),
		"window_start", frame.Window.Start,
		"window_end", frame.Window.End,
		"markers", frame.Reduction.Markers,
	)

	if a.config.Export != "" {
		return a.writeExport(&frame)
	}
	fmt.Fprint(a.out, stats.FormatStatsTable(frame.Stats))
	return nil
}

// fetchHistory fetches the configured range with retries and applies it.
func (a *App) fetchHistory(ctx context.Context) error {
	tok := a.chart.BeginFetch()
	r := source.RangeFor(time.Now(), a.config.HistoryRange, a.chart.Profile().TargetPointCount)
	b := source.NewBackoffFromTime(a.backoffConfig())

	body, err := source.FetchWithRetry(ctx, a.fetcher, r, b, func(n int, delay time.Duration, err error) {
		a.collector.FetchFailed(true)
		a.logger.Warn("fetch_retry", "attempt", n, "delay", delay.String(), "error", err)
	})
	if err != nil {
		_ = a.chart.FetchFailed(tok, &engine.FetchError{Err: err, Retryable: source.IsRetryable(err)})
		return fmt.Errorf("fetch history from %s: %w", a.fetcher.Name(), err)
	}
	if err := a.chart.ApplyFetchJSON(tok, body); err != nil {
		return fmt.Errorf("apply history: %w", err)
	}
	return nil
}

// runHeadlessLive samples until ctx ends, then exports the last frame when
// asked to.
func (a *App) runHeadlessLive(ctx context.Context) error {
	if a.exporter == nil {
		return ErrNoExporter
	}
	a.chart.EnterLive(a.startLive())

	ticker := time.NewTicker(headlessTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if a.config.Export != "" {
				frame := a.chart.Frame()
				return a.writeExport(&frame)
			}
			return ctx.Err()
		case now := <-ticker.C:
			a.chart.Tick(now)
			a.onTick(now)
		}
	}
}

func (a *App) writeExport(f *engine.Frame) error {
	opts := export.Options{Indent: true, Normalized: true, Overview: true}
	if a.config.Export == "-" {
		return export.Write(a.out, f, opts)
	}

	file, err := os.Create(a.config.Export)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	if err := export.Write(file, f, opts); err != nil {
		file.Close()
		return fmt.Errorf("write export: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close export: %w", err)
	}
	a.logger.Info("frame_exported", "path", a.config.Export)
	return nil
}

// =============================================================================
// Live sampling
// =============================================================================

func (a *App) liveStarter() func() *feed.Feed {
	if a.exporter == nil {
		return nil
	}
	return a.startLive
}

// startLive starts the exporter scrape loop and returns its feed. The first
// scrape is delayed by a random fraction of the interval so several
// dashboards on one exporter do not scrape in lockstep.
func (a *App) startLive() *feed.Feed {
	a.stopLive()

	f := feed.New("exporter", a.config.FeedBuffer, a.config.DropThreshold)
	ctx, cancel := context.WithCancel(a.ctx)
	done := make(chan struct{})

	jitter := source.NewBackoffFromTime(a.backoffConfig()).Jitter(a.config.LiveInterval)
	go func() {
		defer close(done)
		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		a.exporter.Run(ctx, a.config.LiveInterval, f)
	}()

	a.liveFeed, a.liveCancel, a.liveDone = f, cancel, done
	a.logger.Info("live_started", "exporter", a.exporter.Name(), "interval", a.config.LiveInterval.String())
	return f
}

// stopLive stops the scrape loop, if running, and closes its feed.
func (a *App) stopLive() {
	if a.liveCancel == nil {
		return
	}
	a.liveCancel()
	<-a.liveDone
	a.liveFeed.Close()
	a.liveCancel, a.liveDone = nil, nil
	a.logger.Info("live_stopped")
}

// onTick publishes host-side gauges. It runs on the controlling loop.
func (a *App) onTick(time.Time) {
	rs := a.chart.RingStats()
	a.collector.RecordRing(rs.Len, rs.Rate30s)

	if a.liveFeed != nil {
		offered, dropped, _ := a.liveFeed.Stats()
		a.collector.RecordFeed(metrics.FeedStats{
			Name:     a.liveFeed.Name(),
			Offered:  offered,
			Dropped:  dropped,
			DropRate: a.liveFeed.DropRate(),
		})
	}
	if a.exporter != nil {
		st := a.exporter.Stats()
		a.collector.RecordExporter(st.Scrapes, st.Failures, st.Healthy())
	}
	a.collector.Tick()
}

// =============================================================================
// State
// =============================================================================

// restoreState applies the saved profile and queues the saved zoom. An
// explicit -profile wins over the saved one.
func (a *App) restoreState(ctx context.Context) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, stateTimeout)
	defer cancel()

	snap, err := a.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, state.ErrNoState) {
			a.logger.Warn("state_load_failed", "path", a.store.Path(), "error", err)
		}
		return
	}

	if a.config.ProfileName == config.ProfileDefault && snap.Profile != "" && snap.Profile != a.chart.Profile().Name {
		if p, err := config.LookupPreset(snap.Profile); err == nil {
			if err := a.chart.UpdateProfile(p); err != nil {
				a.logger.Warn("state_profile_rejected", "profile", snap.Profile, "error", err)
			}
		}
	}
	a.pendingZoom = snap.ZoomFactor
	a.restoreLive = snap.Live && a.exporter != nil
	a.logger.Info("state_restored", "profile", a.chart.Profile().Name, "zoom", snap.ZoomFactor)
}

// applyPendingZoom applies the restored zoom once, after the first
// history load.
func (a *App) applyPendingZoom() {
	if a.pendingZoom > 1 {
		a.chart.SetZoom(a.pendingZoom)
	}
	a.pendingZoom = 0
}

func (a *App) saveState() {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stateTimeout)
	defer cancel()

	frame := a.chart.Frame()
	snap := state.Snapshot{
		Profile:    a.chart.Profile().Name,
		ZoomFactor: max(1, frame.Viewport.ZoomFactor),
		PageSize:   a.chart.Profile().PageSize,
		Metrics:    a.chart.Metrics(),
		Live:       a.chart.Mode() == engine.ModeLive,
	}
	if err := a.store.Save(ctx, snap); err != nil {
		a.logger.Warn("state_save_failed", "path", a.store.Path(), "error", err)
	}
}

// =============================================================================
// Shutdown
// =============================================================================

func (a *App) shutdown() {
	a.saveState()
	a.stopLive()
	a.rejects.Flush()

	// Graceful shutdown with timeout
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}
}

func (a *App) summary() string {
	c := a.chart.Counters()
	frame := a.chart.Frame()
	return stats.FormatSummary(stats.SummaryConfig{
		Duration:       time.Since(a.startTime),
		Source:         a.sourceName(),
		Profile:        a.chart.Profile().Name,
		MetricsAddr:    a.serverAddr(),
		Samples:        a.chart.Len(),
		Fetches:        c.Fetches,
		FetchErrors:    c.FetchErrors,
		StaleDiscarded: c.StaleDiscarded,
		Rejected:       a.rejects.Counts(),
		LiveAppended:   uint64(c.LiveAppended),
		LiveDropped:    uint64(c.LiveDropped),
		Window:         frame.Stats,
	})
}

// =============================================================================
// Helpers
// =============================================================================

func (a *App) backoffConfig() source.BackoffConfig {
	b := source.DefaultBackoffConfig()
	b.Initial = a.config.BackoffInitial
	b.Max = a.config.BackoffMax
	b.Multiplier = a.config.BackoffMultiply
	b.MaxRetries = a.config.MaxRetries
	return b
}

// profiles returns the presets cycled by the dashboard, starting with the
// resolved profile when it is not a preset.
func (a *App) profiles() []config.Profile {
	var out []config.Profile
	if _, err := config.LookupPreset(a.resolved.Profile.Name); err != nil {
		out = append(out, a.resolved.Profile)
	}
	for _, name := range config.PresetNames() {
		p, _ := config.LookupPreset(name)
		out = append(out, p)
	}
	return out
}

func (a *App) sourceName() string {
	switch {
	case a.fetcher != nil:
		return a.fetcher.Name()
	case a.exporter != nil:
		return a.exporter.Name()
	default:
		return ""
	}
}

func (a *App) serverAddr() string {
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// Chart returns the session chart.
func (a *App) Chart() *engine.Chart {
	return a.chart
}

// Registry returns the session metrics registry.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// =============================================================================
// Readiness
// =============================================================================

// readyObserver tracks whether the chart has data, for /ready.
type readyObserver struct {
	*metrics.Collector
	loaded atomic.Bool
}

func (o *readyObserver) FetchApplied(samples, rejected int, elapsed time.Duration) {
	o.Collector.FetchApplied(samples, rejected, elapsed)
	o.loaded.Store(samples > 0)
}

func (o *readyObserver) LiveAppended(n int) {
	o.Collector.LiveAppended(n)
	o.loaded.Store(true)
}

// Ready reports whether the dashboard has anything to show.
func (o *readyObserver) Ready() error {
	if !o.loaded.Load() {
		return errors.New("no data loaded")
	}
	return nil
}
