package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/randomizedcoder/go-plant-trends/internal/feed"
	"github.com/randomizedcoder/go-plant-trends/internal/series"
)

// Exporter samples the latest plant readings from a Prometheus text
// endpoint. Each gauge, counter or untyped series becomes one channel.
type Exporter struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	// mapping renames exposition series keys to channel keys. When
	// non-empty, only mapped series are kept.
	mapping map[string]string

	scrapes  atomic.Int64
	failures atomic.Int64
	lastErr  atomic.Value // string
}

// NewExporter creates a live sampler.
func NewExporter(url string, timeout time.Duration, mapping map[string]string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Exporter{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
		mapping:    mapping,
	}
	e.lastErr.Store("")
	return e
}

// Name returns the exporter URL.
func (e *Exporter) Name() string {
	return e.url
}

// Scrape fetches one reading, timestamped with the scrape time.
func (e *Exporter) Scrape(ctx context.Context) (series.Sample, error) {
	e.scrapes.Add(1)
	s, err := e.scrape(ctx)
	if err != nil {
		e.failures.Add(1)
		e.lastErr.Store(err.Error())
		return series.Sample{}, err
	}
	e.lastErr.Store("")
	return s, nil
}

func (e *Exporter) scrape(ctx context.Context) (series.Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		return series.Sample{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return series.Sample{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return series.Sample{}, &StatusError{Code: resp.StatusCode, URL: e.url}
	}

	families, err := decodeFamilies(resp.Body)
	if err != nil {
		return series.Sample{}, err
	}

	values := e.extract(families)
	if len(values) == 0 {
		return series.Sample{}, fmt.Errorf("%s: no usable series", e.url)
	}
	return series.Sample{Time: e.now(), Values: values}, nil
}

// decodeFamilies parses Prometheus text format.
func decodeFamilies(r io.Reader) ([]*dto.MetricFamily, error) {
	decoder := expfmt.NewDecoder(r, expfmt.FmtText)
	var out []*dto.MetricFamily
	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		out = append(out, &mf)
	}
	return out, nil
}

// extract flattens families into channel values.
func (e *Exporter) extract(families []*dto.MetricFamily) map[string]float64 {
	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v, ok := metricValue(mf.GetType(), m)
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			key := SeriesKey(mf.GetName(), m.GetLabel())
			if len(e.mapping) > 0 {
				mapped, ok := e.mapping[key]
				if !ok {
					continue
				}
				key = mapped
			}
			values[key] = v
		}
	}
	return values
}

func metricValue(t dto.MetricType, m *dto.Metric) (float64, bool) {
	switch t {
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue(), true
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue(), true
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue(), true
	default:
		return 0, false
	}
}

// SeriesKey returns name or name{a="x",b="y"} with labels sorted.
func SeriesKey(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

// Run scrapes every interval and offers each reading to f until ctx is
// done. Failed scrapes are logged and skipped; the feed never blocks.
func (e *Exporter) Run(ctx context.Context, interval time.Duration, f *feed.Feed) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial scrape
	e.runOnce(ctx, f)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runOnce(ctx, f)
		}
	}
}

func (e *Exporter) runOnce(ctx context.Context, f *feed.Feed) {
	s, err := e.Scrape(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Debug("exporter_scrape_error", "url", e.url, "error", err)
		}
		return
	}
	if !f.Offer(s) {
		e.logger.Debug("live_sample_dropped", "feed", f.Name())
	}
}

// ExporterStats is a snapshot of scrape health.
type ExporterStats struct {
	Scrapes   int64
	Failures  int64
	LastError string
}

// Healthy reports whether the last scrape succeeded.
func (s ExporterStats) Healthy() bool {
	return s.Scrapes > 0 && s.LastError == ""
}

// Stats returns scrape counters.
func (e *Exporter) Stats() ExporterStats {
	return ExporterStats{
		Scrapes:   e.scrapes.Load(),
		Failures:  e.failures.Load(),
		LastError: e.lastErr.Load().(string),
	}
}
