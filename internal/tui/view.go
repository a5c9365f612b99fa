package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/randomizedcoder/go-plant-trends/internal/engine"
	"github.com/randomizedcoder/go-plant-trends/internal/series"
	"github.com/randomizedcoder/go-plant-trends/internal/stats"
)

const (
	// gutterWidth is the y-axis label column plus its tick.
	gutterWidth = 9
	minPlotRows = 5
	minPlotCols = 10
)

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// =============================================================================
// Layout
// =============================================================================

// layout fixes the row of every section so mouse events can be mapped back
// onto the minimap. The dashboard is one line per row, top to bottom:
// header, info, plot rows, time axis, minimap, readout, stats, status,
// footer.
type layout struct {
	plotWidth  int
	plotHeight int
	minimapRow int
}

func (m Model) layout() layout {
	statsRows := 0
	if m.showStats {
		statsRows = len(m.frame.Channels) + 1
	}
	l := layout{
		plotWidth:  max(minPlotCols, m.width-gutterWidth-1),
		plotHeight: max(minPlotRows, m.height-7-statsRows),
	}
	l.minimapRow = 2 + l.plotHeight + 1
	return l
}

// plotX maps a terminal column onto 0..1 across the plot area.
func (l layout) plotX(col int) float64 {
	if l.plotWidth <= 1 {
		return 0
	}
	x := float64(col-gutterWidth) / float64(l.plotWidth-1)
	return math.Max(0, math.Min(1, x))
}

// =============================================================================
// Main View Rendering
// =============================================================================

// renderDashboard renders the whole screen.
func (m Model) renderDashboard() string {
	f := &m.frame
	l := m.layout()

	lines := []string{
		m.renderHeader(),
		m.renderInfo(),
	}
	lines = append(lines, renderPlot(f, l.plotWidth, l.plotHeight)...)
	lines = append(lines,
		renderTimeAxis(f, l.plotWidth),
		renderMinimap(f, l.plotWidth),
		m.renderReadout(),
	)
	if m.showStats {
		lines = append(lines, renderStatsTable(f, m.labels)...)
	}
	lines = append(lines, m.renderStatus(), m.renderFooter())

	return strings.Join(lines, "\n")
}

func (m Model) renderHeader() string {
	title := headerStyle.Render("go-plant-trends")

	var mode string
	if m.frame.Mode == engine.ModeLive {
		dropRate := 0.0
		if m.liveFeed != nil {
			dropRate = m.liveFeed.DropRate()
		}
		mode = GetFeedLabel(dropRate)
	} else {
		mode = statusInfo.Render("● History")
	}

	profile := m.chart.Profile().Name
	return fmt.Sprintf("%s %s  %s %s  %s %s  %s",
		title,
		mode,
		mutedStyle.Render("profile"), valueStyle.Render(profile),
		mutedStyle.Render("source"), valueStyle.Render(orDash(m.sourceName)),
		dimStyle.Render(formatDuration(m.Elapsed())),
	)
}

// renderInfo shows the legend: one colored marker per plotted metric.
func (m Model) renderInfo() string {
	if len(m.frame.Channels) == 0 {
		return mutedStyle.Render("no metrics")
	}
	parts := make([]string, 0, len(m.frame.Channels))
	for i, k := range m.frame.Channels {
		name := displayName(m.labels, k)
		if i == 0 {
			name = boldStyle.Render(name)
		}
		parts = append(parts, seriesStyle(i).Render("●")+" "+name)
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderReadout() string {
	f := &m.frame
	if f.Mode == engine.ModeLive {
		rs := m.chart.RingStats()
		fill := 0.0
		if rs.Cap > 0 {
			fill = float64(rs.Len) / float64(rs.Cap)
		}
		return fmt.Sprintf("%s %s  %s %s  %s",
			mutedStyle.Render("Buffer"),
			RenderProgressBar(fill, 20),
			mutedStyle.Render("Rate"),
			valueStyle.Render(formatRate(rs.Rate30s)),
			dimStyle.Render(formatNumber(int64(rs.Appended))+" appended"),
		)
	}

	readout := fmt.Sprintf("%s %s  %s %s  %s %s",
		mutedStyle.Render("Zoomed window"),
		valueStyle.Render(formatPercent(f.ZoomPercent())),
		mutedStyle.Render("Scrolling"),
		valueStyle.Render(formatPercent(f.ScrollPercent())),
		mutedStyle.Render("Page"),
		valueStyle.Render(fmt.Sprintf("%d/%d", f.Viewport.PageIndex+1, max(1, f.Viewport.TotalPages()))),
	)
	r := f.Reduction
	if r.Input > 0 {
		readout += "  " + dimStyle.Render(fmt.Sprintf("%s → %s pts, %d markers",
			formatNumber(int64(r.Input)), formatNumber(int64(r.Output)), r.Markers))
	}
	return readout
}

func (m Model) renderStatus() string {
	switch {
	case m.frame.Err != nil:
		return statusError.Render("⚠ " + m.frame.Err.Error())
	case m.status != "":
		return mutedStyle.Render(m.status)
	case m.frame.NoData && m.chart.Pending():
		return statusWarning.Render("loading…")
	case m.frame.NoData:
		return mutedStyle.Render("no data")
	default:
		return ""
	}
}

func (m Model) renderFooter() string {
	keys := "←/→ page  +/- zoom  [/] pan  0 reset  p profile  s stats  r refresh  q quit"
	if m.startLive != nil {
		keys = "L live  " + keys
	}
	footer := footerStyle.Render(keys)
	if m.metricsAddr != "" {
		footer += "  " + dimStyle.Render("metrics http://"+m.metricsAddr+"/metrics")
	}
	return footer
}

// =============================================================================
// Plot
// =============================================================================

type cell struct {
	ch     rune
	series int
}

// renderPlot draws every channel's normalized values into a height x width
// grid, master on top. Each column keeps the full vertical extent of the
// points that fall into it so spikes survive the terminal resolution.
func renderPlot(f *engine.Frame, width, height int) []string {
	grid := make([][]cell, height)
	for r := range grid {
		grid[r] = make([]cell, width)
		for c := range grid[r] {
			grid[r][c] = cell{ch: ' ', series: -1}
		}
	}
	// Midline
	mid := height / 2
	for c := range grid[mid] {
		grid[mid][c] = cell{ch: '┄', series: -2}
	}

	from, to := f.Span()
	for i := len(f.Channels) - 1; i >= 0; i-- {
		key := f.Channels[i]
		lo, hi := columnExtents(f, key, from, to, width, height)
		for c := range width {
			if lo[c] < 0 {
				continue
			}
			ch := '│'
			if lo[c] == hi[c] {
				ch = '•'
			}
			for r := lo[c]; r <= hi[c]; r++ {
				grid[r][c] = cell{ch: ch, series: i}
			}
		}
	}

	labels := yLabels(f, height)
	lines := make([]string, height)
	for r, row := range grid {
		var b strings.Builder
		tick := "│"
		if labels[r] != "" {
			tick = "┤"
		}
		b.WriteString(axisStyle.Render(fmt.Sprintf("%*s%s", gutterWidth-1, labels[r], tick)))
		for _, c := range row {
			switch c.series {
			case -1:
				b.WriteRune(c.ch)
			case -2:
				b.WriteString(gridStyle.Render(string(c.ch)))
			default:
				b.WriteString(seriesStyle(c.series).Render(string(c.ch)))
			}
		}
		lines[r] = b.String()
	}
	return lines
}

// columnExtents returns, per column, the lowest and highest grid row the
// key's line touches, or -1 for an empty column. Consecutive points are
// joined; a sample missing the key breaks the line.
func columnExtents(f *engine.Frame, key string, from, to time.Time, width, height int) (lo, hi []int) {
	lo = make([]int, width)
	hi = make([]int, width)
	for c := range lo {
		lo[c], hi[c] = -1, -1
	}
	mark := func(c, r int) {
		if lo[c] < 0 || r < lo[c] {
			lo[c] = r
		}
		if r > hi[c] {
			hi[c] = r
		}
	}

	span := to.Sub(from)
	prevCol, prevRow := -1, -1
	for j, p := range f.Points {
		v, ok := p.Values[key]
		if !ok || !series.IsFinite(v) {
			prevCol = -1
			continue
		}
		col := 0
		switch {
		case span > 0:
			col = int(math.Round(float64(p.Time.Sub(from)) / float64(span) * float64(width-1)))
		case len(f.Points) > 1:
			col = j * (width - 1) / (len(f.Points) - 1)
		}
		col = max(0, min(width-1, col))
		row := valueRow(f.Normalized(key, v), height)

		if prevCol >= 0 && col > prevCol+1 {
			// Interpolate across the skipped columns
			for c := prevCol + 1; c < col; c++ {
				t := float64(c-prevCol) / float64(col-prevCol)
				mark(c, int(math.Round(float64(prevRow)+t*float64(row-prevRow))))
			}
		}
		if prevCol >= 0 && col == prevCol+1 {
			mark(col, prevRow)
		}
		mark(col, row)
		prevCol, prevRow = col, row
	}
	return lo, hi
}

// valueRow maps a 0..100 value onto a grid row, 0 at the top.
func valueRow(norm float64, height int) int {
	r := int(math.Round((1 - norm/100) * float64(height-1)))
	return max(0, min(height-1, r))
}

// yLabels returns the master domain labels at the top, middle and bottom
// rows.
func yLabels(f *engine.Frame, height int) []string {
	labels := make([]string, height)
	if len(f.Scales) == 0 {
		return labels
	}
	d := f.Scales[0].Visual()
	if !series.IsFinite(d.Min) || !series.IsFinite(d.Max) {
		return labels
	}
	labels[0] = formatValue(d.Max)
	labels[height/2] = formatValue((d.Min + d.Max) / 2)
	labels[height-1] = formatValue(d.Min)
	return labels
}

func renderTimeAxis(f *engine.Frame, width int) string {
	from, to := f.Span()
	pad := strings.Repeat(" ", gutterWidth-1) + "└"
	if from.IsZero() {
		return axisStyle.Render(pad + strings.Repeat("─", width))
	}
	left := from.Local().Format("Jan 02 15:04")
	right := to.Local().Format("Jan 02 15:04")
	if to.Sub(from) < 24*time.Hour {
		left = from.Local().Format("15:04:05")
		right = to.Local().Format("15:04:05")
	}
	gap := width - len(left) - len(right)
	if gap < 1 {
		return axisStyle.Render(pad + left)
	}
	return axisStyle.Render(pad + left + strings.Repeat("─", gap) + right)
}

// =============================================================================
// Minimap
// =============================================================================

// renderMinimap draws the master metric of the overview as a sparkline
// with the visible window highlighted.
func renderMinimap(f *engine.Frame, width int) string {
	prefix := dimStyle.Render(fmt.Sprintf("%*s ", gutterWidth-1, "overview"))
	if len(f.Overview) == 0 || len(f.Channels) == 0 {
		return prefix + minimapStyle.Render(repeatChar('·', width))
	}

	levels := sparkline(f.Overview, f.Channels[0], width)
	hlFrom := int(math.Floor(f.Highlight.Left * float64(width)))
	hlTo := int(math.Ceil((f.Highlight.Left + f.Highlight.Width) * float64(width)))

	var b strings.Builder
	b.WriteString(prefix)
	for c, r := range levels {
		if c >= hlFrom && c < hlTo {
			b.WriteString(minimapHighlightStyle.Render(string(r)))
		} else {
			b.WriteString(minimapStyle.Render(string(r)))
		}
	}
	return b.String()
}

// sparkline buckets s into width columns, keeping each bucket's peak.
func sparkline(s series.Series, key string, width int) []rune {
	peaks := make([]float64, width)
	seen := make([]bool, width)
	lo, hi := math.Inf(1), math.Inf(-1)
	for j, p := range s {
		v, ok := p.Values[key]
		if !ok || !series.IsFinite(v) {
			continue
		}
		c := j * width / len(s)
		if !seen[c] || v > peaks[c] {
			peaks[c] = v
		}
		seen[c] = true
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	out := make([]rune, width)
	for c := range out {
		if !seen[c] {
			out[c] = ' '
			continue
		}
		level := 0
		if hi > lo {
			level = int(math.Round((peaks[c] - lo) / (hi - lo) * float64(len(sparkLevels)-1)))
		}
		out[c] = sparkLevels[level]
	}
	return out
}

// =============================================================================
// Stats
// =============================================================================

func renderStatsTable(f *engine.Frame, labels map[string]string) []string {
	header := sectionHeaderStyle.Render(fmt.Sprintf("  %-24s %10s %10s %10s %10s %10s %10s %8s",
		"Metric", "Current", "Min", "Max", "Avg", "P50", "P95", "Count"))
	lines := []string{header}

	byKey := make(map[string]stats.MetricStats, len(f.Stats))
	for _, st := range f.Stats {
		byKey[st.Key] = st
	}
	for i, k := range f.Channels {
		name := truncate(displayName(labels, k), 24)
		st, ok := byKey[k]
		if !ok || st.Empty() {
			lines = append(lines, seriesStyle(i).Render("●")+" "+
				mutedStyle.Render(fmt.Sprintf("%-24s %10s", name, "-")))
			continue
		}
		lines = append(lines, seriesStyle(i).Render("●")+" "+fmt.Sprintf("%-24s %s %s %s %s %s %s %8s",
			name,
			valueStyle.Render(fmt.Sprintf("%10s", formatValue(st.Current))),
			fmt.Sprintf("%10s", formatValue(st.Min)),
			fmt.Sprintf("%10s", formatValue(st.Max)),
			fmt.Sprintf("%10s", formatValue(st.Avg)),
			fmt.Sprintf("%10s", formatValue(st.P50)),
			fmt.Sprintf("%10s", formatValue(st.P95)),
			formatNumber(int64(st.Count)),
		))
	}
	return lines
}

// =============================================================================
// Helpers
// =============================================================================

func displayName(labels map[string]string, key string) string {
	if name, ok := labels[key]; ok && name != "" {
		return name
	}
	return key
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
