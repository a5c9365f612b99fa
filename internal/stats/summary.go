package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SummaryConfig holds everything shown in the exit summary.
type SummaryConfig struct {
	// Duration is the total session duration
	Duration time.Duration

	// Source describes where history came from (URL or file)
	Source string

	// Profile is the active profile name
	Profile string

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// Samples is the clean sample count of the last dataset
	Samples int

	// Fetch outcomes
	Fetches        int64
	FetchErrors    int64
	StaleDiscarded int64

	// Rejected counts ingest rejections by reason
	Rejected map[string]int64

	// Live mode feed counters
	LiveAppended uint64
	LiveDropped  uint64

	// Window is the per-metric stats of the last rendered window
	Window []MetricStats
}

const (
	rule    = "═══════════════════════════════════════════════════════════════════════════════\n"
	divider = "───────────────────────────────────────────────────────────────────────────────\n"
)

// FormatSummary formats the session summary printed at exit.
func FormatSummary(cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(rule)
	b.WriteString("                        go-plant-trends Session Summary\n")
	b.WriteString(rule + "\n")

	fmt.Fprintf(&b, "Session Duration:       %s\n", FormatDuration(cfg.Duration))
	if cfg.Source != "" {
		fmt.Fprintf(&b, "Source:                 %s\n", cfg.Source)
	}
	if cfg.Profile != "" {
		fmt.Fprintf(&b, "Profile:                %s\n", cfg.Profile)
	}
	fmt.Fprintf(&b, "Samples Loaded:         %s\n\n", FormatNumber(int64(cfg.Samples)))

	// Fetches
	if cfg.Fetches > 0 || cfg.FetchErrors > 0 {
		section(&b, "Fetches")
		fmt.Fprintf(&b, "  Completed:            %d\n", cfg.Fetches)
		fmt.Fprintf(&b, "  Failed:               %d\n", cfg.FetchErrors)
		if cfg.StaleDiscarded > 0 {
			fmt.Fprintf(&b, "  Stale (discarded):    %d\n", cfg.StaleDiscarded)
		}
		b.WriteString("\n")
	}

	// Ingest rejections
	if len(cfg.Rejected) > 0 {
		section(&b, "Rejected Records")

		// Sort reasons for consistent output
		reasons := make([]string, 0, len(cfg.Rejected))
		for r := range cfg.Rejected {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)

		for _, r := range reasons {
			fmt.Fprintf(&b, "  %-22s %s\n", r+":", FormatNumber(cfg.Rejected[r]))
		}
		b.WriteString("\n")
	}

	// Live feed
	if cfg.LiveAppended > 0 || cfg.LiveDropped > 0 {
		section(&b, "Live Feed")
		fmt.Fprintf(&b, "  Samples Appended:     %s\n", FormatNumber(int64(cfg.LiveAppended)))
		fmt.Fprintf(&b, "  Samples Dropped:      %s\n", FormatNumber(int64(cfg.LiveDropped)))
		b.WriteString("\n")
	}

	// Window statistics
	if len(cfg.Window) > 0 {
		section(&b, "Visible Window")
		b.WriteString(FormatStatsTable(cfg.Window))
		b.WriteString("\n")
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(rule)
	return b.String()
}

// FormatStatsTable renders per-metric stats as an aligned table.
func FormatStatsTable(ms []MetricStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  %-18s %10s %10s %10s %10s %10s %10s\n", "Metric", "Min", "Max", "Avg", "P95", "Current", "Points")
	b.WriteString("  " + strings.Repeat("─", 84) + "\n")
	for _, m := range ms {
		if m.Empty() {
			fmt.Fprintf(&b, "  %-18s %10s %10s %10s %10s %10s %10d\n", m.Key, "-", "-", "-", "-", "-", 0)
			continue
		}
		fmt.Fprintf(&b, "  %-18s %10s %10s %10s %10s %10s %10s\n",
			m.Key,
			FormatValue(m.Min),
			FormatValue(m.Max),
			FormatValue(m.Avg),
			FormatValue(m.P95),
			FormatValue(m.Current),
			FormatNumber(int64(m.Count)),
		)
	}
	return b.String()
}

func section(b *strings.Builder, title string) {
	b.WriteString(divider)
	pad := (79 - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(divider + "\n")
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}

// FormatValue formats a reading with precision suited to its magnitude.
func FormatValue(v float64) string {
	a := v
	if a < 0 {
		a = -a
	}
	switch {
	case a >= 100_000:
		return fmt.Sprintf("%.3g", v)
	case a >= 100:
		return fmt.Sprintf("%.0f", v)
	case a >= 1:
		return fmt.Sprintf("%.1f", v)
	case a == 0:
		return "0"
	default:
		return fmt.Sprintf("%.3f", v)
	}
}
