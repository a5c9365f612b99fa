package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// stringList is a repeatable, comma-splitting flag (-metric a -metric b,c).
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// ParseFlags parses command-line flags and returns a Config.
func ParseFlags() (*Config, error) {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := DefaultConfig()
	var fields, metrics stringList

	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, `go-plant-trends - factory trend dashboard with peak-preserving downsampling

Usage:
  go-plant-trends [flags] [SOURCE_URL]

History Source:
`)
		printFlagCategory(fs, []string{"source", "file", "timestamp-field", "field", "range", "fetch-timeout"})

		fmt.Fprintf(out, "\nRetry Policy:\n")
		printFlagCategory(fs, []string{"retries", "backoff-initial", "backoff-max", "backoff-multiply"})

		fmt.Fprintf(out, "\nLive Mode:\n")
		printFlagCategory(fs, []string{"live", "exporter", "live-interval", "feed-buffer"})

		fmt.Fprintf(out, "\nProfile:\n")
		printFlagCategory(fs, []string{"profile", "profile-file", "metric"})

		fmt.Fprintf(out, "\nDashboard:\n")
		printFlagCategory(fs, []string{"tui", "export", "state-file", "check"})

		fmt.Fprintf(out, "\nObservability:\n")
		printFlagCategory(fs, []string{"metrics", "v", "log-format", "log-file"})

		fmt.Fprintf(out, `
Profiles:
  %s (or any name defined in -profile-file)

Examples:
  # Last week of history from the plant API
  go-plant-trends http://plant.local/api/trends

  # High resolution, custom overlay order
  go-plant-trends -profile high-res -metric machineSpeed,temperature http://plant.local/api/trends

  # Live 1s sampling from a node exporter style endpoint
  go-plant-trends -live -exporter http://10.0.0.5:9100/metrics

  # Check sources, ports and state file before a long session
  go-plant-trends -check -state-file ~/.plant-trends.yaml http://plant.local/api/trends

  # Headless export of the current frame
  go-plant-trends -tui=false -file trends.json -export frame.json

`, strings.Join(PresetNames(), ", "))
	}

	// History source
	fs.StringVar(&cfg.SourceURL, "source", cfg.SourceURL, "History API URL (also accepted as positional argument)")
	fs.StringVar(&cfg.SourceFile, "file", cfg.SourceFile, "Read history records from a JSON file")
	fs.StringVar(&cfg.TimestampField, "timestamp-field", cfg.TimestampField, "Record field holding the timestamp")
	fs.Var(&fields, "field", "Numeric field to keep (repeatable, comma separated; default: all)")
	fs.DurationVar(&cfg.HistoryRange, "range", cfg.HistoryRange, "History range requested from the source")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "Timeout per history fetch or scrape")

	// Retry policy
	fs.IntVar(&cfg.MaxRetries, "retries", cfg.MaxRetries, "Max retries per failed fetch (0 = unlimited)")
	fs.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "Initial retry backoff")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Maximum retry backoff")
	fs.Float64Var(&cfg.BackoffMultiply, "backoff-multiply", cfg.BackoffMultiply, "Backoff multiplier per attempt")

	// Live mode
	fs.BoolVar(&cfg.Live, "live", cfg.Live, "Start in live mode")
	fs.StringVar(&cfg.ExporterURL, "exporter", cfg.ExporterURL, "Prometheus exporter URL sampled in live mode")
	fs.DurationVar(&cfg.LiveInterval, "live-interval", cfg.LiveInterval, "Live sampling interval")
	fs.IntVar(&cfg.FeedBuffer, "feed-buffer", cfg.FeedBuffer, "Live samples buffered between ticks")
	// Hidden advanced flag
	fs.Float64Var(&cfg.DropThreshold, "feed-drop-threshold", cfg.DropThreshold, "")

	// Profile
	fs.StringVar(&cfg.ProfileName, "profile", cfg.ProfileName, "Tuning profile name")
	fs.StringVar(&cfg.ProfileFile, "profile-file", cfg.ProfileFile, "YAML file with extra profiles and metric catalog")
	fs.Var(&metrics, "metric", "Metric to plot, first is the master (repeatable, comma separated)")

	// Dashboard
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable terminal dashboard (use -tui=false for headless)")
	fs.StringVar(&cfg.Export, "export", cfg.Export, `Write the rendered frame as JSON and exit ("-" = stdout)`)
	fs.StringVar(&cfg.StateFile, "state-file", cfg.StateFile, "Persist profile and zoom between sessions")
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Run preflight checks against the configured sources and exit")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file while the dashboard is running")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if len(fields) > 0 {
		cfg.Fields = fields
	}
	if len(metrics) > 0 {
		cfg.Metrics = metrics
	}

	// Positional argument: history URL
	if rest := fs.Args(); len(rest) >= 1 && cfg.SourceURL == "" {
		cfg.SourceURL = rest[0]
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, names []string) {
	out := fs.Output()
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(out, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(out, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(out)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "number"
	}

	return "string"
}
