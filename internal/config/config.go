// Package config provides configuration management for go-plant-trends.
package config

import "time"

// Config holds all configuration options for one dashboard session.
type Config struct {
	// History source
	SourceURL      string        `json:"source_url"`  // GET <url>?start=&end=&resolution=
	SourceFile     string        `json:"source_file"` // JSON array on disk
	TimestampField string        `json:"timestamp_field"`
	Fields         []string      `json:"fields"` // empty = every numeric field
	HistoryRange   time.Duration `json:"history_range"`
	FetchTimeout   time.Duration `json:"fetch_timeout"`

	// Retry policy
	MaxRetries      int           `json:"max_retries"` // 0 = unlimited
	BackoffInitial  time.Duration `json:"backoff_initial"`
	BackoffMax      time.Duration `json:"backoff_max"`
	BackoffMultiply float64       `json:"backoff_multiply"`

	// Live mode
	Live          bool          `json:"live"`
	ExporterURL   string        `json:"exporter_url"` // Prometheus text exposition
	LiveInterval  time.Duration `json:"live_interval"`
	FeedBuffer    int           `json:"feed_buffer"`
	DropThreshold float64       `json:"drop_threshold"`

	// Profile
	ProfileName string   `json:"profile"`
	ProfileFile string   `json:"profile_file"`
	Metrics     []string `json:"metrics"` // overlay order, first is master

	// Dashboard
	TUIEnabled bool   `json:"tui"`
	Export     string `json:"export"` // write one Frame as JSON and exit ("-" = stdout)
	StateFile  string `json:"state_file"`
	Check      bool   `json:"-"` // run preflight checks and exit

	// Observability
	MetricsAddr string `json:"metrics_addr"`
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	LogFile     string `json:"log_file"`   // TUI mode only; empty = discard
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// History source
		TimestampField: "timestamp",
		HistoryRange:   7 * 24 * time.Hour,
		FetchTimeout:   15 * time.Second,

		// Retry policy
		MaxRetries:      5,
		BackoffInitial:  250 * time.Millisecond,
		BackoffMax:      10 * time.Second,
		BackoffMultiply: 1.7,

		// Live mode
		LiveInterval:  time.Second,
		FeedBuffer:    256,
		DropThreshold: 0.01,

		// Profile
		ProfileName: ProfileDefault,
		Metrics:     []string{"machineSpeed", "dieSpeed", "overallOEE"},

		// Dashboard
		TUIEnabled: true,

		// Observability
		MetricsAddr: "127.0.0.1:17092",
		LogFormat:   "json",
	}
}

// HasSource reports whether a history or live source is configured.
func (c *Config) HasSource() bool {
	return c.SourceURL != "" || c.SourceFile != "" || c.ExporterURL != ""
}
