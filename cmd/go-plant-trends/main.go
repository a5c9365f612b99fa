// Package main provides the go-plant-trends CLI entry point.
//
// go-plant-trends renders factory time-series history and live exporter
// samples as a terminal dashboard, or exports one computed frame as JSON.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/randomizedcoder/go-plant-trends/internal/app"
	"github.com/randomizedcoder/go-plant-trends/internal/config"
	"github.com/randomizedcoder/go-plant-trends/internal/logging"
	"github.com/randomizedcoder/go-plant-trends/internal/preflight"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-plant-trends
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-plant-trends %s\n", version)
			return 0
		}
	}

	// Parse command-line flags
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	// Handle -check mode
	if cfg.Check {
		result := preflight.RunAll(context.Background(), cfg)
		preflight.PrintResults(os.Stdout, result)
		if !result.Passed {
			return 1
		}
		return 0
	}

	// Initialize logger
	// The dashboard owns the terminal, so logs go to -log-file or nowhere
	var logger *slog.Logger
	if cfg.TUIEnabled {
		l, closer, err := logging.NewDashboardLogger(cfg.LogFile, cfg.LogFormat, cfg.Verbose)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			return 1
		}
		defer closer.Close()
		logger = l
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	// Log startup
	logger.Info("starting",
		"version", version,
		"source_url", cfg.SourceURL,
		"source_file", cfg.SourceFile,
		"exporter_url", cfg.ExporterURL,
		"profile", cfg.ProfileName,
		"metrics", strings.Join(cfg.Metrics, ","),
		"live", cfg.Live,
		"metrics_addr", cfg.MetricsAddr,
	)

	// Print startup banner
	if !cfg.TUIEnabled && cfg.Export != "-" {
		printBanner(cfg)
	}

	a, err := app.New(cfg, logger, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	if err := a.Run(context.Background()); err != nil {
		logger.Error("session_failed", "error", err)
		return 1
	}

	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                         go-plant-trends                           ║")
	fmt.Println("║        Factory Trend Windowing and Downsampling Dashboard         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	switch {
	case cfg.SourceURL != "":
		fmt.Printf("  Source:      %s\n", cfg.SourceURL)
	case cfg.SourceFile != "":
		fmt.Printf("  Source:      %s\n", cfg.SourceFile)
	}
	if cfg.ExporterURL != "" {
		fmt.Printf("  Exporter:    %s (every %s)\n", cfg.ExporterURL, cfg.LiveInterval)
	}
	fmt.Printf("  Range:       %s\n", cfg.HistoryRange)
	fmt.Printf("  Profile:     %s\n", cfg.ProfileName)
	fmt.Printf("  Metrics:     %s\n", strings.Join(cfg.Metrics, ", "))
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Prometheus:  http://%s/metrics\n", cfg.MetricsAddr)
	}
	if cfg.Export != "" {
		fmt.Printf("  Export:      %s\n", cfg.Export)
	}
	fmt.Println()
	if cfg.Live {
		fmt.Println("Press Ctrl+C to stop.")
		fmt.Println()
	}
}
