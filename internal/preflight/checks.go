// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-plant-trends/internal/config"
	"github.com/randomizedcoder/go-plant-trends/internal/source"
)

// minFileDescriptors covers the metrics server, one fetch, one scrape,
// the state lock and the log file with room to spare.
const minFileDescriptors = 64

// checkTimeout bounds each network check.
const checkTimeout = 3 * time.Second

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks for cfg.
func RunAll(ctx context.Context, cfg *config.Config) *Result {
	result := &Result{
		Checks: make([]Check, 0, 6),
		Passed: true,
	}

	result.add(checkFileDescriptors())

	switch {
	case cfg.SourceURL != "":
		result.add(checkHTTP(ctx, "history_source", cfg.SourceURL))
	case cfg.SourceFile != "":
		result.add(checkSourceFile(cfg.SourceFile))
	}
	if cfg.ExporterURL != "" {
		result.add(checkHTTP(ctx, "exporter", cfg.ExporterURL))
	}
	if cfg.MetricsAddr != "" {
		result.add(checkListen(cfg.MetricsAddr))
	}
	if cfg.StateFile != "" {
		result.add(checkStateDir(cfg.StateFile))
	}
	if cfg.TUIEnabled {
		result.add(checkTerminal(os.Stdout))
	}

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors() Check {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := int(limit.Cur)
	return Check{
		Name:     "file_descriptors",
		Required: minFileDescriptors,
		Actual:   actual,
		Passed:   actual >= minFileDescriptors,
	}
}

// checkHTTP verifies the URL is well formed and answers a GET. Any HTTP
// status below 500 counts as reachable; 5xx is a warning since fetches
// are retried.
func checkHTTP(ctx context.Context, name, rawURL string) Check {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("invalid URL %q", rawURL),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Check{Name: name, Passed: false, Message: err.Error()}
	}
	req.Header.Set("User-Agent", source.UserAgent)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("unreachable: %v", err),
		}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	return Check{
		Name:    name,
		Passed:  true,
		Warning: resp.StatusCode >= 500,
		Message: fmt.Sprintf("%s answered %s", u.Host, resp.Status),
	}
}

// checkSourceFile verifies the history file exists and is readable.
func checkSourceFile(path string) Check {
	f, err := os.Open(path)
	if err != nil {
		return Check{
			Name:    "history_source",
			Passed:  false,
			Message: err.Error(),
		}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Check{Name: "history_source", Passed: false, Message: err.Error()}
	}
	if info.IsDir() {
		return Check{Name: "history_source", Passed: false, Message: path + " is a directory"}
	}
	return Check{
		Name:    "history_source",
		Passed:  true,
		Warning: info.Size() == 0,
		Message: fmt.Sprintf("%s (%d bytes)", path, info.Size()),
	}
}

// checkListen verifies the metrics address can be bound.
func checkListen(addr string) Check {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, syscall.EADDRINUSE) {
			msg = addr + " already in use"
		}
		return Check{Name: "metrics_addr", Passed: false, Message: msg}
	}
	ln.Close()
	return Check{Name: "metrics_addr", Passed: true, Message: addr + " available"}
}

// checkStateDir verifies the state file's directory exists and is
// writable. A missing state file is fine.
func checkStateDir(path string) Check {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".plant-trends-check-*")
	if err != nil {
		return Check{
			Name:    "state_file",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%s not writable, state will not be saved", dir),
		}
	}
	tmp.Close()
	os.Remove(tmp.Name())
	return Check{Name: "state_file", Passed: true, Message: path}
}

// checkTerminal warns when the dashboard would not own a terminal.
func checkTerminal(f *os.File) Check {
	info, err := f.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return Check{
			Name:    "terminal",
			Passed:  true,
			Warning: true,
			Message: "stdout is not a terminal (use -tui=false)",
		}
	}
	return Check{Name: "terminal", Passed: true, Message: "ok"}
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	case "history_source":
		return "check -source / -file, the API must answer GET with a JSON array"
	case "exporter":
		return "check -exporter, it must serve Prometheus text exposition"
	case "metrics_addr":
		return "pick another -metrics address or -metrics '' to disable"
	default:
		return "see go-plant-trends -h"
	}
}
