package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	// Need something to plot
	if !cfg.HasSource() {
		errs = append(errs, ValidationError{
			Field:   "source",
			Message: "a history URL, -file or -exporter is required",
		})
	}

	if cfg.SourceURL != "" && cfg.SourceFile != "" {
		errs = append(errs, ValidationError{
			Field:   "source",
			Message: "-source and -file are mutually exclusive",
		})
	}

	if cfg.SourceURL != "" {
		if err := validateURL(cfg.SourceURL); err != nil {
			errs = append(errs, ValidationError{Field: "source_url", Message: err.Error()})
		}
	}

	if cfg.ExporterURL != "" {
		if err := validateURL(cfg.ExporterURL); err != nil {
			errs = append(errs, ValidationError{Field: "exporter_url", Message: err.Error()})
		}
	}

	// Live mode needs an exporter to sample
	if cfg.Live && cfg.ExporterURL == "" {
		errs = append(errs, ValidationError{
			Field:   "live",
			Message: "-live requires -exporter",
		})
	}

	if strings.TrimSpace(cfg.TimestampField) == "" {
		errs = append(errs, ValidationError{
			Field:   "timestamp_field",
			Message: "must not be empty",
		})
	}

	if cfg.HistoryRange <= 0 {
		errs = append(errs, ValidationError{Field: "history_range", Message: "must be positive"})
	}

	if cfg.FetchTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "fetch_timeout", Message: "must be positive"})
	}

	// Backoff settings
	if cfg.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "max_retries", Message: "must be >= 0"})
	}
	if cfg.BackoffInitial <= 0 {
		errs = append(errs, ValidationError{Field: "backoff_initial", Message: "must be positive"})
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		errs = append(errs, ValidationError{Field: "backoff_max", Message: "must be >= backoff_initial"})
	}
	if cfg.BackoffMultiply < 1.0 {
		errs = append(errs, ValidationError{Field: "backoff_multiply", Message: "must be >= 1.0"})
	}

	if cfg.LiveInterval <= 0 {
		errs = append(errs, ValidationError{Field: "live_interval", Message: "must be positive"})
	}
	if cfg.FeedBuffer < 1 {
		errs = append(errs, ValidationError{Field: "feed_buffer", Message: "must be at least 1"})
	}
	if cfg.DropThreshold <= 0 || cfg.DropThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "drop_threshold",
			Message: fmt.Sprintf("must be in (0, 1] (got %v)", cfg.DropThreshold),
		})
	}

	if cfg.ProfileName == "" {
		errs = append(errs, ValidationError{Field: "profile", Message: "must not be empty"})
	}

	if len(cfg.Metrics) == 0 {
		errs = append(errs, ValidationError{Field: "metrics", Message: "at least one metric is required"})
	}
	seen := make(map[string]bool, len(cfg.Metrics))
	for _, m := range cfg.Metrics {
		if seen[m] {
			errs = append(errs, ValidationError{
				Field:   "metrics",
				Message: fmt.Sprintf("duplicate metric %q", m),
			})
		}
		seen[m] = true
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	// Export is headless only
	if cfg.Export != "" && cfg.TUIEnabled {
		errs = append(errs, ValidationError{
			Field:   "export",
			Message: "-export requires -tui=false",
		})
	}

	return errors.Join(errs...)
}

// validateURL checks if the URL is valid and uses http or https.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https (got %q)", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must have a host")
	}

	return nil
}

// Resolved is the profile and catalog selected for a session.
type Resolved struct {
	Profile Profile
	Catalog Catalog
}

// Resolve loads the optional profile file, selects the named profile and
// merges the file's metric catalog over the built-in one. Both the profile
// and the catalog are validated.
func Resolve(cfg *Config) (*Resolved, error) {
	var pf *ProfileFile
	if cfg.ProfileFile != "" {
		var err error
		if pf, err = LoadProfileFile(cfg.ProfileFile); err != nil {
			return nil, err
		}
	}

	p, err := pf.Lookup(cfg.ProfileName)
	if err != nil {
		return nil, ValidationError{Field: "profile", Message: err.Error()}
	}

	catalog := DefaultCatalog()
	if pf != nil {
		catalog = catalog.Merge(pf.Metrics)
	}

	errs := catalog.Validate()
	if err := p.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Resolved{Profile: p, Catalog: catalog}, nil
}
