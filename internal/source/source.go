// Package source fetches raw trend records: ranged history over HTTP or from
// a file, and live readings scraped from a Prometheus exporter.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// ErrStatus is wrapped by StatusError for non-2xx responses.
var ErrStatus = errors.New("unexpected http status")

// StatusError carries the HTTP status of a failed fetch.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// MaxBodyBytes caps a history response.
const MaxBodyBytes = 256 << 20

// UserAgent is sent with every request.
const UserAgent = "go-plant-trends/1.0"

// Range is a history request. Resolution is the requested spacing between
// samples; zero lets the server decide.
type Range struct {
	Start      time.Time
	End        time.Time
	Resolution time.Duration
}

// RangeFor returns the range [end-span, end] with a resolution that keeps
// the server's answer near target points, rounded up to whole seconds.
func RangeFor(end time.Time, span time.Duration, target int) Range {
	r := Range{Start: end.Add(-span), End: end}
	if target > 0 && span > 0 {
		res := span / time.Duration(target)
		secs := (res + time.Second - 1) / time.Second
		r.Resolution = max(time.Second, secs*time.Second)
	}
	return r
}

// Span returns End - Start.
func (r Range) Span() time.Duration {
	return r.End.Sub(r.Start)
}

// Fetcher returns the raw JSON payload for a range.
type Fetcher interface {
	Fetch(ctx context.Context, r Range) ([]byte, error)
	Name() string
}

// =============================================================================
// HTTP
// =============================================================================

// HTTPSource fetches GET <url>?start=&end=&resolution=.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates an HTTP history source.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the base URL.
func (s *HTTPSource) Name() string {
	return s.baseURL
}

// RequestURL builds the query for r.
func (s *HTTPSource) RequestURL(r Range) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	q := u.Query()
	if !r.Start.IsZero() {
		q.Set("start", r.Start.UTC().Format(time.RFC3339))
	}
	if !r.End.IsZero() {
		q.Set("end", r.End.UTC().Format(time.RFC3339))
	}
	if r.Resolution > 0 {
		q.Set("resolution", strconv.FormatInt(int64(r.Resolution/time.Second), 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch performs the request and returns the body.
func (s *HTTPSource) Fetch(ctx context.Context, r Range) ([]byte, error) {
	reqURL, err := s.RequestURL(r)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode, URL: s.baseURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// =============================================================================
// File
// =============================================================================

// FileSource reads the whole payload from disk and ignores the range.
type FileSource struct {
	Path string
}

// Name returns the path.
func (s FileSource) Name() string {
	return s.Path
}

// Fetch reads the file.
func (s FileSource) Fetch(ctx context.Context, _ Range) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}
	return data, nil
}

// =============================================================================
// Error classification
// =============================================================================

// IsRetryable reports whether a fetch error is worth retrying: network
// errors, timeouts, 408, 429 and 5xx. Cancellation, other 4xx and local
// file errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusRequestTimeout, se.Code == http.StatusTooManyRequests:
			return true
		case se.Code >= 500:
			return true
		default:
			return false
		}
	}

	// Local file errors are final; syscall.Errno also satisfies net.Error
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return false
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
