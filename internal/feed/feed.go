// Package feed carries live samples from scraper goroutines to the single
// context that owns the chart.
//
// The feed is lossy. Offer drops the sample when the buffer is full and
// counts the drop, so a scraper never blocks on a slow UI. The owner drains
// whatever is queued on each scheduler tick.
//
// Two-Layer Architecture:
//
//	Layer 1 (Producer): Offer() never blocks, drops if channel full
//	Layer 2 (Owner):    Drain() on each tick, at its own pace
package feed

import (
	"sync"
	"sync/atomic"

	"github.com/randomizedcoder/go-plant-trends/internal/series"
)

const (
	// DefaultBufferSize is the channel capacity in samples.
	DefaultBufferSize = 256

	// DefaultDropThreshold is the drop rate above which the feed is degraded.
	DefaultDropThreshold = 0.01
)

// Feed is a bounded, lossy sample channel.
type Feed struct {
	name       string
	bufferSize int

	ch     chan series.Sample
	mu     sync.RWMutex // guards closed against Offer racing Close
	closed bool

	// Feed health metrics (atomic for concurrent access)
	offered atomic.Int64
	dropped atomic.Int64
	drained atomic.Int64

	// Configurable threshold for degradation detection
	dropThreshold float64
}

// New creates a feed.
//
// Parameters:
//   - name: Source identifier for logging
//   - bufferSize: Channel buffer size (samples)
//   - dropThreshold: Fraction (0.0-1.0) above which the feed is degraded
func New(name string, bufferSize int, dropThreshold float64) *Feed {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	if dropThreshold <= 0 {
		dropThreshold = DefaultDropThreshold
	}
	return &Feed{
		name:          name,
		bufferSize:    bufferSize,
		ch:            make(chan series.Sample, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// Offer queues a sample. Returns true if queued, false if dropped
// (channel full or feed closed). Never blocks.
func (f *Feed) Offer(s series.Sample) bool {
	f.offered.Add(1)

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		f.dropped.Add(1)
		return false
	}
	select {
	case f.ch <- s:
		return true
	default:
		f.dropped.Add(1)
		return false
	}
}

// Drain returns up to limit queued samples without blocking
// (limit <= 0 means everything queued right now).
func (f *Feed) Drain(limit int) []series.Sample {
	n := len(f.ch)
	if limit > 0 && n > limit {
		n = limit
	}
	if n == 0 {
		return nil
	}

	out := make([]series.Sample, 0, n)
	for len(out) < n {
		select {
		case s, ok := <-f.ch:
			if !ok {
				f.drained.Add(int64(len(out)))
				return out
			}
			out = append(out, s)
		default:
			f.drained.Add(int64(len(out)))
			return out
		}
	}
	f.drained.Add(int64(len(out)))
	return out
}

// Discard drops everything queued.
func (f *Feed) Discard() int {
	return len(f.Drain(0))
}

// Close stops accepting samples. Safe to call multiple times.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}

// Stats returns feed health metrics.
//
// Returns:
//   - offered: Total samples offered by producers
//   - dropped: Samples dropped due to a full channel or a closed feed
//   - drained: Samples handed to the owner
func (f *Feed) Stats() (offered, dropped, drained int64) {
	return f.offered.Load(), f.dropped.Load(), f.drained.Load()
}

// DropRate returns the current drop rate as a fraction (0.0 to 1.0).
func (f *Feed) DropRate() float64 {
	offered := f.offered.Load()
	if offered == 0 {
		return 0
	}
	return float64(f.dropped.Load()) / float64(offered)
}

// IsDegraded returns true if drop rate exceeds the configured threshold.
func (f *Feed) IsDegraded() bool {
	return f.DropRate() > f.dropThreshold
}

// Name returns the source identifier.
func (f *Feed) Name() string {
	return f.name
}

// Cap returns the buffer size.
func (f *Feed) Cap() int {
	return f.bufferSize
}
