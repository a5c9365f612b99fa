// Package timeseries provides the fixed-capacity buffer behind live mode.
//
// Samples arrive on a fixed tick (typically 1/second) from exporter scrapes.
// The buffer keeps the newest Capacity samples and evicts the oldest on
// overflow. It also tracks arrival times so the host can show the effective
// ingest rate over rolling windows (30s, 60s).
//
// Thread-safe: Append() and Snapshot() acquire the buffer lock; the total
// appended count is atomic.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-plant-trends/internal/series"
	"github.com/randomizedcoder/go-plant-trends/internal/viewport"
)

const (
	// DefaultCapacity is the number of live samples retained.
	DefaultCapacity = 500

	// DefaultVisible is the number of newest samples shown in live mode.
	DefaultVisible = 100

	// Window durations for arrival rates
	window30s = 30 * time.Second
	window60s = 60 * time.Second
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

// realClock uses time.Now() for production.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// entry is a buffered sample with its arrival time.
type entry struct {
	arrived time.Time
	sample  series.Sample
}

// RingBuffer is a fixed-capacity FIFO of samples.
//
// Usage:
//
//	buf := NewRingBuffer(500)
//	buf.Append(sample)                 // Called per live tick
//	s := buf.Snapshot()                // Oldest first
//	w := buf.LiveWindow(100)           // Last 100 samples
type RingBuffer struct {
	// appended counts every Append since creation or Reset
	appended atomic.Uint64

	entries  []entry
	writeIdx int // Next write position once full
	capacity int
	mu       sync.RWMutex

	clock Clock
}

// Stats describes the buffer at a point in time.
type Stats struct {
	Len      int
	Cap      int
	Appended uint64
	Evicted  uint64

	// Arrival rates (samples per second)
	Rate30s float64
	Rate60s float64
}

// NewRingBuffer creates a buffer with the real clock.
// A capacity below 1 uses DefaultCapacity.
func NewRingBuffer(capacity int) *RingBuffer {
	return NewRingBufferWithClock(capacity, realClock{})
}

// NewRingBufferWithClock creates a buffer with a custom clock for testing.
func NewRingBufferWithClock(capacity int, clock Clock) *RingBuffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &RingBuffer{
		entries:  make([]entry, 0, capacity),
		capacity: capacity,
		clock:    clock,
	}
}

// Append adds a sample, evicting the oldest when full.
func (b *RingBuffer) Append(s series.Sample) {
	now := b.clock.Now()
	b.appended.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	e := entry{arrived: now, sample: s}
	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, e)
		return
	}
	b.entries[b.writeIdx] = e
	b.writeIdx = (b.writeIdx + 1) % b.capacity
}

// Snapshot returns the buffered samples, oldest first.
func (b *RingBuffer) Snapshot() series.Series {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(series.Series, 0, len(b.entries))
	b.each(func(e *entry) {
		out = append(out, e.sample)
	})
	return out
}

// Len returns the number of buffered samples.
func (b *RingBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Cap returns the capacity.
func (b *RingBuffer) Cap() int {
	return b.capacity
}

// LiveWindow returns the window over the newest k samples of a snapshot:
// [max(0, len-k), len).
func (b *RingBuffer) LiveWindow(k int) viewport.Window {
	return LiveWindow(b.Len(), k)
}

// LiveWindow pins a window to the newest k of n samples.
func LiveWindow(n, k int) viewport.Window {
	if k < 1 {
		k = DefaultVisible
	}
	return viewport.Window{Start: max(0, n-k), End: n}
}

// Reset drops every sample.
func (b *RingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.appended.Store(0)
	b.entries = b.entries[:0]
	b.writeIdx = 0
}

// Stats returns counts and arrival rates.
func (b *RingBuffer) Stats() Stats {
	now := b.clock.Now()
	appended := b.appended.Load()

	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		Len:      len(b.entries),
		Cap:      b.capacity,
		Appended: appended,
	}
	if appended > uint64(len(b.entries)) {
		st.Evicted = appended - uint64(len(b.entries))
	}
	st.Rate30s = b.rateOverWindow(now, window30s)
	st.Rate60s = b.rateOverWindow(now, window60s)
	return st
}

// rateOverWindow counts arrivals in (now-window, now] per second. When the
// buffer does not reach back that far the elapsed time since the oldest
// arrival is used instead.
// Must be called with mu held (at least RLock).
func (b *RingBuffer) rateOverWindow(now time.Time, window time.Duration) float64 {
	if len(b.entries) == 0 {
		return 0
	}
	cutoff := now.Add(-window)

	count := 0
	b.each(func(e *entry) {
		if e.arrived.After(cutoff) {
			count++
		}
	})

	elapsed := window
	if oldest := b.oldest(); oldest.arrived.After(cutoff) {
		elapsed = now.Sub(oldest.arrived)
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(count) / elapsed.Seconds()
}

// oldest returns the oldest entry.
// Must be called with mu held and the buffer non-empty.
func (b *RingBuffer) oldest() *entry {
	if len(b.entries) < b.capacity {
		// Buffer not full yet - oldest is at index 0
		return &b.entries[0]
	}
	// Buffer full - oldest is at writeIdx (next to be overwritten)
	return &b.entries[b.writeIdx]
}

// each visits entries oldest first.
// Must be called with mu held.
func (b *RingBuffer) each(fn func(e *entry)) {
	if len(b.entries) < b.capacity {
		for i := range b.entries {
			fn(&b.entries[i])
		}
		return
	}
	for i := 0; i < b.capacity; i++ {
		fn(&b.entries[(b.writeIdx+i)%b.capacity])
	}
}
