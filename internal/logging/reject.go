package logging

import (
	"log/slog"
	"sync"

	"github.com/randomizedcoder/go-plant-trends/internal/series"
)

// MaxBufferedRejects is the number of recent rejections kept for display.
const MaxBufferedRejects = 100

// Rejection is one dropped record.
type Rejection struct {
	Index  int
	Reason series.RejectReason
}

// RejectLog implements series.RejectSink. It counts rejections per reason,
// keeps the most recent ones in a circular buffer and logs each at debug.
type RejectLog struct {
	logger *slog.Logger
	source string

	mu     sync.Mutex
	counts map[series.RejectReason]int64
	total  int64

	// Circular buffer for recent rejections
	buffer []Rejection
	bufIdx int
	filled bool
}

// NewRejectLog creates a reject log for one source.
func NewRejectLog(source string, logger *slog.Logger) *RejectLog {
	if logger == nil {
		logger = Discard()
	}
	return &RejectLog{
		logger: logger,
		source: source,
		counts: make(map[series.RejectReason]int64),
		buffer: make([]Rejection, MaxBufferedRejects),
	}
}

// Reject records one dropped record.
func (l *RejectLog) Reject(index int, reason series.RejectReason) {
	l.mu.Lock()
	l.counts[reason]++
	l.total++
	l.buffer[l.bufIdx] = Rejection{Index: index, Reason: reason}
	l.bufIdx = (l.bufIdx + 1) % MaxBufferedRejects
	if l.bufIdx == 0 {
		l.filled = true
	}
	l.mu.Unlock()

	l.logger.Debug("record_rejected",
		"source", l.source,
		"index", index,
		"reason", string(reason),
	)
}

// Flush logs a one-line summary of rejections so far at warn level, if any.
func (l *RejectLog) Flush() {
	l.mu.Lock()
	total := l.total
	counts := l.countsLocked()
	l.mu.Unlock()

	if total == 0 {
		return
	}
	attrs := []any{"source", l.source, "total", total}
	for reason, n := range counts {
		attrs = append(attrs, reason, n)
	}
	l.logger.Warn("records_rejected", attrs...)
}

// Total returns the number of rejections.
func (l *RejectLog) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Counts returns a copy of the per-reason counts, keyed by reason string.
func (l *RejectLog) Counts() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.countsLocked()
}

func (l *RejectLog) countsLocked() map[string]int64 {
	out := make(map[string]int64, len(l.counts))
	for reason, n := range l.counts {
		out[string(reason)] = n
	}
	return out
}

// Recent returns up to n of the most recent rejections, oldest first.
func (l *RejectLog) Recent(n int) []Rejection {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.bufIdx
	if l.filled {
		size = MaxBufferedRejects
	}
	if n > size {
		n = size
	}

	out := make([]Rejection, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.bufIdx - n + i + MaxBufferedRejects) % MaxBufferedRejects
		out = append(out, l.buffer[idx])
	}
	return out
}

// Reset clears counts and the buffer.
func (l *RejectLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.counts)
	l.total = 0
	l.bufIdx = 0
	l.filled = false
}
