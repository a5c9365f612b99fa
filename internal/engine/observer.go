package engine

import "time"

// Observer receives chart events. Calls happen on the chart's owning
// goroutine and must not block.
type Observer interface {
	FetchStarted(tok Token)
	FetchApplied(samples, rejected int, elapsed time.Duration)
	FetchDiscarded(tok Token)
	FetchFailed(retryable bool)
	FrameComputed(f *Frame, elapsed time.Duration)
	LiveAppended(n int)
}

// nopObserver discards events.
type nopObserver struct{}

func (nopObserver) FetchStarted(Token) {}
func (nopObserver) FetchApplied(int, int, time.Duration) {}
func (nopObserver) FetchDiscarded(Token) {}
func (nopObserver) FetchFailed(bool) {}
func (nopObserver) FrameComputed(*Frame, time.Duration) {}
func (nopObserver) LiveAppended(int) {}
