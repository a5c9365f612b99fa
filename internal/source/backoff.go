package source

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds the configuration for exponential backoff.
type BackoffConfig struct {
	Initial    time.Duration // Initial backoff delay (default: 250ms)
	Max        time.Duration // Maximum backoff delay (default: 10s)
	Multiplier float64       // Multiplier for each attempt (default: 1.7)
	JitterPct  float64       // Jitter as a fraction of delay (default: 0.4 = ±20%)
	MaxRetries int           // 0 = unlimited
}

// DefaultBackoffConfig returns sensible defaults for fetch retries.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    250 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 1.7,
		JitterPct:  0.4,
		MaxRetries: 5,
	}
}

// Backoff calculates exponential retry delays with jitter. Not safe for
// concurrent use; each retry loop owns one.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a Backoff. The seed makes jitter reproducible in tests;
// use NewBackoffFromTime otherwise.
func NewBackoff(seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// NewBackoffFromTime seeds jitter from the current time.
func NewBackoffFromTime(cfg BackoffConfig) *Backoff {
	return NewBackoff(time.Now().UnixNano(), cfg)
}

// Next returns the next delay and increments the attempt counter. ok is
// false once MaxRetries is exhausted.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.config.MaxRetries > 0 && b.attempts >= b.config.MaxRetries {
		return 0, false
	}
	delay = b.Calculate()
	b.attempts++
	return delay, true
}

// Calculate returns the current backoff delay without incrementing attempts.
func (b *Backoff) Calculate() time.Duration {
	// initial * multiplier^attempts
	delay := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(b.attempts))

	if delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	// ±(JitterPct/2) of the delay
	if b.config.JitterPct > 0 {
		jitterRange := delay * b.config.JitterPct
		delay += jitterRange*b.rng.Float64() - jitterRange/2
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Reset resets the attempt counter after a success.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the current attempt count.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Jitter returns a duration in [0, maxJitter) from b's source.
func (b *Backoff) Jitter(maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	return time.Duration(b.rng.Int63n(int64(maxJitter)))
}

// FetchWithRetry calls f.Fetch until it succeeds, fails with a
// non-retryable error, exhausts b or ctx ends. attempt is called before
// each retry sleep.
func FetchWithRetry(ctx context.Context, f Fetcher, r Range, b *Backoff, attempt func(n int, delay time.Duration, err error)) ([]byte, error) {
	for {
		body, err := f.Fetch(ctx, r)
		if err == nil {
			b.Reset()
			return body, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		delay, ok := b.Next()
		if !ok {
			return nil, fmt.Errorf("giving up after %d retries: %w", b.Attempts(), err)
		}
		if attempt != nil {
			attempt(b.Attempts(), delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
