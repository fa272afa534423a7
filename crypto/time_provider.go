package crypto

import "time"

// TimeProvider abstracts time operations for deterministic testing. The
// subscription controller injects one via SetTimeProvider so its
// lifecycle timestamps and GC grace period can be driven by a fake clock;
// its retry backoff sleeps on the wall clock.
// Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since the given time.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }
