package platform

import "time"

// Clock is the monotonic time source the core consumes for timeouts,
// TTLs, and retention windows. Production wiring uses SystemClock;
// tests substitute a fake to make retention/TTL behavior deterministic.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the real wall-clock implementation.
type SystemClock struct{}

func (SystemClock) Now() time.Time                   { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
