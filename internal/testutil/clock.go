package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first time returned by a clock created with a zero
// start.
var DefaultEpoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// DeterministicClock is a wall clock for tests that advances by a fixed
// step on every call to Now.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	calls int64
}

// NewDeterministicClock creates a clock whose first Now returns start
// (DefaultEpoch if zero). Each later call is step further.
func NewDeterministicClock(start time.Time, step time.Duration) *DeterministicClock {
	if start.IsZero() {
		start = DefaultEpoch
	}
	return &DeterministicClock{start: start.UTC(), step: step}
}

// Now returns the next time. It has the signature of time.Now so it can
// be passed wherever a func() time.Time is expected.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Current returns the time the last Now returned, or the start time if
// Now was never called.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == 0 {
		return c.start
	}
	return c.start.Add(time.Duration(c.calls-1) * c.step)
}

// Reset rewinds the clock so the next Now returns the start time again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
