package testutil

import (
	"sync"
	"time"
)

// DefaultBase is the first instant a DeterministicClock returns when no base
// is given.
var DefaultBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a wall-clock stand-in for tests.
//
// Each call to Now returns the base time plus one step per previous call,
// so created/updated timestamps are reproducible across runs and can be
// written into golden files.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	base  time.Time
	step  time.Duration
	ticks int64
}

// NewDeterministicClock creates a clock starting at base and advancing by
// step on every call. A zero base uses DefaultBase; a zero step uses one
// second.
func NewDeterministicClock(base time.Time, step time.Duration) *DeterministicClock {
	if base.IsZero() {
		base = DefaultBase
	}
	if step == 0 {
		step = time.Second
	}
	return &DeterministicClock{base: base, step: step}
}

// Now returns the next instant. It has the signature of time.Now so it can
// be passed wherever a time source is expected.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.ticks) * c.step)
	c.ticks++
	return t
}

// Current returns how many instants have been handed out.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock to its base.
//
// Used for test reuse. After Reset(), the next call to Now() returns the
// base again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
