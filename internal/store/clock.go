package store

import (
	"sync"
	"time"
)

// MonotonicClock hands out strictly increasing timestamps at a fixed resolution.
// Adapters use it for Message.CreatedAt so two messages never share an ordering key.
type MonotonicClock struct {
	mu         sync.Mutex
	last       time.Time
	resolution time.Duration
	now        func() time.Time
}

// NewMonotonicClock returns a clock truncating to resolution (at least 1ns).
func NewMonotonicClock(resolution time.Duration) *MonotonicClock {
	if resolution <= 0 {
		resolution = time.Nanosecond
	}
	return &MonotonicClock{resolution: resolution, now: time.Now}
}

// Now returns the current UTC time, bumped past the previous result if needed.
func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(c.resolution)
	if !t.After(c.last) {
		t = c.last.Add(c.resolution)
	}
	c.last = t
	return t
}
