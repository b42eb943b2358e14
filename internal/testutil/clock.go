package testutil

import (
	"sync"
	"time"
)

// Clock is a manually driven wall clock for deterministic timestamps.
type Clock struct {
	mx  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()

	return c.now
}

func (c *Clock) Advance(d time.Duration) time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()

	c.now = c.now.Add(d)

	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mx.Lock()
	c.now = t
	c.mx.Unlock()
}
