// Package timeutil lets the motion loop and command pacing run against a
// fake clock in tests.
package timeutil

import (
	"slices"
	"sync"
	"time"
)

// Clock is the time source of the control loops.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)           { time.Sleep(d) }

// autoYield is how long an auto-advancing Sleep really blocks, so a Stop
// racing the control loop gets scheduled.
const autoYield = 50 * time.Microsecond

// MockClock only moves when told to. Sleep records the request and returns;
// an auto-advancing clock also adds the duration to Now, which lets a
// 60 Hz routine run its full schedule in a fraction of the wall time.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	auto   bool
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func NewAutoMockClock(t time.Time) *MockClock {
	return &MockClock{now: t, auto: true}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	auto := c.auto
	if auto && d > 0 {
		c.now = c.now.Add(d)
	}
	c.mu.Unlock()
	if auto {
		time.Sleep(autoYield)
	}
}

// Sleeps returns every duration passed to Sleep, in order.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sleeps)
}
