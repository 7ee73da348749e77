// Package safety implements the safety orchestrator: rate limiting with a
// circuit breaker, loop detection, and resource ceilings. Every cycle and
// every outbound call is gatekept here before any side-effecting work runs.
package safety

import "time"

// Clock supplies the current time. The orchestrator owns an explicit clock
// instead of calling time.Now directly so tests can inject synthetic time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	now time.Time
}

// NewFakeClock returns a FakeClock starting at t.
func NewFakeClock(t time.Time) *FakeClock { return &FakeClock{now: t} }

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time { return c.now }

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
