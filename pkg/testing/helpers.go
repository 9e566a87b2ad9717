package testing

import (
	"math"
	"time"
)

// FixedClock returns a clock function frozen at t, advanced with Advance
type FixedClock struct {
	t time.Time
}

// NewFixedClock creates a clock frozen at t
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now returns the frozen time
func (c *FixedClock) Now() time.Time { return c.t }

// Advance moves the clock forward
func (c *FixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// AlmostEqual compares floats at the precision the engine rounds to
func AlmostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}
