package market

import "time"

// Clock abstracts time for deterministic admission, expiry and trigger tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a test clock that returns a settable instant.
type FixedClock struct {
	Current time.Time
}

func (c *FixedClock) Now() time.Time { return c.Current }

// Advance moves the fixed clock forward.
func (c *FixedClock) Advance(d time.Duration) { c.Current = c.Current.Add(d) }
