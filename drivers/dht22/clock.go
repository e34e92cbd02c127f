package dht22

import "time"

// spinClock reads elapsed time through time.Since, which uses the runtime's
// monotonic reading. BusyWait polls that reading in a tight loop; keeping
// the spin on one OS thread is the caller's concern.
type spinClock struct {
	base time.Time
}

func newSpinClock() *spinClock {
	return &spinClock{base: time.Now()}
}

func (c *spinClock) Now() time.Duration { return time.Since(c.base) }

func (c *spinClock) BusyWait(d time.Duration) {
	deadline := time.Since(c.base) + d
	for time.Since(c.base) < deadline {
	}
}
