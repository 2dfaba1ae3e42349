package core

import "time"

type Clock struct {
	start   time.Time
	last    time.Time
	elapsed time.Duration
	delta   time.Duration
}

func NewClock() *Clock {
	return &Clock{}
}

// Updates the provided clock. Should be called once per frame, before reading
// Elapsed or Delta. Has no effect on non-started clocks.
func (c *Clock) Update() {
	if c.start.IsZero() {
		return
	}
	now := time.Now()
	c.elapsed = now.Sub(c.start)
	c.delta = now.Sub(c.last)
	c.last = now
}

// Starts the provided clock. Resets elapsed time.
func (c *Clock) Start() {
	c.start = time.Now()
	c.last = c.start
	c.elapsed = 0
	c.delta = 0
}

// Stops the provided clock. Does not reset elapsed time.
func (c *Clock) Stop() {
	c.start = time.Time{}
}

func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}

// Delta is the time between the last two calls to Update.
func (c *Clock) Delta() time.Duration {
	return c.delta
}
