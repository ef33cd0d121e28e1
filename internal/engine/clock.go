package engine

import "sync/atomic"

// Clock counts scheduler rounds.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations), so a
// status reader may call Current while the scheduler calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next round number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current round number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
