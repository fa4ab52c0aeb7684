// Package sequence issues the correlation numbers stamped on outgoing
// envelopes. Zero is reserved for "nothing sent yet" and is never issued.
package sequence

import "sync/atomic"

// Counter hands out increasing uint32 sequence numbers. The zero value is
// ready to use and issues 1 first. Safe for concurrent use.
type Counter struct {
	n atomic.Uint32
}

// NewCounter returns a Counter whose first Next is start+1 (or 1 if that
// would wrap to zero).
//
// Parameters:
//   - start: The value Current reports before the first Next
//
// Returns:
//   - A new Counter
func NewCounter(start uint32) *Counter {
	c := &Counter{}
	c.n.Store(start)
	return c
}

// Next advances the counter and returns the new value, skipping zero on
// wraparound.
func (c *Counter) Next() uint32 {
	for {
		old := c.n.Load()
		next := old + 1
		if next == 0 {
			next = 1
		}

		if c.n.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Current returns the most recently issued number, or the start value if
// Next was never called.
func (c *Counter) Current() uint32 {
	return c.n.Load()
}
