package sim

import (
	"sync"
	"time"
)

// Clock is the time source consulted by the simulator's delivery
// scheduler. A live run uses RealClock; a deterministic test run uses
// VirtualClock and drives time forward explicitly (§4.2 "Time").
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is a thin wrapper over the time package.
type RealClock struct{}

func (RealClock) Now() time.Time                     { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// VirtualClock is a wall-clock-free time model: Now only moves when
// Advance is called, and After's returned channel fires only once Advance
// has moved the clock at or past the requested deadline. This is what
// lets delivery decisions and delivery order be reproducible under a
// fixed seed and a fixed event-submission order.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*vcWaiter
}

type vcWaiter struct {
	target time.Time
	ch     chan time.Time
}

func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *VirtualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	target := c.now.Add(d)
	if !target.After(c.now) {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, &vcWaiter{target: target, ch: ch})
	return ch
}

// Advance moves the virtual clock forward by d, firing every waiter whose
// target has been reached or passed.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.target.After(c.now) {
			w.ch <- c.now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}
