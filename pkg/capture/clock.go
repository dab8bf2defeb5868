package capture

import (
	"sync"
	"time"
)

// Cancel stops a repeating timer. It is safe to call more than once.
type Cancel func()

// Clock schedules repeating callbacks.
type Clock interface {
	// Every calls fn each d until the returned Cancel is called.
	Every(d time.Duration, fn func()) Cancel
}

// SystemClock is a Clock backed by time.Ticker.
type SystemClock struct{}

// Every starts a ticker goroutine.
func (SystemClock) Every(d time.Duration, fn func()) Cancel {
	ticker := time.NewTicker(d)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// Cancel wins over a tick that raced with it.
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// ManualClock is a Clock driven by Advance. Callbacks run on the goroutine
// that calls Advance.
type ManualClock struct {
	mu        sync.Mutex
	now       time.Duration
	timers    []*manualTimer
	cancelled int
}

type manualTimer struct {
	period    time.Duration
	next      time.Duration
	fn        func()
	cancelled bool
}

// NewManualClock creates a clock at time zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Every registers a repeating timer.
func (c *ManualClock) Every(d time.Duration, fn func()) Cancel {
	c.mu.Lock()
	t := &manualTimer{period: d, next: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !t.cancelled {
			t.cancelled = true
			c.cancelled++
		}
	}
}

// Advance moves time forward by d, firing due timers in order.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	for {
		var due *manualTimer
		for _, t := range c.timers {
			if t.cancelled || t.next > target {
				continue
			}
			if due == nil || t.next < due.next {
				due = t
			}
		}
		if due == nil {
			break
		}
		c.now = due.next
		due.next += due.period
		fn := due.fn

		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Now returns the elapsed manual time.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Armed returns the number of live timers.
func (c *ManualClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Cancelled returns how many timers have been cancelled.
func (c *ManualClock) Cancelled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}
