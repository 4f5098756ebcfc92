// Package timeutil is the sweep's time source. The driver's tick, the
// elapsed time handed to the engine and the wall-clock builtin all read a
// Clock, so tests can run whole sweeps on a MockClock.
package timeutil

import (
	"sync"
	"time"
)

// Clock supplies the current time and tickers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers timestamps at a fixed interval until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

type stdTicker struct {
	t *time.Ticker
}

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// UnixSeconds returns t as fractional seconds since the Unix epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Stopwatch measures the intervals between successive laps.
type Stopwatch struct {
	mark time.Time
}

// StartStopwatch returns a stopwatch whose first lap is measured from start.
func StartStopwatch(start time.Time) *Stopwatch {
	return &Stopwatch{mark: start}
}

// Lap returns the time since the previous lap and moves the mark to now.
// A now at or before the mark returns zero and leaves the mark alone, so a
// clock that stalls or steps back never yields a negative interval.
func (s *Stopwatch) Lap(now time.Time) time.Duration {
	d := now.Sub(s.mark)
	if d <= 0 {
		return 0
	}
	s.mark = now
	return d
}

// MockClock only moves when Advance is called. Its tickers fire from
// Advance once their deadline has been reached.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*mockTicker
}

// NewMockClock returns a clock stopped at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and fires every ticker whose
// deadline is now due. Each due ticker delivers one tick stamped with the
// new time; a tick the receiver has not consumed yet is not duplicated.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	live := c.tickers[:0]
	for _, t := range c.tickers {
		if t.stopped() {
			continue
		}
		live = append(live, t)
		t.fire(now)
	}
	c.tickers = live
	c.mu.Unlock()
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		deadline: c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

type mockTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	deadline time.Time
	done     bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
}

func (t *mockTicker) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *mockTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || now.Before(t.deadline) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	t.deadline = now.Add(t.interval)
}
