// Package eventloop estimates scheduler responsiveness of the running process.
//
// A probe goroutine repeatedly sleeps for a short interval and records how
// much later than expected it woke up. Under a saturated scheduler, long GC
// pauses or starved Ps that excess grows.
package eventloop

import (
	"context"
	"sync"
	"time"
)

// DefaultProbeInterval is the expected gap between two probe firings.
const DefaultProbeInterval = 5 * time.Millisecond

// Reading is the result of ReadAndReset.
type Reading struct {
	Delay time.Duration
	High  time.Duration
}

// Monitor tracks the latest probe delay and the highest delay since the
// previous read.
type Monitor struct {
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	delay time.Duration
	high  time.Duration
}

// New creates a Monitor. A non-positive interval selects DefaultProbeInterval.
func New(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		interval: interval,
		now:      time.Now,
	}
}

// Interval returns the probe interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Record stores a measured delay and raises the high-water mark if needed.
func (m *Monitor) Record(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	m.mu.Lock()
	m.delay = delay
	if delay > m.high {
		m.high = delay
	}
	m.mu.Unlock()
}

// ReadAndReset returns the current delay and the highest delay recorded since
// the previous call, then resets the high-water mark to zero.
func (m *Monitor) ReadAndReset() Reading {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := Reading{Delay: m.delay, High: m.high}
	m.high = 0
	return r
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	start := m.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			fired := m.now()
			m.Record(fired.Sub(start) - m.interval)
			start = fired
			timer.Reset(m.interval)
		}
	}
}

// Millis converts a duration to fractional milliseconds for the wire format.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
