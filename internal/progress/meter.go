package progress

import (
	"sync"
	"time"
)

// bucket coalesces samples so a busy meter stays small.
const bucket = 100 * time.Millisecond

type sample struct {
	at time.Time
	n  int64
}

// Meter measures throughput over a trailing window.
type Meter struct {
	mu      sync.Mutex
	window  time.Duration
	since   time.Time
	samples []sample
	now     func() time.Time
}

// NewMeter returns a meter averaging over window. A non-positive window
// defaults to two seconds.
func NewMeter(window time.Duration) *Meter {
	if window <= 0 {
		window = 2 * time.Second
	}
	m := &Meter{window: window, now: time.Now}
	m.since = m.now()
	return m
}

// Add records n bytes at the current time. Negative values are ignored:
// discarded bytes do not count towards speed.
func (m *Meter) Add(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if k := len(m.samples); k > 0 && now.Sub(m.samples[k-1].at) < bucket {
		m.samples[k-1].n += n
		return
	}
	m.samples = append(m.samples, sample{at: now, n: n})
	m.trim(now)
}

// Rate returns bytes per second over the window, or over the time since
// the last Reset when that is shorter.
func (m *Meter) Rate() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.trim(now)

	var sum int64
	for _, s := range m.samples {
		sum += s.n
	}
	if sum == 0 {
		return 0
	}
	span := now.Sub(m.since)
	if span > m.window {
		span = m.window
	}
	if span < bucket {
		span = bucket
	}
	return int64(float64(sum) / span.Seconds())
}

// Reset drops all samples and restarts the measurement.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = m.samples[:0]
	m.since = m.now()
}

func (m *Meter) trim(now time.Time) {
	cut := now.Add(-m.window)
	i := 0
	for i < len(m.samples) && !m.samples[i].at.After(cut) {
		i++
	}
	if i > 0 {
		m.samples = append(m.samples[:0], m.samples[i:]...)
	}
}
