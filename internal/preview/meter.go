package preview

import (
	"sync"
	"time"
)

// Meter counts processed frames per wall-clock second. The reported rate is
// the count of the last completed second, not a running estimate.
type Meter struct {
	mu     sync.Mutex
	now    func() time.Time
	start  time.Time
	count  int
	last   int
	frames uint64
}

// NewMeter creates a meter on the system clock.
func NewMeter() *Meter {
	return &Meter{now: time.Now}
}

// Tick records one processed frame and returns the current rate.
func (m *Meter) Tick() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.roll(m.now())
	m.count++
	m.frames++
	return m.last
}

// FPS returns the count of the last completed second. It drops to 0 once a
// whole second passes without frames.
func (m *Meter) FPS() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.roll(m.now())
	return m.last
}

// roll closes every window that ended before now. Windows are aligned to
// whole seconds from the first frame.
func (m *Meter) roll(now time.Time) {
	if m.start.IsZero() {
		m.start = now
		return
	}
	elapsed := now.Sub(m.start)
	if elapsed < time.Second {
		return
	}

	whole := elapsed / time.Second
	if whole == 1 {
		m.last = m.count
	} else {
		m.last = 0
	}
	m.count = 0
	m.start = m.start.Add(whole * time.Second)
}

// Frames returns the total number of frames ticked.
func (m *Meter) Frames() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}
