package sched

import (
	"sort"
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback. Stop cancels the callback
// if it has not fired yet and reports whether it was still pending.
type Timer interface {
	Stop() bool
}

// Scheduler schedules one-shot callbacks. Implementations run each
// callback at most once; a stopped timer never fires.
type Scheduler interface {
	// Now returns the scheduler's current time.
	Now() time.Time

	// Schedule runs fn after d. The returned Timer cancels it.
	Schedule(d time.Duration, fn func()) Timer
}

// realScheduler runs callbacks on the wall clock via time.AfterFunc.
type realScheduler struct{}

// New returns a Scheduler backed by the wall clock.
func New() Scheduler {
	return realScheduler{}
}

func (realScheduler) Now() time.Time { return time.Now() }

func (realScheduler) Schedule(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// -----------------------------------------------------------------------------
// Manual scheduler for tests
// -----------------------------------------------------------------------------

// Manual is a Scheduler driven by explicit Advance calls. Callbacks fire
// synchronously, in deadline order, from inside Advance.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	pending []*manualTimer
}

type manualTimer struct {
	s        *Manual
	id       int
	deadline time.Time
	fn       func()
}

// NewManual returns a Manual scheduler starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the simulated current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Schedule registers fn to fire once the simulated clock advances past d.
func (m *Manual) Schedule(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	t := &manualTimer{s: m, id: m.nextID, deadline: m.now.Add(d), fn: fn}
	m.pending = append(m.pending, t)
	return t
}

// Advance moves the clock forward by d and fires every timer whose
// deadline has passed, in deadline order. Callbacks may schedule new
// timers; those fire too if they fall within the advanced window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		t := m.popDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// Pending returns the number of timers not yet fired or stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// popDue removes and returns the earliest timer due at or before
// target, advancing the clock to its deadline. Returns nil when none
// are due. Ties fire in scheduling order.
func (m *Manual) popDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].deadline.Equal(m.pending[j].deadline) {
			return m.pending[i].id < m.pending[j].id
		}
		return m.pending[i].deadline.Before(m.pending[j].deadline)
	})

	if len(m.pending) == 0 || m.pending[0].deadline.After(target) {
		return nil
	}

	t := m.pending[0]
	m.pending = m.pending[1:]
	if t.deadline.After(m.now) {
		m.now = t.deadline
	}
	return t
}

// Stop cancels the timer; reports whether it was still pending.
func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for i, p := range t.s.pending {
		if p.id == t.id {
			t.s.pending = append(t.s.pending[:i], t.s.pending[i+1:]...)
			return true
		}
	}
	return false
}
