package ratestore

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start time.Time
	size  time.Duration
	count int
}

// Memory is an in-process Counters implementation. Windows are tracked per
// key under a single mutex; stale windows are swept opportunistically so the
// map does not grow without bound under churning keys.
type Memory struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewMemory returns an empty in-process counter store.
func NewMemory() *Memory {
	return &Memory{
		windows:   make(map[string]*window),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (m *Memory) Increment(_ context.Context, key string, windowSize time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) > windowSize {
		w = &window{start: now, size: windowSize}
		m.windows[key] = w
	}
	w.count++

	m.maybeSweep(now)
	return w.count, nil
}

// Get returns the count for key's current window, or zero when the window
// has lapsed or never started.
func (m *Memory) Get(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || m.now().Sub(w.start) > w.size {
		return 0, nil
	}
	return w.count, nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.windows, key)
	return nil
}

// maybeSweep drops windows that ended more than one window size ago. Called
// with the mutex held, at most once every 5 minutes.
func (m *Memory) maybeSweep(now time.Time) {
	if now.Sub(m.lastSweep) < 5*time.Minute {
		return
	}
	m.lastSweep = now

	for key, w := range m.windows {
		if now.Sub(w.start) > 2*w.size {
			delete(m.windows, key)
		}
	}
}
