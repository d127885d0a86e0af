package ratelimit

import (
	"context"
	"sync"
	"time"
)

// fixedWindow is one counter scope's state.
type fixedWindow struct {
	start time.Time
	count int
}

// InMemoryStore keeps fixed-window counters in memory. Suitable for tests and
// single-process deployments; production uses the postgres store.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
}

// NewInMemoryStore constructs an empty in-memory counter store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{windows: make(map[string]*fixedWindow)}
}

func (s *InMemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = &fixedWindow{start: now}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.start, nil
}

func (s *InMemoryStore) Purge(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if w.start.Before(cutoff) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed, nil
}
