package idempotency

import (
	"context"
	"sync"
	"time"

	"signet/internal/sentinel"
)

// InMemoryStore keeps reservations in memory for tests and single-process
// deployments.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record // scope + "\x00" + key
}

// NewInMemoryStore constructs an empty in-memory reservation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

func storeKey(scope, key string) string {
	return scope + "\x00" + key
}

func (s *InMemoryStore) Reserve(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey(rec.Scope, rec.Key)
	if _, ok := s.records[k]; ok {
		return sentinel.ErrDuplicate
	}
	copyRec := rec
	s.records[k] = &copyRec
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, scope, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[storeKey(scope, key)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copyRec := *rec
	return &copyRec, nil
}

func (s *InMemoryStore) Complete(_ context.Context, scope, key string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[storeKey(scope, key)]
	if !ok {
		return sentinel.ErrNotFound
	}
	rec.Result = append([]byte(nil), result...)
	rec.Completed = true
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey(scope, key)
	if _, ok := s.records[k]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.records, k)
	return nil
}

func (s *InMemoryStore) Purge(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, rec := range s.records {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.records, k)
			removed++
		}
	}
	return removed, nil
}
