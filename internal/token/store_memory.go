package token

import (
	"context"
	"sync"

	"signet/internal/sentinel"
	id "signet/pkg/domain"
)

// InMemoryStore keeps token records in memory for tests.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[id.TokenID]*Record
}

// NewInMemoryStore constructs an empty in-memory token store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.TokenID]*Record)}
}

func (s *InMemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyRec := rec
	s.records[rec.ID] = &copyRec
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, tokenID id.TokenID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copyRec := *rec
	return &copyRec, nil
}

func (s *InMemoryStore) Consume(_ context.Context, tokenID id.TokenID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if rec.Consumed {
		return sentinel.ErrAlreadyUsed
	}
	rec.Consumed = true
	return nil
}
