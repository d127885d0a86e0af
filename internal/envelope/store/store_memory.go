package store

import (
	"context"
	"sync"

	"signet/internal/envelope/models"
	"signet/internal/sentinel"
	id "signet/pkg/domain"
)

// InMemoryStore keeps envelope aggregates in memory for tests. Save applies
// the same compare-and-swap semantics as the PostgreSQL store, under one
// mutex, so concurrency tests exercise real conflict behavior.
type InMemoryStore struct {
	mu        sync.RWMutex
	envelopes map[id.EnvelopeID]*models.Envelope
}

// New constructs an empty in-memory envelope store.
func New() *InMemoryStore {
	return &InMemoryStore{envelopes: make(map[id.EnvelopeID]*models.Envelope)}
}

func (s *InMemoryStore) Create(_ context.Context, envelope *models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.envelopes[envelope.ID]; ok {
		return sentinel.ErrDuplicate
	}
	clone := envelope.Clone()
	clone.Version = 1
	s.envelopes[envelope.ID] = clone
	envelope.Version = 1
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, envelopeID id.EnvelopeID) (*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	envelope, ok := s.envelopes[envelopeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return envelope.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, envelope *models.Envelope, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.envelopes[envelope.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrVersionConflict
	}
	clone := envelope.Clone()
	clone.Version = expectedVersion + 1
	s.envelopes[envelope.ID] = clone
	envelope.Version = clone.Version
	return nil
}

func (s *InMemoryStore) ListByTenant(_ context.Context, tenantID id.TenantID) ([]*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var envelopes []*models.Envelope
	for _, envelope := range s.envelopes {
		if envelope.TenantID == tenantID {
			envelopes = append(envelopes, envelope.Clone())
		}
	}
	return envelopes, nil
}
