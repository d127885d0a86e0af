package consent

import (
	"context"
	"sync"

	"signet/internal/sentinel"
	id "signet/pkg/domain"
)

type signerKey struct {
	envelope id.EnvelopeID
	signer   id.SignerID
}

// InMemoryStore stores consent records in memory for tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[signerKey]*Record
}

// NewInMemoryStore constructs an empty in-memory consent store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[signerKey]*Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyRecord := *record
	s.records[signerKey{record.EnvelopeID, record.SignerID}] = &copyRecord
	return nil
}

func (s *InMemoryStore) FindBySigner(_ context.Context, envelopeID id.EnvelopeID, signerID id.SignerID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[signerKey{envelopeID, signerID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copyRecord := *record
	return &copyRecord, nil
}
