package audit

import (
	"context"
	"sync"

	"signet/internal/sentinel"
	id "signet/pkg/domain"
)

// InMemoryStore keeps chains in memory for tests and single-process
// deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	chains map[id.EnvelopeID][]Event
	byID   map[id.EnvelopeID]map[id.EventID]struct{}
}

// NewInMemoryStore constructs an empty in-memory audit store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		chains: make(map[id.EnvelopeID][]Event),
		byID:   make(map[id.EnvelopeID]map[id.EventID]struct{}),
	}
}

func (s *InMemoryStore) Append(_ context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	envelopeID := events[0].EnvelopeID
	chain := s.chains[envelopeID]
	nextSeq := int64(len(chain)) + 1
	if events[0].Sequence != nextSeq {
		return sentinel.ErrSequenceConflict
	}

	ids := s.byID[envelopeID]
	if ids == nil {
		ids = make(map[id.EventID]struct{})
		s.byID[envelopeID] = ids
	}
	for _, event := range events {
		chain = append(chain, event)
		ids[event.ID] = struct{}{}
	}
	s.chains[envelopeID] = chain
	return nil
}

func (s *InMemoryStore) Latest(_ context.Context, envelopeID id.EnvelopeID) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[envelopeID]
	if len(chain) == 0 {
		return nil, sentinel.ErrNotFound
	}
	copyEvent := chain[len(chain)-1]
	return &copyEvent, nil
}

func (s *InMemoryStore) ListByEnvelope(_ context.Context, envelopeID id.EnvelopeID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[envelopeID]
	out := make([]Event, len(chain))
	copy(out, chain)
	return out, nil
}

func (s *InMemoryStore) Exists(_ context.Context, envelopeID id.EnvelopeID, eventID id.EventID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[envelopeID][eventID]
	return ok, nil
}

// Tamper overwrites a stored event in place. Test hook for chain verification;
// never part of the Store contract.
func (s *InMemoryStore) Tamper(envelopeID id.EnvelopeID, sequence int64, mutate func(*Event)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[envelopeID]
	for i := range chain {
		if chain[i].Sequence == sequence {
			mutate(&chain[i])
			return true
		}
	}
	return false
}
