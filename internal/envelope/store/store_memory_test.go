package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signet/internal/envelope/models"
	"signet/internal/sentinel"
	id "signet/pkg/domain"
)

type MemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = New()
}

func (s *MemoryStoreSuite) newEnvelope() *models.Envelope {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	envelope, err := models.NewEnvelope(id.NewEnvelopeID(), id.NewTenantID(), "NDA", models.OrderParallel, id.NewActorID(), now)
	s.Require().NoError(err)
	envelope.Signers = []models.Signer{{
		ID: id.NewSignerID(), EnvelopeID: envelope.ID, Email: "a@example.com",
		Role: models.RoleSigner, OrderIndex: 1, Status: models.SignerPending,
	}}
	return envelope
}

func (s *MemoryStoreSuite) TestCreateAndLoad() {
	envelope := s.newEnvelope()
	s.Require().NoError(s.store.Create(s.ctx, envelope))
	s.Equal(int64(1), envelope.Version)

	loaded, err := s.store.Load(s.ctx, envelope.ID)
	s.Require().NoError(err)
	s.Equal(envelope.ID, loaded.ID)
	s.Len(loaded.Signers, 1)

	// Loads return copies.
	loaded.Status = models.StatusCancelled
	again, err := s.store.Load(s.ctx, envelope.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDraft, again.Status)
}

func (s *MemoryStoreSuite) TestCreateDuplicate() {
	envelope := s.newEnvelope()
	s.Require().NoError(s.store.Create(s.ctx, envelope))
	s.ErrorIs(s.store.Create(s.ctx, envelope), sentinel.ErrDuplicate)
}

func (s *MemoryStoreSuite) TestSaveChecksVersion() {
	envelope := s.newEnvelope()
	s.Require().NoError(s.store.Create(s.ctx, envelope))

	next := envelope.Clone()
	next.Status = models.StatusSent
	s.Require().NoError(s.store.Save(s.ctx, next, 1))
	s.Equal(int64(2), next.Version)

	// Stale writer loses.
	stale := envelope.Clone()
	stale.Status = models.StatusCancelled
	s.ErrorIs(s.store.Save(s.ctx, stale, 1), sentinel.ErrVersionConflict)

	loaded, err := s.store.Load(s.ctx, envelope.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSent, loaded.Status)
}

func (s *MemoryStoreSuite) TestConcurrentSavesExactlyOneWins() {
	envelope := s.newEnvelope()
	s.Require().NoError(s.store.Create(s.ctx, envelope))

	const writers = 8
	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := envelope.Clone()
			next.Status = models.StatusSent
			results[i] = s.store.Save(s.ctx, next, 1)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			s.ErrorIs(err, sentinel.ErrVersionConflict)
		}
	}
	s.Equal(1, wins)
}

func (s *MemoryStoreSuite) TestLoadUnknown() {
	_, err := s.store.Load(s.ctx, id.NewEnvelopeID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}
