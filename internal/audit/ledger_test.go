package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "signet/pkg/domain"
)

type LedgerSuite struct {
	suite.Suite
	store      *InMemoryStore
	ledger     *Ledger
	envelopeID id.EnvelopeID
	now        time.Time
}

func (s *LedgerSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ledger = NewLedger(s.store)
	s.envelopeID = id.NewEnvelopeID()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) event(t EventType, offset time.Duration) Event {
	return Event{
		ID:        id.NewEventID(),
		Type:      t,
		Actor:     Actor{ID: "owner-1", Kind: "owner"},
		Timestamp: s.now.Add(offset),
		Metadata:  map[string]any{"note": string(t)},
	}
}

func (s *LedgerSuite) TestAppendAssignsGapFreeSequences() {
	first, err := s.ledger.Append(context.Background(), s.envelopeID, []Event{
		s.event(EventEnvelopeSent, 0),
		s.event(EventSignerInvited, 0),
	})
	s.Require().NoError(err)
	s.Require().Len(first, 2)
	s.Equal(int64(1), first[0].Sequence)
	s.Equal(int64(2), first[1].Sequence)
	s.Equal(GenesisHash, first[0].PrevHash)
	s.Equal(first[0].Hash, first[1].PrevHash)

	second, err := s.ledger.Append(context.Background(), s.envelopeID, []Event{
		s.event(EventSignerSigned, time.Minute),
	})
	s.Require().NoError(err)
	s.Require().Len(second, 1)
	s.Equal(int64(3), second[0].Sequence)
	s.Equal(first[1].Hash, second[0].PrevHash)
}

func (s *LedgerSuite) TestVerifyAcceptsIntactChain() {
	_, err := s.ledger.Append(context.Background(), s.envelopeID, []Event{
		s.event(EventEnvelopeSent, 0),
		s.event(EventSignerSigned, time.Minute),
		s.event(EventEnvelopeCompleted, 2*time.Minute),
	})
	s.Require().NoError(err)

	ok, badSeq, err := s.ledger.Verify(context.Background(), s.envelopeID)
	s.Require().NoError(err)
	s.True(ok)
	s.Zero(badSeq)
}

func (s *LedgerSuite) TestVerifyEmptyChain() {
	ok, _, err := s.ledger.Verify(context.Background(), s.envelopeID)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *LedgerSuite) TestVerifyDetectsPayloadTampering() {
	_, err := s.ledger.Append(context.Background(), s.envelopeID, []Event{
		s.event(EventEnvelopeSent, 0),
		s.event(EventSignerSigned, time.Minute),
		s.event(EventEnvelopeCompleted, 2*time.Minute),
	})
	s.Require().NoError(err)

	s.Require().True(s.store.Tamper(s.envelopeID, 2, func(e *Event) {
		e.Metadata = map[string]any{"note": "forged"}
	}))

	ok, badSeq, err := s.ledger.Verify(context.Background(), s.envelopeID)
	s.Require().NoError(err)
	s.False(ok)
	s.Equal(int64(2), badSeq)
}

func (s *LedgerSuite) TestVerifyDetectsRelinkedChain() {
	events, err := s.ledger.Append(context.Background(), s.envelopeID, []Event{
		s.event(EventEnvelopeSent, 0),
		s.event(EventSignerSigned, time.Minute),
	})
	s.Require().NoError(err)

	// Recompute event 2's hash over forged content. The self-hash checks out
	// but its link to event 1 no longer does.
	s.Require().True(s.store.Tamper(s.envelopeID, 2, func(e *Event) {
		e.PrevHash = GenesisHash
	}))
	_ = events

	ok, badSeq, err := s.ledger.Verify(context.Background(), s.envelopeID)
	s.Require().NoError(err)
	s.False(ok)
	s.Equal(int64(2), badSeq)
}

func (s *LedgerSuite) TestVerifySurvivesTimestampPrecisionLoss() {
	// Postgres stores occurred_at with microsecond precision; the chain must
	// verify against what comes back, not what went in.
	event := s.event(EventEnvelopeSent, 0)
	event.Timestamp = s.now.Add(123456789 * time.Nanosecond)
	_, err := s.ledger.Append(context.Background(), s.envelopeID, []Event{
		event,
		s.event(EventSignerSigned, time.Minute+987654321*time.Nanosecond),
	})
	s.Require().NoError(err)

	for seq := int64(1); seq <= 2; seq++ {
		s.Require().True(s.store.Tamper(s.envelopeID, seq, func(e *Event) {
			e.Timestamp = e.Timestamp.Truncate(time.Microsecond)
		}))
	}

	ok, badSeq, err := s.ledger.Verify(context.Background(), s.envelopeID)
	s.Require().NoError(err)
	s.True(ok)
	s.Zero(badSeq)
}

func (s *LedgerSuite) TestAppendDedupsByEventID() {
	event := s.event(EventEnvelopeSent, 0)

	first, err := s.ledger.Append(context.Background(), s.envelopeID, []Event{event})
	s.Require().NoError(err)
	s.Require().Len(first, 1)

	// A retried command re-submits the same event ID; append is a no-op.
	second, err := s.ledger.Append(context.Background(), s.envelopeID, []Event{event})
	s.Require().NoError(err)
	s.Empty(second)

	all, err := s.ledger.List(context.Background(), s.envelopeID)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *LedgerSuite) TestChainsAreIndependentAcrossEnvelopes() {
	other := id.NewEnvelopeID()

	_, err := s.ledger.Append(context.Background(), s.envelopeID, []Event{s.event(EventEnvelopeSent, 0)})
	s.Require().NoError(err)
	appended, err := s.ledger.Append(context.Background(), other, []Event{s.event(EventEnvelopeSent, 0)})
	s.Require().NoError(err)

	s.Equal(int64(1), appended[0].Sequence)
	s.Equal(GenesisHash, appended[0].PrevHash)
}

func (s *LedgerSuite) TestRejectsEventWithoutID() {
	_, err := s.ledger.Append(context.Background(), s.envelopeID, []Event{{
		Type:      EventEnvelopeSent,
		Timestamp: s.now,
	}})
	s.Require().Error(err)
}
