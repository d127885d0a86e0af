// Package audit maintains the tamper-evident trail of envelope state changes.
// Events for one envelope form a single hash chain: each entry's hash commits
// to the previous entry's hash, so any out-of-band mutation is mechanically
// detectable by re-walking the chain.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"signet/internal/platform/metrics"
	"signet/internal/sentinel"
	"signet/pkg/canonical"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
)

// appendRetries bounds re-reads of the chain head when concurrent appends
// race on the same envelope. Appends are inherently serialized per envelope.
const appendRetries = 5

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// Ledger appends and verifies envelope hash chains.
type Ledger struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append chains the events onto the envelope's ledger. Sequence numbers are
// assigned here, gap-free, from the stored head; events whose IDs are already
// present are dropped rather than rejected, which makes appends safe under
// retried commands. When a concurrent append claims the head first, the write
// is retried from a re-read of the latest event.
func (l *Ledger) Append(ctx context.Context, envelopeID id.EnvelopeID, events []Event) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	for attempt := 0; attempt < appendRetries; attempt++ {
		pending, err := l.dedup(ctx, envelopeID, events)
		if err != nil {
			return nil, err
		}
		if len(pending) == 0 {
			return nil, nil
		}

		seq, prevHash, err := l.head(ctx, envelopeID)
		if err != nil {
			return nil, err
		}

		chained := make([]Event, 0, len(pending))
		for _, event := range pending {
			event.EnvelopeID = envelopeID
			seq++
			event.Sequence = seq
			event.PrevHash = prevHash
			hash, err := canonical.ChainDigest(prevHash, event.body())
			if err != nil {
				return nil, err
			}
			event.Hash = hash
			prevHash = hash
			chained = append(chained, event)
		}

		err = l.store.Append(ctx, chained)
		if err == nil {
			if l.metrics != nil {
				l.metrics.AuditEventsAppended.Add(float64(len(chained)))
			}
			return chained, nil
		}
		if !errors.Is(err, sentinel.ErrSequenceConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit events")
		}
		// Lost the head race; never guess the predecessor, re-read it.
		if l.logger != nil {
			l.logger.DebugContext(ctx, "audit append retried after sequence conflict",
				"envelope_id", envelopeID.String(),
				"attempt", attempt+1,
			)
		}
	}

	return nil, dErrors.New(dErrors.CodeStateConflict,
		"audit append contention exhausted retries for envelope "+envelopeID.String())
}

// Verify recomputes the chain from the first event. It operates on a snapshot
// and is safe to run concurrently with appends. On a mismatch it reports the
// first bad sequence number; it never repairs.
func (l *Ledger) Verify(ctx context.Context, envelopeID id.EnvelopeID) (bool, int64, error) {
	events, err := l.store.ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return false, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events")
	}

	prevHash := GenesisHash
	for i, event := range events {
		wantSeq := int64(i + 1)
		if event.Sequence != wantSeq {
			return l.fail(ctx, envelopeID, wantSeq, "sequence gap")
		}
		if event.PrevHash != prevHash {
			return l.fail(ctx, envelopeID, event.Sequence, "previous hash mismatch")
		}
		hash, err := canonical.ChainDigest(prevHash, event.body())
		if err != nil {
			return false, 0, err
		}
		if hash != event.Hash {
			return l.fail(ctx, envelopeID, event.Sequence, "hash mismatch")
		}
		prevHash = event.Hash
	}
	return true, 0, nil
}

// List returns the envelope's events in chain order.
func (l *Ledger) List(ctx context.Context, envelopeID id.EnvelopeID) ([]Event, error) {
	events, err := l.store.ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events")
	}
	return events, nil
}

func (l *Ledger) fail(ctx context.Context, envelopeID id.EnvelopeID, seq int64, reason string) (bool, int64, error) {
	if l.metrics != nil {
		l.metrics.AuditVerifyFailures.Inc()
	}
	if l.logger != nil {
		l.logger.ErrorContext(ctx, "audit_chain_broken",
			"envelope_id", envelopeID.String(),
			"sequence", seq,
			"reason", reason,
		)
	}
	return false, seq, nil
}

func (l *Ledger) head(ctx context.Context, envelopeID id.EnvelopeID) (int64, string, error) {
	latest, err := l.store.Latest(ctx, envelopeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, GenesisHash, nil
		}
		return 0, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit chain head")
	}
	return latest.Sequence, latest.Hash, nil
}

func (l *Ledger) dedup(ctx context.Context, envelopeID id.EnvelopeID, events []Event) ([]Event, error) {
	pending := make([]Event, 0, len(events))
	for _, event := range events {
		if event.ID.IsZero() {
			return nil, dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("audit event of type %s has no ID", event.Type))
		}
		exists, err := l.store.Exists(ctx, envelopeID, event.ID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check audit event presence")
		}
		if exists {
			continue
		}
		pending = append(pending, event)
	}
	return pending, nil
}
