package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"signet/internal/sentinel"
	id "signet/pkg/domain"
)

// PostgresStore persists audit chains in PostgreSQL. The unique index on
// (envelope_id, sequence) turns Append into a conditional write: a concurrent
// append that already claimed the head surfaces as a sequence conflict.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit append tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO audit_events
			(id, envelope_id, sequence, event_type, actor_id, actor_kind, actor_email,
			 occurred_at, metadata, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, event := range events {
		metadata, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx, query,
			event.ID.String(),
			event.EnvelopeID.String(),
			event.Sequence,
			string(event.Type),
			event.Actor.ID,
			event.Actor.Kind,
			event.Actor.Email,
			event.Timestamp,
			metadata,
			event.PrevHash,
			event.Hash,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return sentinel.ErrSequenceConflict
			}
			return fmt.Errorf("insert audit event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit append tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, envelopeID id.EnvelopeID) (*Event, error) {
	query := selectEvents + `
		WHERE envelope_id = $1
		ORDER BY sequence DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, envelopeID.String())
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load latest audit event: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) ListByEnvelope(ctx context.Context, envelopeID id.EnvelopeID) ([]Event, error) {
	query := selectEvents + `
		WHERE envelope_id = $1
		ORDER BY sequence ASC
	`
	rows, err := s.db.QueryContext(ctx, query, envelopeID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) Exists(ctx context.Context, envelopeID id.EnvelopeID, eventID id.EventID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM audit_events WHERE envelope_id = $1 AND id = $2)`,
		envelopeID.String(), eventID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check audit event presence: %w", err)
	}
	return exists, nil
}

const selectEvents = `
	SELECT id, envelope_id, sequence, event_type, actor_id, actor_kind, actor_email,
	       occurred_at, metadata, prev_hash, hash
	FROM audit_events
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var event Event
	var rawEventID, rawEnvelopeID, eventType string
	var metadata []byte
	if err := row.Scan(
		&rawEventID, &rawEnvelopeID, &event.Sequence, &eventType,
		&event.Actor.ID, &event.Actor.Kind, &event.Actor.Email,
		&event.Timestamp, &metadata, &event.PrevHash, &event.Hash,
	); err != nil {
		return nil, err
	}

	eventID, err := id.ParseEventID(rawEventID)
	if err != nil {
		return nil, err
	}
	envelopeID, err := id.ParseEnvelopeID(rawEnvelopeID)
	if err != nil {
		return nil, err
	}
	event.ID = eventID
	event.EnvelopeID = envelopeID
	event.Type = EventType(eventType)
	if len(metadata) > 0 {
		// UseNumber keeps numeric literals byte-stable so rehydrated events
		// hash identically during chain verification.
		dec := json.NewDecoder(bytes.NewReader(metadata))
		dec.UseNumber()
		if err := dec.Decode(&event.Metadata); err != nil {
			return nil, err
		}
	}
	return &event, nil
}
