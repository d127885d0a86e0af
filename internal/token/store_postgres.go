package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"signet/internal/sentinel"
	id "signet/pkg/domain"
)

// PostgresStore persists token records in PostgreSQL. Consume is a
// conditional update on the consumed flag, so exactly one terminal action
// wins under concurrent submission.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed token store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO invitation_tokens
			(id, envelope_id, signer_id, secret_hash, consumed, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID.String(), rec.EnvelopeID.String(), rec.SignerID.String(),
		rec.SecretHash, rec.IssuedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save invitation token: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, tokenID id.TokenID) (*Record, error) {
	query := `
		SELECT id, envelope_id, signer_id, secret_hash, consumed, issued_at, expires_at
		FROM invitation_tokens
		WHERE id = $1
	`
	var rec Record
	var rawID, rawEnvelope, rawSigner string
	err := s.db.QueryRowContext(ctx, query, tokenID.String()).Scan(
		&rawID, &rawEnvelope, &rawSigner, &rec.SecretHash, &rec.Consumed, &rec.IssuedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find invitation token: %w", err)
	}

	tid, err := id.ParseTokenID(rawID)
	if err != nil {
		return nil, err
	}
	envID, err := id.ParseEnvelopeID(rawEnvelope)
	if err != nil {
		return nil, err
	}
	sigID, err := id.ParseSignerID(rawSigner)
	if err != nil {
		return nil, err
	}
	rec.ID = tid
	rec.EnvelopeID = envID
	rec.SignerID = sigID
	return &rec, nil
}

func (s *PostgresStore) Consume(ctx context.Context, tokenID id.TokenID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invitation_tokens SET consumed = TRUE WHERE id = $1 AND consumed = FALSE`,
		tokenID.String(),
	)
	if err != nil {
		return fmt.Errorf("consume invitation token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume invitation token: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM invitation_tokens WHERE id = $1)`,
			tokenID.String(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("consume invitation token: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrAlreadyUsed
	}
	return nil
}
