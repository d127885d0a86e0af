package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signet/internal/sentinel"
)

// PostgresStore persists reservations in PostgreSQL. The primary key on
// (scope, key) makes Reserve an atomic insert-if-absent.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed reservation store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Reserve(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO idempotency_records (scope, key, payload_hash, completed, created_at, expires_at)
		VALUES ($1, $2, $3, FALSE, $4, $5)
		ON CONFLICT (scope, key) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, rec.Scope, rec.Key, rec.PayloadHash, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("reserve idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve idempotency record: %w", err)
	}
	if n == 0 {
		return sentinel.ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, scope, key string) (*Record, error) {
	query := `
		SELECT scope, key, payload_hash, result, completed, created_at, expires_at
		FROM idempotency_records
		WHERE scope = $1 AND key = $2
	`
	var rec Record
	var result sql.NullString
	err := s.db.QueryRowContext(ctx, query, scope, key).Scan(
		&rec.Scope, &rec.Key, &rec.PayloadHash, &result, &rec.Completed, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if result.Valid {
		rec.Result = []byte(result.String)
	}
	return &rec, nil
}

func (s *PostgresStore) Complete(ctx context.Context, scope, key string, result []byte) error {
	query := `
		UPDATE idempotency_records
		SET result = $3, completed = TRUE
		WHERE scope = $1 AND key = $2
	`
	res, err := s.db.ExecContext(ctx, query, scope, key, string(result))
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, scope, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE scope = $1 AND key = $2`, scope, key)
	if err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return int(n), nil
}
