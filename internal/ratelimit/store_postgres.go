package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists fixed-window counters in PostgreSQL. A single upsert
// either bumps the live window or replaces a closed one, so concurrent
// increments serialize on the row without an explicit lock.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed counter store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	if key == "" {
		return 0, time.Time{}, fmt.Errorf("rate limit key is required")
	}

	query := `
		INSERT INTO rate_limit_windows (key, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE
				WHEN rate_limit_windows.window_start <= $3 THEN 1
				ELSE rate_limit_windows.count + 1
			END,
			window_start = CASE
				WHEN rate_limit_windows.window_start <= $3 THEN $2
				ELSE rate_limit_windows.window_start
			END
		RETURNING count, window_start
	`
	cutoff := now.Add(-window)

	var count int
	var windowStart time.Time
	err := s.db.QueryRowContext(ctx, query, key, now, cutoff).Scan(&count, &windowStart)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("increment rate limit window: %w", err)
	}
	return count, windowStart, nil
}

func (s *PostgresStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_windows WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge rate limit windows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rate limit windows: %w", err)
	}
	return int(n), nil
}
