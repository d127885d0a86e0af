package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"signet/internal/envelope/models"
	"signet/internal/sentinel"
	id "signet/pkg/domain"
)

// PostgresStore persists envelope aggregates in PostgreSQL. Save is a single
// conditional UPDATE on the version column; the roster is rewritten in the
// same transaction, so the aggregate never rests partially applied.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed envelope store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, envelope *models.Envelope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin envelope create tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO envelopes
			(id, tenant_id, title, status, signing_order, creator_id,
			 expires_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
	`,
		envelope.ID.String(), envelope.TenantID.String(), envelope.Title,
		string(envelope.Status), string(envelope.SigningOrder), envelope.CreatorID.String(),
		envelope.ExpiresAt, envelope.CreatedAt, envelope.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert envelope: %w", err)
	}

	if err := insertSigners(ctx, tx, envelope); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit envelope create tx: %w", err)
	}
	envelope.Version = 1
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, envelopeID id.EnvelopeID) (*models.Envelope, error) {
	envelope, err := scanEnvelope(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, title, status, signing_order, creator_id,
		       expires_at, version, created_at, updated_at
		FROM envelopes
		WHERE id = $1
	`, envelopeID.String()))
	if err != nil {
		return nil, err
	}
	if err := s.loadSigners(ctx, envelope); err != nil {
		return nil, err
	}
	return envelope, nil
}

func (s *PostgresStore) Save(ctx context.Context, envelope *models.Envelope, expectedVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin envelope save tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE envelopes
		SET title = $1, status = $2, signing_order = $3, expires_at = $4,
		    updated_at = $5, version = version + 1
		WHERE id = $6 AND version = $7
	`,
		envelope.Title, string(envelope.Status), string(envelope.SigningOrder),
		envelope.ExpiresAt, envelope.UpdatedAt,
		envelope.ID.String(), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update envelope: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update envelope: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM envelopes WHERE id = $1)`,
			envelope.ID.String(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("check envelope existence: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM envelope_signers WHERE envelope_id = $1`,
		envelope.ID.String(),
	); err != nil {
		return fmt.Errorf("clear envelope roster: %w", err)
	}
	if err := insertSigners(ctx, tx, envelope); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit envelope save tx: %w", err)
	}
	envelope.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID id.TenantID) ([]*models.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, title, status, signing_order, creator_id,
		       expires_at, version, created_at, updated_at
		FROM envelopes
		WHERE tenant_id = $1
		ORDER BY created_at
	`, tenantID.String())
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()

	var envelopes []*models.Envelope
	for rows.Next() {
		envelope, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, envelope)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	for _, envelope := range envelopes {
		if err := s.loadSigners(ctx, envelope); err != nil {
			return nil, err
		}
	}
	return envelopes, nil
}

func (s *PostgresStore) loadSigners(ctx context.Context, envelope *models.Envelope) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, display_name, role, order_index, status, is_owner,
		       consent_given, consent_at, signed_at, decline_reason
		FROM envelope_signers
		WHERE envelope_id = $1
		ORDER BY order_index, id
	`, envelope.ID.String())
	if err != nil {
		return fmt.Errorf("load envelope roster: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var signer models.Signer
		var rawID string
		var role, status string
		if err := rows.Scan(
			&rawID, &signer.Email, &signer.DisplayName, &role, &signer.OrderIndex,
			&status, &signer.IsOwner, &signer.ConsentGiven, &signer.ConsentAt,
			&signer.SignedAt, &signer.DeclineReason,
		); err != nil {
			return fmt.Errorf("scan envelope signer: %w", err)
		}
		signerID, err := id.ParseSignerID(rawID)
		if err != nil {
			return err
		}
		signer.ID = signerID
		signer.EnvelopeID = envelope.ID
		signer.Role = models.SignerRole(role)
		signer.Status = models.SignerStatus(status)
		envelope.Signers = append(envelope.Signers, signer)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load envelope roster: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (*models.Envelope, error) {
	var envelope models.Envelope
	var rawID, rawTenant, rawCreator string
	var status, order string
	err := row.Scan(
		&rawID, &rawTenant, &envelope.Title, &status, &order, &rawCreator,
		&envelope.ExpiresAt, &envelope.Version, &envelope.CreatedAt, &envelope.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan envelope: %w", err)
	}

	envelopeID, err := id.ParseEnvelopeID(rawID)
	if err != nil {
		return nil, err
	}
	tenantID, err := id.ParseTenantID(rawTenant)
	if err != nil {
		return nil, err
	}
	creatorID, err := id.ParseActorID(rawCreator)
	if err != nil {
		return nil, err
	}
	envelope.ID = envelopeID
	envelope.TenantID = tenantID
	envelope.CreatorID = creatorID
	envelope.Status = models.Status(status)
	envelope.SigningOrder = models.SigningOrder(order)
	return &envelope, nil
}

func insertSigners(ctx context.Context, tx *sql.Tx, envelope *models.Envelope) error {
	query := `
		INSERT INTO envelope_signers
			(id, envelope_id, email, display_name, role, order_index, status,
			 is_owner, consent_given, consent_at, signed_at, decline_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for _, signer := range envelope.Signers {
		if _, err := tx.ExecContext(ctx, query,
			signer.ID.String(), envelope.ID.String(), signer.Email, signer.DisplayName,
			string(signer.Role), signer.OrderIndex, string(signer.Status),
			signer.IsOwner, signer.ConsentGiven, signer.ConsentAt,
			signer.SignedAt, signer.DeclineReason,
		); err != nil {
			return fmt.Errorf("insert envelope signer: %w", err)
		}
	}
	return nil
}
