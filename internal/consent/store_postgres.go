package consent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"signet/internal/sentinel"
	id "signet/pkg/domain"
)

// PostgresStore persists consent records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("consent record is required")
	}
	query := `
		INSERT INTO consents
			(id, envelope_id, signer_id, given_at, origin_ip, origin_device, origin_channel, delegated_from)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (envelope_id, signer_id) DO NOTHING
	`
	var delegatedFrom any
	if record.DelegatedFrom != nil {
		delegatedFrom = record.DelegatedFrom.String()
	}
	_, err := s.db.ExecContext(ctx, query,
		record.ID.String(),
		record.EnvelopeID.String(),
		record.SignerID.String(),
		record.GivenAt,
		record.Origin.IP,
		record.Origin.DeviceFingerprint,
		record.Origin.Channel,
		delegatedFrom,
	)
	if err != nil {
		return fmt.Errorf("save consent: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindBySigner(ctx context.Context, envelopeID id.EnvelopeID, signerID id.SignerID) (*Record, error) {
	query := `
		SELECT id, envelope_id, signer_id, given_at, origin_ip, origin_device, origin_channel, delegated_from
		FROM consents
		WHERE envelope_id = $1 AND signer_id = $2
	`
	var record Record
	var rawID, rawEnvelope, rawSigner string
	var delegatedFrom sql.NullString
	err := s.db.QueryRowContext(ctx, query, envelopeID.String(), signerID.String()).Scan(
		&rawID, &rawEnvelope, &rawSigner, &record.GivenAt,
		&record.Origin.IP, &record.Origin.DeviceFingerprint, &record.Origin.Channel,
		&delegatedFrom,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find consent: %w", err)
	}

	consentID, err := id.ParseConsentID(rawID)
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
	record.ID = consentID
	record.EnvelopeID = envID
	record.SignerID = sigID
	if delegatedFrom.Valid {
		src, err := id.ParseConsentID(delegatedFrom.String)
		if err != nil {
			return nil, err
		}
		record.DelegatedFrom = &src
	}
	return &record, nil
}
