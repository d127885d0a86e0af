package store

import (
	"context"

	"signet/internal/envelope/models"
	id "signet/pkg/domain"
)

// Store persists the envelope aggregate with optimistic versioning.
//
// Error Contract:
// - Load and ListByTenant return sentinel.ErrNotFound when the envelope
//   does not exist
// - Save returns sentinel.ErrVersionConflict when expectedVersion no longer
//   matches the stored version; the write must be a single conditional
//   write at the storage boundary, never read-then-write
// - Create returns sentinel.ErrDuplicate for an existing ID
type Store interface {
	Create(ctx context.Context, envelope *models.Envelope) error
	Load(ctx context.Context, envelopeID id.EnvelopeID) (*models.Envelope, error)
	Save(ctx context.Context, envelope *models.Envelope, expectedVersion int64) error
	ListByTenant(ctx context.Context, tenantID id.TenantID) ([]*models.Envelope, error)
}
