package store

import (
	"context"

	"github.com/google/uuid"

	"framelight/internal/tenant/models"
)

// Store defines tenant persistence.
// Error Contract: Find methods return sentinel.ErrNotFound (wrapped) when no
// tenant matches; Create returns sentinel.ErrConflict on slug collisions.
type Store interface {
	Create(ctx context.Context, t *models.Tenant) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	FindByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	// ActivateIfPending atomically transitions pending -> active. It reports
	// false without error when the tenant exists but is no longer pending, so
	// concurrent finalization races have exactly one winner.
	ActivateIfPending(ctx context.Context, id uuid.UUID, name string) (bool, error)
	AttachDomain(ctx context.Context, id uuid.UUID, domain string) error
	DetachDomain(ctx context.Context, id uuid.UUID, domain string) error
	Delete(ctx context.Context, id uuid.UUID) error
}
