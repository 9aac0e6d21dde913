// Package store defines the pluggable storage adapter the identity runtime
// operates through: CRUD over user, session, account, and verification
// records, every row carrying a tenant id.
package store

import (
	"context"

	"github.com/google/uuid"

	"framelight/internal/auth/models"
)

// Adapter is the identity runtime's persistence boundary.
// Error Contract: Find methods return sentinel.ErrNotFound (wrapped) when no
// record matches; unique violations surface as sentinel.ErrConflict.
type Adapter interface {
	CreateUser(ctx context.Context, u *models.User) error
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*models.User, error)
	UpdateUserRole(ctx context.Context, id uuid.UUID, role string) error
	DeleteUser(ctx context.Context, id uuid.UUID) error

	CreateAccount(ctx context.Context, a *models.Account) error
	FindAccount(ctx context.Context, tenantID uuid.UUID, provider, providerAccountID string) (*models.Account, error)

	CreateSession(ctx context.Context, s *models.Session) error
	FindSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	DeleteSessionsByUser(ctx context.Context, userID uuid.UUID) error

	CreateVerification(ctx context.Context, v *models.Verification) error
	// ConsumeVerification atomically looks up and deletes the record so a
	// value can be redeemed at most once.
	ConsumeVerification(ctx context.Context, identifier, value string) (*models.Verification, error)
}
