package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles a user can hold within a tenant.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User is an identity scoped to exactly one tenant. The same email may exist
// in two different tenants as two unrelated users; uniqueness is per tenant.
type User struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Account links a user to one external identity provider account.
type Account struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	TenantID          uuid.UUID `json:"tenant_id"`
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"provider_account_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Session is a server-side session row backing an issued session token.
type Session struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	TenantID          uuid.UUID `json:"tenant_id"`
	DeviceFingerprint string    `json:"-"`
	ExpiresAt         time.Time `json:"expires_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// Verification holds a short-lived one-time value, currently the inner OAuth
// state issued at sign-in initiation.
type Verification struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Identifier string    `json:"identifier"`
	Value      string    `json:"value"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}
