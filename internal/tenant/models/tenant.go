package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "framelight/pkg/domain-errors"
	"framelight/pkg/hostutil"
)

// TenantStatus enumerates the tenant lifecycle states.
type TenantStatus string

const (
	// TenantStatusPending marks a tenant auto-provisioned on first auth
	// contact and not yet claimed by a finalized registration.
	TenantStatusPending TenantStatus = "pending"
	// TenantStatusActive marks a tenant claimed by a completed registration.
	TenantStatusActive TenantStatus = "active"
)

// Tenant is an isolated workspace. All identity and content rows are scoped
// to one tenant id, and the slug doubles as the tenant's subdomain label.
type Tenant struct {
	ID            uuid.UUID    `json:"id"`
	Slug          string       `json:"slug"`
	Name          string       `json:"name"`
	Status        TenantStatus `json:"status"`
	CustomDomains []string     `json:"custom_domains,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// NewTenant constructs an active tenant created through explicit registration.
func NewTenant(slug, name string, now time.Time) (*Tenant, error) {
	t, err := newTenant(slug, name, TenantStatusActive, now)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NewPendingTenant constructs a placeholder tenant auto-provisioned on first
// auth contact. The generated name marks it as unclaimed.
func NewPendingTenant(slug string, now time.Time) (*Tenant, error) {
	return newTenant(slug, slug+" (pending)", TenantStatusPending, now)
}

func newTenant(slug, name string, status TenantStatus, now time.Time) (*Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	name = strings.TrimSpace(name)
	if !hostutil.ValidSlug(slug) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant slug must be a lower-case url-safe label")
	}
	if hostutil.Reserved(slug) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant slug is reserved")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name must be 128 characters or less")
	}
	return &Tenant{
		ID:        uuid.New(),
		Slug:      slug,
		Name:      name,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Context is the request-scoped tenant resolution result. It is computed once
// per request and frozen for the request's lifetime.
type Context struct {
	Tenant *Tenant
	// IsPlaceholder is true exactly when the tenant is not yet active.
	IsPlaceholder bool
	// RequestedSlug preserves the slug the client asked for (from host or
	// state), which may differ from Tenant.Slug only while both refer to the
	// same pending tenant.
	RequestedSlug string
}

// NewContext derives the context invariants from the tenant itself.
func NewContext(t *Tenant, requestedSlug string) *Context {
	return &Context{
		Tenant:        t,
		IsPlaceholder: !t.IsActive(),
		RequestedSlug: requestedSlug,
	}
}
