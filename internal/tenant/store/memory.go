package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"framelight/internal/sentinel"
	"framelight/internal/tenant/models"
)

// InMemory stores tenants in memory for tests and the demo environment.
type InMemory struct {
	mu        sync.RWMutex
	tenants   map[uuid.UUID]*models.Tenant
	slugIdx   map[string]uuid.UUID
	domainIdx map[string]uuid.UUID
}

// NewInMemory creates an in-memory tenant store.
func NewInMemory() *InMemory {
	return &InMemory{
		tenants:   make(map[uuid.UUID]*models.Tenant),
		slugIdx:   make(map[string]uuid.UUID),
		domainIdx: make(map[string]uuid.UUID),
	}
}

// Create inserts the tenant if its slug is not already taken.
func (s *InMemory) Create(_ context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slug := strings.ToLower(t.Slug)
	if _, exists := s.slugIdx[slug]; exists {
		return fmt.Errorf("tenant slug must be unique: %w", sentinel.ErrConflict)
	}
	copied := *t
	s.tenants[t.ID] = &copied
	s.slugIdx[slug] = t.ID
	for _, d := range t.CustomDomains {
		s.domainIdx[strings.ToLower(d)] = t.ID
	}
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tenants[id]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindBySlug(_ context.Context, slug string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.slugIdx[strings.ToLower(slug)]; ok {
		copied := *s.tenants[id]
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByDomain(_ context.Context, domain string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.domainIdx[strings.ToLower(domain)]; ok {
		copied := *s.tenants[id]
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

// ActivateIfPending transitions pending -> active under the store lock, the
// in-memory analogue of a conditional UPDATE.
func (s *InMemory) ActivateIfPending(_ context.Context, id uuid.UUID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if t.Status != models.TenantStatusPending {
		return false, nil
	}
	t.Status = models.TenantStatusActive
	if name != "" {
		t.Name = name
	}
	t.UpdatedAt = time.Now()
	return true, nil
}

func (s *InMemory) AttachDomain(_ context.Context, id uuid.UUID, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	domain = strings.ToLower(domain)
	if owner, taken := s.domainIdx[domain]; taken && owner != id {
		return fmt.Errorf("domain already attached to another tenant: %w", sentinel.ErrConflict)
	}
	if !slices.Contains(t.CustomDomains, domain) {
		t.CustomDomains = append(t.CustomDomains, domain)
	}
	s.domainIdx[domain] = id
	t.UpdatedAt = time.Now()
	return nil
}

func (s *InMemory) DetachDomain(_ context.Context, id uuid.UUID, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	domain = strings.ToLower(domain)
	t.CustomDomains = slices.DeleteFunc(t.CustomDomains, func(d string) bool { return d == domain })
	delete(s.domainIdx, domain)
	t.UpdatedAt = time.Now()
	return nil
}

func (s *InMemory) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.slugIdx, strings.ToLower(t.Slug))
	for _, d := range t.CustomDomains {
		delete(s.domainIdx, strings.ToLower(d))
	}
	delete(s.tenants, id)
	return nil
}
