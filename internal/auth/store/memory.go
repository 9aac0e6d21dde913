package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"framelight/internal/auth/models"
	"framelight/internal/sentinel"
)

// InMemory implements Adapter for tests and the demo environment.
type InMemory struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]*models.User
	emailIdx      map[string]uuid.UUID // tenantID|email -> user id
	accounts      map[string]*models.Account
	sessions      map[uuid.UUID]*models.Session
	verifications map[string]*models.Verification
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:         make(map[uuid.UUID]*models.User),
		emailIdx:      make(map[string]uuid.UUID),
		accounts:      make(map[string]*models.Account),
		sessions:      make(map[uuid.UUID]*models.Session),
		verifications: make(map[string]*models.Verification),
	}
}

func emailKey(tenantID uuid.UUID, email string) string {
	return tenantID.String() + "|" + strings.ToLower(email)
}

func accountKey(tenantID uuid.UUID, provider, providerAccountID string) string {
	return tenantID.String() + "|" + provider + "|" + providerAccountID
}

func (s *InMemory) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := emailKey(u.TenantID, u.Email)
	if _, exists := s.emailIdx[key]; exists {
		return fmt.Errorf("email already registered in tenant: %w", sentinel.ErrConflict)
	}
	copied := *u
	s.users[u.ID] = &copied
	s.emailIdx[key] = u.ID
	return nil
}

func (s *InMemory) FindUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindUserByEmail(_ context.Context, tenantID uuid.UUID, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.emailIdx[emailKey(tenantID, email)]; ok {
		copied := *s.users[id]
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) UpdateUserRole(_ context.Context, id uuid.UUID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = time.Now()
	return nil
}

func (s *InMemory) DeleteUser(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.emailIdx, emailKey(u.TenantID, u.Email))
	delete(s.users, id)
	return nil
}

func (s *InMemory) CreateAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountKey(a.TenantID, a.Provider, a.ProviderAccountID)
	if _, exists := s.accounts[key]; exists {
		return fmt.Errorf("account already linked: %w", sentinel.ErrConflict)
	}
	copied := *a
	s.accounts[key] = &copied
	return nil
}

func (s *InMemory) FindAccount(_ context.Context, tenantID uuid.UUID, provider, providerAccountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[accountKey(tenantID, provider, providerAccountID)]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) CreateSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	s.sessions[sess.ID] = &copied
	return nil
}

func (s *InMemory) FindSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		copied := *sess
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) DeleteSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *InMemory) DeleteSessionsByUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *InMemory) CreateVerification(_ context.Context, v *models.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *v
	s.verifications[v.Identifier+"|"+v.Value] = &copied
	return nil
}

func (s *InMemory) ConsumeVerification(_ context.Context, identifier, value string) (*models.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := identifier + "|" + value
	v, ok := s.verifications[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	delete(s.verifications, key)
	if time.Now().After(v.ExpiresAt) {
		return nil, sentinel.ErrExpired
	}
	copied := *v
	return &copied, nil
}
