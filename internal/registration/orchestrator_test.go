package registration

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authModels "framelight/internal/auth/models"
	authStore "framelight/internal/auth/store"
	"framelight/internal/tenant/models"
	tenantStore "framelight/internal/tenant/store"
	dErrors "framelight/pkg/domain-errors"
	"framelight/pkg/testutil"
)

func newOrchestrator(t *testing.T) (*Orchestrator, tenantStore.Store, authStore.Adapter) {
	t.Helper()
	tenants := tenantStore.NewInMemory()
	identity := authStore.NewInMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(tenants, identity, nil, logger), tenants, identity
}

func seedUser(t *testing.T, identity authStore.Adapter, tenantID uuid.UUID) *authModels.User {
	t.Helper()
	now := time.Now()
	user := &authModels.User{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Email:     "owner@example.com",
		Role:      authModels.RoleMember,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, identity.CreateUser(context.Background(), user))
	return user
}

func seedPendingTenant(t *testing.T, tenants tenantStore.Store, slug string) *models.Tenant {
	t.Helper()
	tenant, err := models.NewPendingTenant(slug, time.Now())
	require.NoError(t, err)
	require.NoError(t, tenants.Create(context.Background(), tenant))
	return tenant
}

func TestFinalizeTenantPromotesPendingAndOwner(t *testing.T) {
	orch, tenants, identity := newOrchestrator(t)
	ctx := context.Background()

	pending := seedPendingTenant(t, tenants, "acme")
	user := seedUser(t, identity, pending.ID)

	finalized, err := orch.FinalizeTenant(ctx, pending.ID, user.ID, "acme", "Acme Inc")
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusActive, finalized.Status)
	assert.Equal(t, "Acme Inc", finalized.Name)

	promoted, err := identity.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, authModels.RoleAdmin, promoted.Role)
}

func TestFinalizeTenantSlugMismatchConflicts(t *testing.T) {
	orch, tenants, identity := newOrchestrator(t)
	ctx := context.Background()

	pending := seedPendingTenant(t, tenants, "acme")
	user := seedUser(t, identity, pending.ID)

	_, err := orch.FinalizeTenant(ctx, pending.ID, user.ID, "someone-elses-slug", "Acme")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	current, err := tenants.FindByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusPending, current.Status)
}

func TestFinalizeTenantAlreadyActiveConflicts(t *testing.T) {
	orch, tenants, identity := newOrchestrator(t)
	ctx := context.Background()

	pending := seedPendingTenant(t, tenants, "acme")
	user := seedUser(t, identity, pending.ID)

	_, err := orch.FinalizeTenant(ctx, pending.ID, user.ID, "acme", "Acme")
	require.NoError(t, err)

	_, err = orch.FinalizeTenant(ctx, pending.ID, user.ID, "acme", "Acme Again")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestFinalizeTenantUnknownTenant(t *testing.T) {
	orch, _, identity := newOrchestrator(t)

	user := seedUser(t, identity, uuid.New())
	_, err := orch.FinalizeTenant(context.Background(), uuid.New(), user.ID, "", "Acme")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

// vanishingStore drops the tenant row immediately after activation, modeling
// a concurrent delete between the status flip and the reload.
type vanishingStore struct {
	tenantStore.Store
}

func (s *vanishingStore) ActivateIfPending(ctx context.Context, id uuid.UUID, name string) (bool, error) {
	activated, err := s.Store.ActivateIfPending(ctx, id, name)
	if activated {
		_ = s.Store.Delete(ctx, id)
	}
	return activated, err
}

func TestFinalizeTenantReloadFailureIsTranslated(t *testing.T) {
	tenants := tenantStore.NewInMemory()
	identity := authStore.NewInMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := New(&vanishingStore{Store: tenants}, identity, nil, logger)

	pending := seedPendingTenant(t, tenants, "ghost")
	user := seedUser(t, identity, pending.ID)

	_, err := orch.FinalizeTenant(context.Background(), pending.ID, user.ID, "ghost", "Ghost")
	require.Error(t, err)
	var domainErr *dErrors.Error
	assert.ErrorAs(t, err, &domainErr)
}

func TestFinalizeTenantConcurrentSingleWinner(t *testing.T) {
	orch, tenants, identity := newOrchestrator(t)
	ctx := context.Background()

	pending := seedPendingTenant(t, tenants, "raceway")
	user := seedUser(t, identity, pending.ID)

	res := testutil.RunConcurrent(16, func(int) error {
		_, err := orch.FinalizeTenant(ctx, pending.ID, user.ID, "raceway", "Raceway")
		return err
	})

	assert.Equal(t, int32(1), res.Successes)
	assert.Equal(t, int32(15), res.Conflicts)

	final, err := tenants.FindByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusActive, final.Status)
}

func TestCreateTenantWithOwner(t *testing.T) {
	orch, _, identity := newOrchestrator(t)
	ctx := context.Background()

	owner := seedUser(t, identity, uuid.New())
	tenant, err := orch.CreateTenantWithOwner(ctx, "fresh", "Fresh Co", owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tenant.Slug)
	assert.Equal(t, models.TenantStatusActive, tenant.Status)

	promoted, err := identity.FindUserByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, authModels.RoleAdmin, promoted.Role)
}

func TestCreateTenantWithOwnerSuffixesTakenSlug(t *testing.T) {
	orch, tenants, identity := newOrchestrator(t)
	ctx := context.Background()

	seedPendingTenant(t, tenants, "taken")
	owner := seedUser(t, identity, uuid.New())

	tenant, err := orch.CreateTenantWithOwner(ctx, "taken", "Taken Co", owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "taken-2", tenant.Slug)

	third, err := orch.CreateTenantWithOwner(ctx, "taken", "Taken Again", owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "taken-3", third.Slug)
}

func TestCreateTenantWithOwnerRejectsBadSlug(t *testing.T) {
	orch, _, identity := newOrchestrator(t)
	owner := seedUser(t, identity, uuid.New())

	for _, slug := range []string{"", "Has Spaces", "www", "-leading"} {
		_, err := orch.CreateTenantWithOwner(context.Background(), slug, "Bad", owner.ID)
		require.Error(t, err, "slug %q", slug)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "slug %q", slug)
	}
}

func TestCreateTenantWithOwnerRollsBackOnMissingOwner(t *testing.T) {
	orch, tenants, _ := newOrchestrator(t)
	ctx := context.Background()

	_, err := orch.CreateTenantWithOwner(ctx, "orphan", "Orphan Co", uuid.New())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = tenants.FindBySlug(ctx, "orphan")
	require.Error(t, err, "tenant row should have been rolled back")
}

func TestCreateTenantWithOwnerRequiresOwner(t *testing.T) {
	orch, _, _ := newOrchestrator(t)

	_, err := orch.CreateTenantWithOwner(context.Background(), "no-owner", "No Owner", uuid.Nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestCreateTenantWithOwnerConcurrentUniqueSlugs(t *testing.T) {
	orch, tenants, identity := newOrchestrator(t)
	ctx := context.Background()

	owner := seedUser(t, identity, uuid.New())
	res := testutil.RunConcurrent(5, func(int) error {
		_, err := orch.CreateTenantWithOwner(ctx, "burst", "Burst", owner.ID)
		return err
	})
	assert.Equal(t, int32(5), res.Successes)

	seen := map[string]bool{}
	for _, slug := range []string{"burst", "burst-2", "burst-3", "burst-4", "burst-5"} {
		tenant, err := tenants.FindBySlug(ctx, slug)
		if err == nil {
			seen[tenant.Slug] = true
		}
	}
	assert.Len(t, seen, 5)
}
